package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/logging"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/rpc"
	"github.com/dmitrijs2005/couplesync/internal/server/auth"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/services"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "super-secret"

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

type fakeUsers struct {
	registered *models.User
	regErr     error

	salt    []byte
	saltErr error

	pair     *services.TokenPair
	loginErr error

	refreshErr error

	profile    dm.User
	profileErr error
	profileFor [2]string
}

func (f *fakeUsers) Register(ctx context.Context, u *models.User) (*models.User, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	f.registered = u
	out := *u
	out.ID = "u-new"
	return &out, nil
}
func (f *fakeUsers) GetSalt(ctx context.Context, userName string) ([]byte, error) {
	return f.salt, f.saltErr
}
func (f *fakeUsers) Login(ctx context.Context, userName string, verifier []byte) (*services.TokenPair, error) {
	return f.pair, f.loginErr
}
func (f *fakeUsers) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	return f.pair, f.refreshErr
}
func (f *fakeUsers) Profile(ctx context.Context, callerID, targetID string) (dm.User, error) {
	f.profileFor = [2]string{callerID, targetID}
	return f.profile, f.profileErr
}

type fakePairing struct {
	code    dm.PairingCode
	couple  dm.Couple
	current *dm.Couple
	err     error
	calls   []string
}

func (f *fakePairing) Issue(ctx context.Context, issuerID string) (dm.PairingCode, error) {
	f.calls = append(f.calls, "issue:"+issuerID)
	return f.code, f.err
}
func (f *fakePairing) Redeem(ctx context.Context, code, redeemerID string) (dm.Couple, error) {
	f.calls = append(f.calls, "redeem:"+code+":"+redeemerID)
	return f.couple, f.err
}
func (f *fakePairing) Dissolve(ctx context.Context, coupleID, requesterID string) (dm.Couple, error) {
	f.calls = append(f.calls, "dissolve:"+coupleID+":"+requesterID)
	return f.couple, f.err
}
func (f *fakePairing) Current(ctx context.Context, userID string) (*dm.Couple, error) {
	f.calls = append(f.calls, "current:"+userID)
	return f.current, f.err
}

type fakeRecords struct {
	lastUser string
	lastOp   dm.Operation
	lastMut  dm.Mutation
	rec      dm.Record
	err      error

	page   services.Page
	stream []dm.ChangeEvent
}

func (f *fakeRecords) Write(ctx context.Context, userID string, op dm.Operation, m dm.Mutation) (dm.Record, error) {
	f.lastUser, f.lastOp, f.lastMut = userID, op, m
	return f.rec, f.err
}
func (f *fakeRecords) Get(ctx context.Context, userID, coupleID string, t dm.EntityType, id string) (dm.Record, error) {
	f.lastUser = userID
	return f.rec, f.err
}
func (f *fakeRecords) FetchSince(ctx context.Context, userID, coupleID string, since int64, limit int) (services.Page, error) {
	f.lastUser = userID
	return f.page, f.err
}
func (f *fakeRecords) Subscribe(ctx context.Context, userID, coupleID string, since int64, send func(dm.ChangeEvent) error) error {
	f.lastUser = userID
	for _, ev := range f.stream {
		if ev.Cursor <= since {
			continue
		}
		if err := send(ev); err != nil {
			return err
		}
	}
	return f.err
}

type fakeMedia struct {
	err error
}

func (f *fakeMedia) UploadURL(ctx context.Context, userID, coupleID, memoryID, contentType string) (string, string, time.Time, error) {
	if f.err != nil {
		return "", "", time.Time{}, f.err
	}
	return "https://s3/put", "couples/" + coupleID + "/memories/" + memoryID, time.Unix(100, 0).UTC(), nil
}
func (f *fakeMedia) DownloadURL(ctx context.Context, userID, coupleID, mediaRef string) (string, error) {
	return "https://s3/get/" + mediaRef, f.err
}

type fixture struct {
	users   *fakeUsers
	pairing *fakePairing
	records *fakeRecords
	media   *fakeMedia
	client  *rpc.CoupleSyncClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:   &fakeUsers{},
		pairing: &fakePairing{},
		records: &fakeRecords{},
		media:   &fakeMedia{},
	}
	s, err := NewGRPCServer("bufnet", nopLogger{}, Services{
		Users: f.users, Pairing: f.pairing, Records: f.records, Media: f.media,
	}, testSecret)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})

	f.client = rpc.NewCoupleSyncClient(conn)
	return f
}

func withToken(t *testing.T, userID string, ttl time.Duration) context.Context {
	t.Helper()
	token, err := auth.GenerateToken(userID, []byte(testSecret), ttl)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
}

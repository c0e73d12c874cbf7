package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// callTimeout bounds unary calls whose context has no deadline.
const callTimeout = 15 * time.Second

// api is the subset of *rpc.CoupleSyncClient the client uses.
type api interface {
	Ping(ctx context.Context, in *rpc.PingRequest, opts ...grpc.CallOption) (*rpc.PingResponse, error)
	RegisterUser(ctx context.Context, in *rpc.RegisterUserRequest, opts ...grpc.CallOption) (*rpc.RegisterUserResponse, error)
	GetSalt(ctx context.Context, in *rpc.GetSaltRequest, opts ...grpc.CallOption) (*rpc.GetSaltResponse, error)
	Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error)
	RefreshToken(ctx context.Context, in *rpc.RefreshTokenRequest, opts ...grpc.CallOption) (*rpc.RefreshTokenResponse, error)
	GetProfile(ctx context.Context, in *rpc.GetProfileRequest, opts ...grpc.CallOption) (*rpc.GetProfileResponse, error)
	IssuePairingCode(ctx context.Context, in *rpc.IssuePairingCodeRequest, opts ...grpc.CallOption) (*rpc.IssuePairingCodeResponse, error)
	RedeemPairingCode(ctx context.Context, in *rpc.RedeemPairingCodeRequest, opts ...grpc.CallOption) (*rpc.RedeemPairingCodeResponse, error)
	DissolveCouple(ctx context.Context, in *rpc.DissolveCoupleRequest, opts ...grpc.CallOption) (*rpc.DissolveCoupleResponse, error)
	GetCouple(ctx context.Context, in *rpc.GetCoupleRequest, opts ...grpc.CallOption) (*rpc.GetCoupleResponse, error)
	CreateRecord(ctx context.Context, in *rpc.WriteRecordRequest, opts ...grpc.CallOption) (*rpc.WriteRecordResponse, error)
	UpdateRecord(ctx context.Context, in *rpc.WriteRecordRequest, opts ...grpc.CallOption) (*rpc.WriteRecordResponse, error)
	DeleteRecord(ctx context.Context, in *rpc.WriteRecordRequest, opts ...grpc.CallOption) (*rpc.WriteRecordResponse, error)
	GetRecord(ctx context.Context, in *rpc.GetRecordRequest, opts ...grpc.CallOption) (*rpc.GetRecordResponse, error)
	FetchSince(ctx context.Context, in *rpc.FetchSinceRequest, opts ...grpc.CallOption) (*rpc.FetchSinceResponse, error)
	Subscribe(ctx context.Context, in *rpc.SubscribeRequest, opts ...grpc.CallOption) (rpc.SubscribeClient, error)
	MediaUploadURL(ctx context.Context, in *rpc.MediaUploadURLRequest, opts ...grpc.CallOption) (*rpc.MediaUploadURLResponse, error)
	MediaDownloadURL(ctx context.Context, in *rpc.MediaDownloadURLRequest, opts ...grpc.CallOption) (*rpc.MediaDownloadURLResponse, error)
}

var _ api = (*rpc.CoupleSyncClient)(nil)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      api

	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	// refreshMu lets one caller refresh while the others wait for the result.
	refreshMu sync.Mutex
}

var _ Client = (*GRPCClient)(nil)

func NewCoupleSyncClient(endpointURL string) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(c.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithStreamInterceptor(c.streamAccessTokenInterceptor),
	)
	if err != nil {
		return err
	}
	c.conn = conn
	c.client = rpc.NewCoupleSyncClient(conn)
	return nil
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SetTokens installs tokens obtained elsewhere, e.g. restored from disk.
func (c *GRPCClient) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken, c.refreshToken = access, refresh
}

func (c *GRPCClient) Tokens() (access, refresh string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.refreshToken
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

// refresh swaps the token pair. stale is the access token that was rejected;
// when another caller already replaced it, the new one is reused.
func (c *GRPCClient) refresh(ctx context.Context, stale string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	access, refresh := c.Tokens()
	if access != stale {
		return access, nil
	}
	if refresh == "" {
		return "", common.ErrUnauthorized
	}

	resp, err := c.client.RefreshToken(ctx, &rpc.RefreshTokenRequest{RefreshToken: refresh})
	if err != nil {
		return "", err
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return resp.AccessToken, nil
}

func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token, _ := c.Tokens()
	err := invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	if err == nil || !isTokenExpired(err) || method == rpc.FullMethod(rpc.MethodRefreshToken) {
		return err
	}

	token, rerr := c.refresh(ctx, token)
	if rerr != nil {
		return err
	}
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

// streamAccessTokenInterceptor only attaches the token. A server stream
// reports an expired token on its first Recv, which Subscribe handles.
func (c *GRPCClient) streamAccessTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	token, _ := c.Tokens()
	return streamer(withAccessToken(ctx, token), desc, cc, method, opts...)
}

func (c *GRPCClient) mapError(err error) error {
	return rpc.FromStatus(err)
}

func callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, callTimeout)
}

func (c *GRPCClient) Ping(ctx context.Context) (time.Time, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.Ping(ctx, &rpc.PingRequest{})
	if err != nil {
		return time.Time{}, c.mapError(err)
	}
	return resp.ServerTime, nil
}

func (c *GRPCClient) Register(ctx context.Context, username, displayName string, salt, verifier []byte) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	req := &rpc.RegisterUserRequest{Username: username, DisplayName: displayName, Salt: salt, Verifier: verifier}
	resp, err := c.client.RegisterUser(ctx, req)
	if err != nil {
		return "", c.mapError(err)
	}
	return resp.UserID, nil
}

func (c *GRPCClient) GetSalt(ctx context.Context, username string) ([]byte, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.GetSalt(ctx, &rpc.GetSaltRequest{Username: username})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Salt, nil
}

// Login stores the issued tokens and returns the user id.
func (c *GRPCClient) Login(ctx context.Context, username string, verifier []byte) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.Login(ctx, &rpc.LoginRequest{Username: username, Verifier: verifier})
	if err != nil {
		return "", c.mapError(err)
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return resp.UserID, nil
}

// Profile returns the caller's profile when userID is empty, otherwise the
// partner's.
func (c *GRPCClient) Profile(ctx context.Context, userID string) (models.User, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.GetProfile(ctx, &rpc.GetProfileRequest{UserID: userID})
	if err != nil {
		return models.User{}, c.mapError(err)
	}
	return resp.User, nil
}

func (c *GRPCClient) IssuePairingCode(ctx context.Context) (models.PairingCode, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.IssuePairingCode(ctx, &rpc.IssuePairingCodeRequest{})
	if err != nil {
		return models.PairingCode{}, c.mapError(err)
	}
	return resp.Code, nil
}

func (c *GRPCClient) RedeemPairingCode(ctx context.Context, code string) (models.Couple, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.RedeemPairingCode(ctx, &rpc.RedeemPairingCodeRequest{Code: code})
	if err != nil {
		return models.Couple{}, c.mapError(err)
	}
	return resp.Couple, nil
}

func (c *GRPCClient) DissolveCouple(ctx context.Context, coupleID string) (models.Couple, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.DissolveCouple(ctx, &rpc.DissolveCoupleRequest{CoupleID: coupleID})
	if err != nil {
		return models.Couple{}, c.mapError(err)
	}
	return resp.Couple, nil
}

// CurrentCouple returns nil when the user is not paired.
func (c *GRPCClient) CurrentCouple(ctx context.Context) (*models.Couple, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.GetCouple(ctx, &rpc.GetCoupleRequest{})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp.Couple, nil
}

type writeFunc func(ctx context.Context, in *rpc.WriteRecordRequest, opts ...grpc.CallOption) (*rpc.WriteRecordResponse, error)

func (c *GRPCClient) write(ctx context.Context, call writeFunc, m models.Mutation) (models.Record, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := call(ctx, &rpc.WriteRecordRequest{Mutation: m})
	if err != nil {
		return models.Record{}, c.mapError(err)
	}
	return resp.Record, nil
}

func (c *GRPCClient) CreateEntry(ctx context.Context, m models.Mutation) (models.Record, error) {
	return c.write(ctx, c.client.CreateRecord, m)
}

func (c *GRPCClient) UpdateEntry(ctx context.Context, m models.Mutation) (models.Record, error) {
	return c.write(ctx, c.client.UpdateRecord, m)
}

func (c *GRPCClient) DeleteEntry(ctx context.Context, m models.Mutation) (models.Record, error) {
	return c.write(ctx, c.client.DeleteRecord, m)
}

// GetEntry returns the stored record, including tombstones.
func (c *GRPCClient) GetEntry(ctx context.Context, coupleID string, key models.Key) (models.Record, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.GetRecord(ctx, &rpc.GetRecordRequest{CoupleID: coupleID, Type: key.Type, ID: key.ID})
	if err != nil {
		return models.Record{}, c.mapError(err)
	}
	return resp.Record, nil
}

func (c *GRPCClient) FetchSince(ctx context.Context, coupleID string, cursor int64, limit int) (Page, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.FetchSince(ctx, &rpc.FetchSinceRequest{CoupleID: coupleID, Cursor: cursor, Limit: limit})
	if err != nil {
		return Page{}, c.mapError(err)
	}
	return Page{Events: resp.Events, Cursor: resp.Cursor, More: resp.More}, nil
}

// Subscribe streams the changes of a couple after since into onEvent until
// ctx ends, the stream breaks or onEvent fails. It always returns an error:
// ctx.Err() on cancellation, the error of onEvent, or the mapped stream
// error (common.ErrUnavailable when the server went away).
func (c *GRPCClient) Subscribe(ctx context.Context, coupleID string, since int64, onEvent func(models.ChangeEvent) error) error {
	refreshed := false
	for {
		token, _ := c.Tokens()
		err := c.subscribe(ctx, coupleID, since, onEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var hErr *handlerError
		if errors.As(err, &hErr) {
			return hErr.err
		}
		if !refreshed && isTokenExpired(err) {
			refreshed = true
			if _, rerr := c.refresh(ctx, token); rerr == nil {
				continue
			}
		}
		if errors.Is(err, io.EOF) {
			return common.ErrUnavailable
		}
		return c.mapError(err)
	}
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func (c *GRPCClient) subscribe(ctx context.Context, coupleID string, since int64, onEvent func(models.ChangeEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.Subscribe(ctx, &rpc.SubscribeRequest{CoupleID: coupleID, Since: since})
	if err != nil {
		return err
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := onEvent(*ev); err != nil {
			return &handlerError{err: err}
		}
	}
}

func (c *GRPCClient) MediaUploadURL(ctx context.Context, coupleID, memoryID, contentType string) (UploadTarget, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	req := &rpc.MediaUploadURLRequest{CoupleID: coupleID, MemoryID: memoryID, ContentType: contentType}
	resp, err := c.client.MediaUploadURL(ctx, req)
	if err != nil {
		return UploadTarget{}, c.mapError(err)
	}
	return UploadTarget{URL: resp.URL, MediaRef: resp.MediaRef, ExpiresAt: resp.ExpiresAt}, nil
}

func (c *GRPCClient) MediaDownloadURL(ctx context.Context, coupleID, mediaRef string) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	resp, err := c.client.MediaDownloadURL(ctx, &rpc.MediaDownloadURLRequest{CoupleID: coupleID, MediaRef: mediaRef})
	if err != nil {
		return "", c.mapError(err)
	}
	return resp.URL, nil
}

package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/logging"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/rpc"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"github.com/dmitrijs2005/couplesync/internal/server/services"
	"google.golang.org/grpc"
)

// UserService is the account surface used by the handler.
type UserService interface {
	Register(ctx context.Context, u *models.User) (*models.User, error)
	GetSalt(ctx context.Context, userName string) ([]byte, error)
	Login(ctx context.Context, userName string, verifierCandidate []byte) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Profile(ctx context.Context, callerID, targetID string) (dm.User, error)
}

type PairingService interface {
	Issue(ctx context.Context, issuerID string) (dm.PairingCode, error)
	Redeem(ctx context.Context, code, redeemerID string) (dm.Couple, error)
	Dissolve(ctx context.Context, coupleID, requesterID string) (dm.Couple, error)
	Current(ctx context.Context, userID string) (*dm.Couple, error)
}

type RecordService interface {
	Write(ctx context.Context, userID string, op dm.Operation, m dm.Mutation) (dm.Record, error)
	Get(ctx context.Context, userID, coupleID string, t dm.EntityType, id string) (dm.Record, error)
	FetchSince(ctx context.Context, userID, coupleID string, since int64, limit int) (services.Page, error)
	Subscribe(ctx context.Context, userID, coupleID string, since int64, send func(dm.ChangeEvent) error) error
}

type MediaService interface {
	UploadURL(ctx context.Context, userID, coupleID, memoryID, contentType string) (string, string, time.Time, error)
	DownloadURL(ctx context.Context, userID, coupleID, mediaRef string) (string, error)
}

// Services groups the backends the handler dispatches to.
type Services struct {
	Users   UserService
	Pairing PairingService
	Records RecordService
	Media   MediaService
}

type GRPCServer struct {
	address   string
	users     UserService
	pairing   PairingService
	records   RecordService
	media     MediaService
	logger    logging.Logger
	jwtSecret []byte
}

var _ rpc.CoupleSyncServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, svc Services, secretKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     svc.Users,
		pairing:   svc.Pairing,
		records:   svc.Records,
		media:     svc.Media,
		jwtSecret: []byte(secretKey),
	}, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	rpc.RegisterCoupleSyncServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
// Open Subscribe streams must be ended first (see realtime.Hub.Shutdown) or
// GracefulStop waits for them.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

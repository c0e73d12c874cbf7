package rpc

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/couplesync/internal/models"
	"google.golang.org/grpc"
)

// CoupleSyncClient is a typed client for couplesync.v1.CoupleSync.
type CoupleSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewCoupleSyncClient(cc grpc.ClientConnInterface) *CoupleSyncClient {
	return &CoupleSyncClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoupleSyncClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *CoupleSyncClient) RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return invoke[RegisterUserResponse](ctx, c.cc, MethodRegisterUser, in, opts)
}

func (c *CoupleSyncClient) GetSalt(ctx context.Context, in *GetSaltRequest, opts ...grpc.CallOption) (*GetSaltResponse, error) {
	return invoke[GetSaltResponse](ctx, c.cc, MethodGetSalt, in, opts)
}

func (c *CoupleSyncClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *CoupleSyncClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	return invoke[RefreshTokenResponse](ctx, c.cc, MethodRefreshToken, in, opts)
}

func (c *CoupleSyncClient) GetProfile(ctx context.Context, in *GetProfileRequest, opts ...grpc.CallOption) (*GetProfileResponse, error) {
	return invoke[GetProfileResponse](ctx, c.cc, MethodGetProfile, in, opts)
}

func (c *CoupleSyncClient) IssuePairingCode(ctx context.Context, in *IssuePairingCodeRequest, opts ...grpc.CallOption) (*IssuePairingCodeResponse, error) {
	return invoke[IssuePairingCodeResponse](ctx, c.cc, MethodIssuePairingCode, in, opts)
}

func (c *CoupleSyncClient) RedeemPairingCode(ctx context.Context, in *RedeemPairingCodeRequest, opts ...grpc.CallOption) (*RedeemPairingCodeResponse, error) {
	return invoke[RedeemPairingCodeResponse](ctx, c.cc, MethodRedeemPairingCode, in, opts)
}

func (c *CoupleSyncClient) DissolveCouple(ctx context.Context, in *DissolveCoupleRequest, opts ...grpc.CallOption) (*DissolveCoupleResponse, error) {
	return invoke[DissolveCoupleResponse](ctx, c.cc, MethodDissolveCouple, in, opts)
}

func (c *CoupleSyncClient) GetCouple(ctx context.Context, in *GetCoupleRequest, opts ...grpc.CallOption) (*GetCoupleResponse, error) {
	return invoke[GetCoupleResponse](ctx, c.cc, MethodGetCouple, in, opts)
}

func (c *CoupleSyncClient) CreateRecord(ctx context.Context, in *WriteRecordRequest, opts ...grpc.CallOption) (*WriteRecordResponse, error) {
	return invoke[WriteRecordResponse](ctx, c.cc, MethodCreateRecord, in, opts)
}

func (c *CoupleSyncClient) UpdateRecord(ctx context.Context, in *WriteRecordRequest, opts ...grpc.CallOption) (*WriteRecordResponse, error) {
	return invoke[WriteRecordResponse](ctx, c.cc, MethodUpdateRecord, in, opts)
}

func (c *CoupleSyncClient) DeleteRecord(ctx context.Context, in *WriteRecordRequest, opts ...grpc.CallOption) (*WriteRecordResponse, error) {
	return invoke[WriteRecordResponse](ctx, c.cc, MethodDeleteRecord, in, opts)
}

func (c *CoupleSyncClient) GetRecord(ctx context.Context, in *GetRecordRequest, opts ...grpc.CallOption) (*GetRecordResponse, error) {
	return invoke[GetRecordResponse](ctx, c.cc, MethodGetRecord, in, opts)
}

func (c *CoupleSyncClient) FetchSince(ctx context.Context, in *FetchSinceRequest, opts ...grpc.CallOption) (*FetchSinceResponse, error) {
	return invoke[FetchSinceResponse](ctx, c.cc, MethodFetchSince, in, opts)
}

func (c *CoupleSyncClient) MediaUploadURL(ctx context.Context, in *MediaUploadURLRequest, opts ...grpc.CallOption) (*MediaUploadURLResponse, error) {
	return invoke[MediaUploadURLResponse](ctx, c.cc, MethodMediaUploadURL, in, opts)
}

func (c *CoupleSyncClient) MediaDownloadURL(ctx context.Context, in *MediaDownloadURLRequest, opts ...grpc.CallOption) (*MediaDownloadURLResponse, error) {
	return invoke[MediaDownloadURLResponse](ctx, c.cc, MethodMediaDownloadURL, in, opts)
}

// SubscribeClient is the client side of the Subscribe stream.
type SubscribeClient interface {
	Recv() (*models.ChangeEvent, error)
	grpc.ClientStream
}

type subscribeClient struct {
	grpc.ClientStream
}

func (s *subscribeClient) Recv() (*models.ChangeEvent, error) {
	ev := new(models.ChangeEvent)
	if err := s.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Subscribe opens the change stream of a couple starting after in.Since.
func (c *CoupleSyncClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodSubscribe), opts...)
	if err != nil {
		return nil, err
	}
	s := &subscribeClient{ClientStream: stream}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := s.ClientStream.SendMsg(in); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return s, nil
}

package rpc

import (
	"context"

	"github.com/dmitrijs2005/couplesync/internal/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "couplesync.v1.CoupleSync"

// Method names.
const (
	MethodPing              = "Ping"
	MethodRegisterUser      = "RegisterUser"
	MethodGetSalt           = "GetSalt"
	MethodLogin             = "Login"
	MethodRefreshToken      = "RefreshToken"
	MethodGetProfile        = "GetProfile"
	MethodIssuePairingCode  = "IssuePairingCode"
	MethodRedeemPairingCode = "RedeemPairingCode"
	MethodDissolveCouple    = "DissolveCouple"
	MethodGetCouple         = "GetCouple"
	MethodCreateRecord      = "CreateRecord"
	MethodUpdateRecord      = "UpdateRecord"
	MethodDeleteRecord      = "DeleteRecord"
	MethodGetRecord         = "GetRecord"
	MethodFetchSince        = "FetchSince"
	MethodSubscribe         = "Subscribe"
	MethodMediaUploadURL    = "MediaUploadURL"
	MethodMediaDownloadURL  = "MediaDownloadURL"
)

// FullMethod returns "/couplesync.v1.CoupleSync/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// CoupleSyncServer is implemented by the server's gRPC handler.
type CoupleSyncServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error)
	GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
	GetProfile(context.Context, *GetProfileRequest) (*GetProfileResponse, error)
	IssuePairingCode(context.Context, *IssuePairingCodeRequest) (*IssuePairingCodeResponse, error)
	RedeemPairingCode(context.Context, *RedeemPairingCodeRequest) (*RedeemPairingCodeResponse, error)
	DissolveCouple(context.Context, *DissolveCoupleRequest) (*DissolveCoupleResponse, error)
	GetCouple(context.Context, *GetCoupleRequest) (*GetCoupleResponse, error)
	CreateRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error)
	UpdateRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error)
	DeleteRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error)
	GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error)
	FetchSince(context.Context, *FetchSinceRequest) (*FetchSinceResponse, error)
	Subscribe(*SubscribeRequest, SubscribeServer) error
	MediaUploadURL(context.Context, *MediaUploadURLRequest) (*MediaUploadURLResponse, error)
	MediaDownloadURL(context.Context, *MediaDownloadURLRequest) (*MediaDownloadURLResponse, error)
}

// SubscribeServer is the server side of the Subscribe stream.
type SubscribeServer interface {
	Send(*models.ChangeEvent) error
	Context() context.Context
}

// UnimplementedCoupleSyncServer can be embedded to satisfy CoupleSyncServer
// partially, e.g. in tests.
type UnimplementedCoupleSyncServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedCoupleSyncServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return nil, unimplemented(MethodPing)
}
func (UnimplementedCoupleSyncServer) RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error) {
	return nil, unimplemented(MethodRegisterUser)
}
func (UnimplementedCoupleSyncServer) GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error) {
	return nil, unimplemented(MethodGetSalt)
}
func (UnimplementedCoupleSyncServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, unimplemented(MethodLogin)
}
func (UnimplementedCoupleSyncServer) RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error) {
	return nil, unimplemented(MethodRefreshToken)
}
func (UnimplementedCoupleSyncServer) GetProfile(context.Context, *GetProfileRequest) (*GetProfileResponse, error) {
	return nil, unimplemented(MethodGetProfile)
}
func (UnimplementedCoupleSyncServer) IssuePairingCode(context.Context, *IssuePairingCodeRequest) (*IssuePairingCodeResponse, error) {
	return nil, unimplemented(MethodIssuePairingCode)
}
func (UnimplementedCoupleSyncServer) RedeemPairingCode(context.Context, *RedeemPairingCodeRequest) (*RedeemPairingCodeResponse, error) {
	return nil, unimplemented(MethodRedeemPairingCode)
}
func (UnimplementedCoupleSyncServer) DissolveCouple(context.Context, *DissolveCoupleRequest) (*DissolveCoupleResponse, error) {
	return nil, unimplemented(MethodDissolveCouple)
}
func (UnimplementedCoupleSyncServer) GetCouple(context.Context, *GetCoupleRequest) (*GetCoupleResponse, error) {
	return nil, unimplemented(MethodGetCouple)
}
func (UnimplementedCoupleSyncServer) CreateRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error) {
	return nil, unimplemented(MethodCreateRecord)
}
func (UnimplementedCoupleSyncServer) UpdateRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error) {
	return nil, unimplemented(MethodUpdateRecord)
}
func (UnimplementedCoupleSyncServer) DeleteRecord(context.Context, *WriteRecordRequest) (*WriteRecordResponse, error) {
	return nil, unimplemented(MethodDeleteRecord)
}
func (UnimplementedCoupleSyncServer) GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error) {
	return nil, unimplemented(MethodGetRecord)
}
func (UnimplementedCoupleSyncServer) FetchSince(context.Context, *FetchSinceRequest) (*FetchSinceResponse, error) {
	return nil, unimplemented(MethodFetchSince)
}
func (UnimplementedCoupleSyncServer) Subscribe(*SubscribeRequest, SubscribeServer) error {
	return unimplemented(MethodSubscribe)
}
func (UnimplementedCoupleSyncServer) MediaUploadURL(context.Context, *MediaUploadURLRequest) (*MediaUploadURLResponse, error) {
	return nil, unimplemented(MethodMediaUploadURL)
}
func (UnimplementedCoupleSyncServer) MediaDownloadURL(context.Context, *MediaDownloadURLRequest) (*MediaDownloadURLResponse, error) {
	return nil, unimplemented(MethodMediaDownloadURL)
}

// unary builds a MethodDesc that decodes Req, runs the interceptor chain and
// dispatches to call.
func unary[Req any, Resp any](method string, call func(CoupleSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(CoupleSyncServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(ev *models.ChangeEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CoupleSyncServer).Subscribe(in, &subscribeServer{ServerStream: stream})
}

// ServiceDesc describes couplesync.v1.CoupleSync for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoupleSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, CoupleSyncServer.Ping),
		unary(MethodRegisterUser, CoupleSyncServer.RegisterUser),
		unary(MethodGetSalt, CoupleSyncServer.GetSalt),
		unary(MethodLogin, CoupleSyncServer.Login),
		unary(MethodRefreshToken, CoupleSyncServer.RefreshToken),
		unary(MethodGetProfile, CoupleSyncServer.GetProfile),
		unary(MethodIssuePairingCode, CoupleSyncServer.IssuePairingCode),
		unary(MethodRedeemPairingCode, CoupleSyncServer.RedeemPairingCode),
		unary(MethodDissolveCouple, CoupleSyncServer.DissolveCouple),
		unary(MethodGetCouple, CoupleSyncServer.GetCouple),
		unary(MethodCreateRecord, CoupleSyncServer.CreateRecord),
		unary(MethodUpdateRecord, CoupleSyncServer.UpdateRecord),
		unary(MethodDeleteRecord, CoupleSyncServer.DeleteRecord),
		unary(MethodGetRecord, CoupleSyncServer.GetRecord),
		unary(MethodFetchSince, CoupleSyncServer.FetchSince),
		unary(MethodMediaUploadURL, CoupleSyncServer.MediaUploadURL),
		unary(MethodMediaDownloadURL, CoupleSyncServer.MediaDownloadURL),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodSubscribe,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "couplesync/v1/couplesync.json",
}

// RegisterCoupleSyncServer registers srv on s.
func RegisterCoupleSyncServer(s grpc.ServiceRegistrar, srv CoupleSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

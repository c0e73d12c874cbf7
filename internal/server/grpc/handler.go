package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/dmitrijs2005/couplesync/internal/rpc"
	"github.com/dmitrijs2005/couplesync/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fail converts err into a status error and logs what the client will not see.
func (s *GRPCServer) fail(ctx context.Context, method string, err error) error {
	st := rpc.ToStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error(ctx, "request failed", "method", method, "error", err)
	}
	return st
}

func (s *GRPCServer) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{ServerTime: time.Now().UTC()}, nil
}

func (s *GRPCServer) RegisterUser(ctx context.Context, req *rpc.RegisterUserRequest) (*rpc.RegisterUserResponse, error) {
	u, err := s.users.Register(ctx, &models.User{
		UserName:    req.Username,
		DisplayName: req.DisplayName,
		AvatarRef:   req.AvatarRef,
		Salt:        req.Salt,
		Verifier:    req.Verifier,
	})
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodRegisterUser, err)
	}
	return &rpc.RegisterUserResponse{UserID: u.ID}, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *rpc.GetSaltRequest) (*rpc.GetSaltResponse, error) {
	salt, err := s.users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetSalt, err)
	}
	return &rpc.GetSaltResponse{Salt: salt}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	tp, err := s.users.Login(ctx, req.Username, req.Verifier)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodLogin, err)
	}
	return &rpc.LoginResponse{UserID: tp.UserID, AccessToken: tp.AccessToken, RefreshToken: tp.RefreshToken}, nil
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *rpc.RefreshTokenRequest) (*rpc.RefreshTokenResponse, error) {
	tp, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodRefreshToken, err)
	}
	return &rpc.RefreshTokenResponse{AccessToken: tp.AccessToken, RefreshToken: tp.RefreshToken}, nil
}

func (s *GRPCServer) GetProfile(ctx context.Context, req *rpc.GetProfileRequest) (*rpc.GetProfileResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetProfile, err)
	}
	u, err := s.users.Profile(ctx, userID, req.UserID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetProfile, err)
	}
	return &rpc.GetProfileResponse{User: u}, nil
}

func (s *GRPCServer) IssuePairingCode(ctx context.Context, req *rpc.IssuePairingCodeRequest) (*rpc.IssuePairingCodeResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodIssuePairingCode, err)
	}
	pc, err := s.pairing.Issue(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodIssuePairingCode, err)
	}
	return &rpc.IssuePairingCodeResponse{Code: pc}, nil
}

func (s *GRPCServer) RedeemPairingCode(ctx context.Context, req *rpc.RedeemPairingCodeRequest) (*rpc.RedeemPairingCodeResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodRedeemPairingCode, err)
	}
	c, err := s.pairing.Redeem(ctx, req.Code, userID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodRedeemPairingCode, err)
	}
	return &rpc.RedeemPairingCodeResponse{Couple: c}, nil
}

func (s *GRPCServer) DissolveCouple(ctx context.Context, req *rpc.DissolveCoupleRequest) (*rpc.DissolveCoupleResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodDissolveCouple, err)
	}
	c, err := s.pairing.Dissolve(ctx, req.CoupleID, userID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodDissolveCouple, err)
	}
	return &rpc.DissolveCoupleResponse{Couple: c}, nil
}

func (s *GRPCServer) GetCouple(ctx context.Context, req *rpc.GetCoupleRequest) (*rpc.GetCoupleResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetCouple, err)
	}
	c, err := s.pairing.Current(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetCouple, err)
	}
	return &rpc.GetCoupleResponse{Couple: c}, nil
}

func (s *GRPCServer) write(ctx context.Context, method string, op dm.Operation, req *rpc.WriteRecordRequest) (*rpc.WriteRecordResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, method, err)
	}
	rec, err := s.records.Write(ctx, userID, op, req.Mutation)
	if err != nil {
		return nil, s.fail(ctx, method, err)
	}
	return &rpc.WriteRecordResponse{Record: rec}, nil
}

func (s *GRPCServer) CreateRecord(ctx context.Context, req *rpc.WriteRecordRequest) (*rpc.WriteRecordResponse, error) {
	return s.write(ctx, rpc.MethodCreateRecord, dm.OpCreate, req)
}

func (s *GRPCServer) UpdateRecord(ctx context.Context, req *rpc.WriteRecordRequest) (*rpc.WriteRecordResponse, error) {
	return s.write(ctx, rpc.MethodUpdateRecord, dm.OpUpdate, req)
}

func (s *GRPCServer) DeleteRecord(ctx context.Context, req *rpc.WriteRecordRequest) (*rpc.WriteRecordResponse, error) {
	return s.write(ctx, rpc.MethodDeleteRecord, dm.OpDelete, req)
}

func (s *GRPCServer) GetRecord(ctx context.Context, req *rpc.GetRecordRequest) (*rpc.GetRecordResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetRecord, err)
	}
	rec, err := s.records.Get(ctx, userID, req.CoupleID, req.Type, req.ID)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodGetRecord, err)
	}
	return &rpc.GetRecordResponse{Record: rec}, nil
}

func (s *GRPCServer) FetchSince(ctx context.Context, req *rpc.FetchSinceRequest) (*rpc.FetchSinceResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodFetchSince, err)
	}
	p, err := s.records.FetchSince(ctx, userID, req.CoupleID, req.Cursor, req.Limit)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodFetchSince, err)
	}
	events := p.Events
	if events == nil {
		events = []dm.ChangeEvent{}
	}
	return &rpc.FetchSinceResponse{Events: events, Cursor: p.Cursor, More: p.More}, nil
}

func (s *GRPCServer) Subscribe(req *rpc.SubscribeRequest, stream rpc.SubscribeServer) error {
	ctx := stream.Context()
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return s.fail(ctx, rpc.MethodSubscribe, err)
	}

	s.logger.Debug(ctx, "subscriber attached", "couple_id", req.CoupleID, "user_id", userID, "since", req.Since)
	err = s.records.Subscribe(ctx, userID, req.CoupleID, req.Since, func(ev dm.ChangeEvent) error {
		return stream.Send(&ev)
	})
	s.logger.Debug(ctx, "subscriber detached", "couple_id", req.CoupleID, "user_id", userID, "error", err)
	return s.fail(ctx, rpc.MethodSubscribe, err)
}

func (s *GRPCServer) MediaUploadURL(ctx context.Context, req *rpc.MediaUploadURLRequest) (*rpc.MediaUploadURLResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodMediaUploadURL, err)
	}
	if s.media == nil {
		return nil, s.fail(ctx, rpc.MethodMediaUploadURL, common.ErrUnavailable)
	}
	url, ref, exp, err := s.media.UploadURL(ctx, userID, req.CoupleID, req.MemoryID, req.ContentType)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodMediaUploadURL, err)
	}
	return &rpc.MediaUploadURLResponse{URL: url, MediaRef: ref, ExpiresAt: exp}, nil
}

func (s *GRPCServer) MediaDownloadURL(ctx context.Context, req *rpc.MediaDownloadURLRequest) (*rpc.MediaDownloadURLResponse, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodMediaDownloadURL, err)
	}
	if s.media == nil {
		return nil, s.fail(ctx, rpc.MethodMediaDownloadURL, common.ErrUnavailable)
	}
	url, err := s.media.DownloadURL(ctx, userID, req.CoupleID, req.MediaRef)
	if err != nil {
		return nil, s.fail(ctx, rpc.MethodMediaDownloadURL, err)
	}
	return &rpc.MediaDownloadURLResponse{URL: url}, nil
}

package rpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatus converts a domain error into a gRPC status error. Known sentinels
// travel as the status message so the client can restore them with
// FromStatus; anything else becomes Internal without detail.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	for _, m := range statusTable {
		if errors.Is(err, m.err) {
			return status.Error(m.code, m.err.Error())
		}
	}
	return status.Error(codes.Internal, common.ErrInternal.Error())
}

var statusTable = []struct {
	err  error
	code codes.Code
}{
	{common.ErrNotFound, codes.NotFound},
	{common.ErrAlreadyExists, codes.AlreadyExists},
	{common.ErrVersionConflict, codes.Aborted},
	{common.ErrExpired, codes.FailedPrecondition},
	{common.ErrAlreadyPaired, codes.FailedPrecondition},
	{common.ErrAlreadyRedeemed, codes.FailedPrecondition},
	{common.ErrSelfPairing, codes.FailedPrecondition},
	{common.ErrNotPaired, codes.FailedPrecondition},
	{common.ErrNotAuthorized, codes.PermissionDenied},
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrRateLimited, codes.ResourceExhausted},
	{common.ErrUnavailable, codes.Unavailable},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrRefreshTokenExpired, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrUnauthorized, codes.Unauthenticated},
}

// FromStatus converts a gRPC error back into a domain error.
//
// Sentinels are matched by message first. Transport-level failures
// (Unavailable, DeadlineExceeded, Canceled by the peer) become
// common.ErrUnavailable so that callers never mistake them for a result.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if e := common.ErrorFromMessage(st.Message()); e != nil {
		return e
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return common.ErrUnavailable
	case codes.Aborted:
		return common.ErrVersionConflict
	case codes.ResourceExhausted:
		return common.ErrRateLimited
	case codes.NotFound:
		return common.ErrNotFound
	case codes.PermissionDenied:
		return common.ErrNotAuthorized
	case codes.Unauthenticated:
		return common.ErrUnauthorized
	case codes.InvalidArgument:
		return common.ErrValidation
	}
	return err
}

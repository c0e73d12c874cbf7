package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/couplesync/internal/common"
	"github.com/dmitrijs2005/couplesync/internal/rpc"
	"github.com/dmitrijs2005/couplesync/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newTestServer(secret string) *GRPCServer {
	s, _ := NewGRPCServer("127.0.0.1:0", nopLogger{}, Services{}, secret)
	return s
}

func TestInterceptor_PublicMethod_SkipsAuth(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(rpc.MethodLogin)}

	called := false
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, called)
}

func TestInterceptor_MissingToken(t *testing.T) {
	s := newTestServer("secret")
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(rpc.MethodCreateRecord)}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called without token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "missing token", st.Message())
}

func TestInterceptor_InvalidToken(t *testing.T) {
	s := newTestServer("secret")
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: "not-a-valid-jwt"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(rpc.MethodFetchSince)}

	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called for invalid token")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(ctx, nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.ErrorIs(t, rpc.FromStatus(err), common.ErrInvalidToken)
}

func TestInterceptor_ExpiredToken(t *testing.T) {
	s := newTestServer("secret")
	token, err := auth.GenerateToken("user-1", []byte("secret"), -time.Minute)
	require.NoError(t, err)
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(rpc.MethodGetCouple)}

	_, err = s.accessTokenInterceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, rpc.FromStatus(err), common.ErrTokenExpired)
}

func TestInterceptor_ValidToken_SetsUserID(t *testing.T) {
	s := newTestServer("super-secret")

	token, err := auth.GenerateToken("user-123", []byte("super-secret"), time.Hour)
	require.NoError(t, err)

	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(rpc.MethodIssuePairingCode)}

	var got string
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, err = UserIDFromContext(ctx)
		return "ok", err
	}

	_, err = s.accessTokenInterceptor(ctx, nil, info, h)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got)
}

func TestUserIDFromContext_Missing(t *testing.T) {
	_, err := UserIDFromContext(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

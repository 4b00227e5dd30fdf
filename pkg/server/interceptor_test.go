package server

import (
	"context"
	"testing"

	"seekcap-controlplane/pkg/errutil"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/seekcap.v1.Credits/Consume"}

func chain(interceptors []grpc.UnaryServerInterceptor, handler grpc.UnaryHandler) grpc.UnaryHandler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		next, ic := handler, interceptors[i]
		handler = func(ctx context.Context, req any) (any, error) {
			return ic(ctx, req, testInfo, next)
		}
	}
	return handler
}

func TestUnaryChainRecoversPanics(t *testing.T) {
	h := chain(UnaryInterceptors(zap.NewNop()), func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})

	_, err := h(context.Background(), struct{}{})
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestUnaryChainMapsDomainErrors(t *testing.T) {
	h := chain(UnaryInterceptors(zap.NewNop()), func(ctx context.Context, req any) (any, error) {
		return nil, errutil.Conflict("credit purchase was modified concurrently", nil)
	})

	_, err := h(context.Background(), struct{}{})
	require.Equal(t, codes.Aborted, status.Code(err))

	h = chain(UnaryInterceptors(zap.NewNop()), func(ctx context.Context, req any) (any, error) {
		return nil, errutil.InsufficientCredits(3, 10)
	})
	_, err = h(context.Background(), struct{}{})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestInterceptorLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := InterceptorLogger(zap.New(core))

	l.Log(context.Background(), logging.LevelWarn, "finished call", "grpc.code", "Aborted", "grpc.method", "Consume")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "finished call", entries[0].Message)
	require.Equal(t, "Aborted", entries[0].ContextMap()["grpc.code"])
	require.Equal(t, "Consume", entries[0].ContextMap()["grpc.method"])
}

package server

import (
	"context"
	"fmt"
	"runtime/debug"

	"seekcap-controlplane/pkg/errutil"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// UnaryInterceptors is the server chain, outermost first.
func UnaryInterceptors(l *zap.Logger) []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(RecoverPanic)),
		logging.UnaryServerInterceptor(InterceptorLogger(l), logging.WithLogOnEvents(logging.FinishCall)),
		validator.UnaryServerInterceptor(validator.WithFailFast()),
		ErrorInterceptor(),
	}
}

func StreamInterceptors(l *zap.Logger) []grpc.StreamServerInterceptor {
	return []grpc.StreamServerInterceptor{
		recovery.StreamServerInterceptor(recovery.WithRecoveryHandlerContext(RecoverPanic)),
		logging.StreamServerInterceptor(InterceptorLogger(l), logging.WithLogOnEvents(logging.FinishCall)),
		validator.StreamServerInterceptor(validator.WithFailFast()),
	}
}

// RecoverPanic logs the stack and answers with an internal status.
func RecoverPanic(ctx context.Context, p any) error {
	zap.L().Error("grpc handler panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
	return errutil.ToGRPCError(errutil.Internal("internal error", fmt.Errorf("panic: %v", p)))
}

// ErrorInterceptor converts errutil errors into gRPC status errors.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return resp, errutil.ToGRPCError(err)
		}
		return resp, nil
	}
}

// InterceptorLogger adapts zap to the middleware logging interface.
func InterceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				key = fmt.Sprint(fields[i])
			}
			zf = append(zf, zap.Any(key, fields[i+1]))
		}

		log := l.WithOptions(zap.AddCallerSkip(1)).With(zf...)
		switch lvl {
		case logging.LevelDebug:
			log.Debug(msg)
		case logging.LevelInfo:
			log.Info(msg)
		case logging.LevelWarn:
			log.Warn(msg)
		case logging.LevelError:
			log.Error(msg)
		default:
			log.Info(msg, zap.Int("level", int(lvl)))
		}
	})
}

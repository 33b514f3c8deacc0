package api

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// loggingInterceptor logs every RPC's method and duration. Grounded on
// pkg/api/interceptor.go's ReadOnlyInterceptor, but simplified: the
// teacher's interceptor distinguished read-only methods (List*/Get*/...)
// from write methods on a mixed-RPC service and rejected writes on a
// restricted listener. Every method IntrospectionServer exposes is
// already a Get*-shaped read, so there is no write path left to reject
// — the prefix check collapses to a log line instead of a permission
// decision.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", methodName(info.FullMethod)).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("introspection rpc handled")
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

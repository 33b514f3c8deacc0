package api

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Server hosts the introspection gRPC service over a plain TCP
// listener. Grounded on pkg/api/server.go's Server/NewServer/Start/Stop
// shape, stripped of the teacher's per-node mTLS setup (security.CertAuthority,
// client certificate verification): every RPC here is a read-only
// status query with no node-identity-sensitive write path to protect,
// so the certificate infrastructure the teacher's Server built around
// has nothing to authorize here. See DESIGN.md for the full rationale.
type Server struct {
	introspection *IntrospectionServer
	grpc          *grpc.Server
	logger        zerolog.Logger
}

// NewServer builds a Server around srv, installing the logging
// interceptor from interceptor.go.
func NewServer(srv *IntrospectionServer, logger zerolog.Logger) *Server {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	grpcServer.RegisterService(&ServiceDesc, srv)
	return &Server{introspection: srv, grpc: grpcServer, logger: logger}
}

// Start listens on addr and serves until Stop is called or Serve
// itself returns an error.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Info().Str("addr", addr).Msg("introspection gRPC server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the server, waiting for in-flight RPCs.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

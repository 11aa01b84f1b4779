package control

import (
	"marketfeed/internal/obslog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a *grpc.Server running Service plus the standard gRPC
// health-check service, reusing grpc-go's own generated health types
// instead of hand-rolling another service description for a well-known
// protocol.
func NewServer(svc *Service, log *obslog.Logger) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	Register(s, svc)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(s, healthSrv)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s, healthSrv
}

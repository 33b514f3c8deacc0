/*
Package api implements the read-only introspection service exposed
alongside a running scheduler: the gRPC IntrospectionServer
(GetPoolSnapshot, GetJobCounts, GetVMTypeDistribution, GetLeaderStatus)
plus the plain HTTP /health, /ready, and /metrics endpoints.

There is no write surface here. Cluster configuration changes flow
through pkg/config and pkg/leaderelect's replicated configuration, not
through this API; a client that wants a live view of scheduler state —
a CLI, a dashboard, another node checking who currently holds
leadership — calls one of the four RPCs above.

# Wire format

Every message is a plain JSON-tagged Go struct (see messages.go)
encoded with the codec in codec.go, registered under the name "proto"
so it becomes grpc-go's fallback codec whenever a call sets no
content-subtype. There are no protoc-generated types anywhere in this
service: ServiceDesc in service.go is a hand-written grpc.ServiceDesc
playing the role a .proto file's generated descriptor would normally
play, with HandlerType relaxed to the empty interface so
grpc.Server.RegisterService's implements-check always passes.

# Transport

Server wraps a grpc.Server over a plain TCP listener with a single
logging interceptor (interceptor.go). The teacher's own pkg/api built
its server around per-node mTLS (pkg/security's CertAuthority, client
certificate verification keyed to each manager's node identity) because
its RPCs could create nodes, services, and secrets cluster-wide; this
service has no such write path to protect, so that certificate
infrastructure has nothing left to authorize here and was not carried
forward (see DESIGN.md).
*/
package api

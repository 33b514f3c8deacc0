package api

import (
	"context"
	"sort"
	"time"

	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"google.golang.org/grpc"
)

// LeaderChecker reports local raft leadership, satisfied by
// *leaderelect.Elector. Declared locally the same way
// metrics.LeaderChecker is, to avoid pkg/api depending on pkg/leaderelect
// for a single two-method capability.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddr() string
}

// IntrospectionServer backs the cloud-scheduler introspection service:
// read-only views over the resource pool, job pool, and leader status.
// Every method is a Get*/List*-shaped query; there is intentionally no
// write surface, since no external client should mutate scheduler
// state directly (configuration changes flow through pkg/config and
// pkg/leaderelect, not this API).
type IntrospectionServer struct {
	pool   *pool.ResourcePool
	jobs   *jobpool.JobPool
	leader LeaderChecker

	clusterNames []string
}

// NewIntrospectionServer builds a server over rp/jp. leader may be nil
// if the deployment runs without leader election. clusterNames lists
// every configured cluster name, since ResourcePool does not expose
// cluster iteration directly.
func NewIntrospectionServer(rp *pool.ResourcePool, jp *jobpool.JobPool, leader LeaderChecker, clusterNames []string) *IntrospectionServer {
	names := make([]string, len(clusterNames))
	copy(names, clusterNames)
	sort.Strings(names)
	return &IntrospectionServer{pool: rp, jobs: jp, leader: leader, clusterNames: names}
}

// GetPoolSnapshot reports every cluster's current occupancy.
func (s *IntrospectionServer) GetPoolSnapshot(ctx context.Context, req *PoolSnapshotRequest) (*PoolSnapshotResponse, error) {
	resp := &PoolSnapshotResponse{Timestamp: time.Now()}
	for _, name := range s.clusterNames {
		c, ok := s.pool.GetCluster(name)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(c.VMs))
		for id := range c.VMs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		resp.Clusters = append(resp.Clusters, ClusterStatus{
			Name:      c.Name,
			CloudType: c.CloudType,
			VMCount:   len(c.VMs),
			VMIDs:     ids,
		})
	}
	resp.VMCount = s.pool.VMCount()
	return resp, nil
}

// GetJobCounts reports the job pool's scheduled/unscheduled split.
func (s *IntrospectionServer) GetJobCounts(ctx context.Context, req *JobCountsRequest) (*JobCountsResponse, error) {
	unscheduled, scheduled := s.jobs.Counts()
	return &JobCountsResponse{Unscheduled: unscheduled, Scheduled: scheduled}, nil
}

// GetVMTypeDistribution reports the pool's current vmtype distribution.
func (s *IntrospectionServer) GetVMTypeDistribution(ctx context.Context, req *VMTypeDistributionRequest) (*VMTypeDistributionResponse, error) {
	return &VMTypeDistributionResponse{Distribution: s.pool.VMTypeDistribution()}, nil
}

// GetLeaderStatus reports this node's raft leadership status.
func (s *IntrospectionServer) GetLeaderStatus(ctx context.Context, req *LeaderStatusRequest) (*LeaderStatusResponse, error) {
	if s.leader == nil {
		return &LeaderStatusResponse{}, nil
	}
	return &LeaderStatusResponse{IsLeader: s.leader.IsLeader(), LeaderAddr: s.leader.LeaderAddr()}, nil
}

// serviceName is the gRPC service path component ("/<serviceName>/<method>"),
// named the way the teacher's proto.WarrenAPI service is.
const serviceName = "cloudscheduler.Introspection"

// ServiceDesc is the hand-written grpc.ServiceDesc standing in for the
// protoc-generated descriptor a .proto file would normally produce.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetPoolSnapshot",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(PoolSnapshotRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*IntrospectionServer)
				if interceptor == nil {
					return s.GetPoolSnapshot(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetPoolSnapshot"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.GetPoolSnapshot(ctx, req.(*PoolSnapshotRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetJobCounts",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(JobCountsRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*IntrospectionServer)
				if interceptor == nil {
					return s.GetJobCounts(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetJobCounts"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.GetJobCounts(ctx, req.(*JobCountsRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetVMTypeDistribution",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(VMTypeDistributionRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*IntrospectionServer)
				if interceptor == nil {
					return s.GetVMTypeDistribution(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetVMTypeDistribution"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.GetVMTypeDistribution(ctx, req.(*VMTypeDistributionRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "GetLeaderStatus",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(LeaderStatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				s := srv.(*IntrospectionServer)
				if interceptor == nil {
					return s.GetLeaderStatus(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetLeaderStatus"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return s.GetLeaderStatus(ctx, req.(*LeaderStatusRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cloud-scheduler/introspection",
}

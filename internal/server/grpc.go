package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/procedo/internal/common"
	"github.com/joseph-ayodele/procedo/internal/entity"
)

const (
	CaseStatusServiceName = "procedo.v1.CaseStatus"
	GetCaseStatusMethod   = "/" + CaseStatusServiceName + "/GetCaseStatus"
)

// CaseStatusServer answers status polls from internal services. Requests
// and responses are google.protobuf.Struct so no generated code is needed:
// the request carries org_id and case_id, the response is the poll view.
type CaseStatusServer interface {
	GetCaseStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// StatusReader is the slice of the analysis service the gRPC side needs.
type StatusReader interface {
	Status(ctx context.Context, orgID string, caseID uuid.UUID) (*entity.CaseStatus, error)
}

var CaseStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: CaseStatusServiceName,
	HandlerType: (*CaseStatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCaseStatus", Handler: getCaseStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "procedo/v1/case_status.proto",
}

func getCaseStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CaseStatusServer).GetCaseStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetCaseStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CaseStatusServer).GetCaseStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type CaseStatusService struct {
	cases  StatusReader
	logger *zap.Logger
}

func NewCaseStatusService(cases StatusReader, logger *zap.Logger) *CaseStatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseStatusService{cases: cases, logger: logger}
}

func (s *CaseStatusService) GetCaseStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	orgID := fields["org_id"].GetStringValue()
	if orgID == "" {
		return nil, status.Error(codes.InvalidArgument, "org_id is required")
	}
	id, err := uuid.Parse(fields["case_id"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "case_id must be a valid UUID")
	}

	st, err := s.cases.Status(ctx, orgID, id)
	if err != nil {
		s.logger.Warn("get case status failed", zap.String("case_id", id.String()), zap.Error(err))
		return nil, common.GRPCError(err)
	}

	b, err := json.Marshal(st)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode status failed")
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		s.logger.Warn("status to struct failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "encode status failed")
	}
	return out, nil
}

// NewGRPCServer builds a server with health, reflection and the status service.
func NewGRPCServer(svc CaseStatusServer, logger *zap.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(CaseStatusServiceName, healthpb.HealthCheckResponse_SERVING)
	// reflection for grpcurl
	reflection.Register(srv)

	srv.RegisterService(&CaseStatusServiceDesc, svc)
	return srv, hs
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// Package grpc exposes the record service over gRPC. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/access"
	"github.com/dmitrijs2005/counselkeeper/internal/server/archive"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/dmitrijs2005/counselkeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RecordService is the business API the handlers call.
type RecordService interface {
	Create(ctx context.Context, caller *access.Caller, p services.CreateParams) (string, error)
	Read(ctx context.Context, caller *access.Caller, id string) (*services.RecordView, error)
	Update(ctx context.Context, caller *access.Caller, id string, p services.UpdateParams) error
	Delete(ctx context.Context, caller *access.Caller, id string) error
	List(ctx context.Context, caller *access.Caller, f models.RecordFilter) ([]services.ListItem, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*access.Caller, error)
}

type AuditExporter interface {
	ExportDay(ctx context.Context, caller *access.Caller, day time.Time) (*archive.Export, error)
}

type RateObserver interface {
	RateLimited()
}

type GRPCServer struct {
	address  string
	records  RecordService
	identity IdentityResolver
	exporter AuditExporter
	limiter  *limiterSet
	metrics  RateObserver
	logger   logging.Logger
}

type Option func(*GRPCServer)

// WithRateLimit allows each caller rps requests per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *GRPCServer) { s.limiter = newLimiterSet(rps, burst, time.Now) }
}

func WithExporter(e AuditExporter) Option {
	return func(s *GRPCServer) { s.exporter = e }
}

func WithRateObserver(o RateObserver) Option {
	return func(s *GRPCServer) { s.metrics = o }
}

func NewGRPCServer(a string, l logging.Logger, records RecordService, identity IdentityResolver, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		records:  records,
		identity: identity,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.identityInterceptor, s.rateLimitInterceptor))
	srv.RegisterService(&RecordServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(RecordServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}

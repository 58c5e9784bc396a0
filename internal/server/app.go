// Package server wires the counselkeeper server: record key, cipher, audit
// trail, PostgreSQL repositories, the gRPC endpoint and the metrics endpoint.
// It also handles graceful shutdown on SIGINT, SIGTERM and SIGQUIT.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"github.com/dmitrijs2005/counselkeeper/internal/cryptox"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/archive"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/config"
	"github.com/dmitrijs2005/counselkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/counselkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/counselkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/counselkeeper/internal/server/grpc"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	metrics    *metrics.Metrics
	grpcServer *gs.GRPCServer
}

// openDB is a seam for tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// NewApp validates the record key, connects to the database and applies
// migrations. A missing or malformed record key is fatal.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.New(os.Stdout, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	keys := cryptox.NewKeyProvider(c.RecordKey)
	engine, err := cryptox.NewEngine(keys)
	if err != nil {
		return nil, fmt.Errorf("cipher init error: %w", err)
	}
	chain, err := auditChain(keys)
	if err != nil {
		return nil, err
	}

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	m := metrics.New()
	trail := rm.Audit(db, chain)
	auditor := audit.NewLogger(trail, logger, audit.WithFailureObserver(m))

	records := services.NewRecordService(db, rm, engine, auditor, c,
		services.WithRecordObserver(m),
		services.WithRecordLogger(logger),
	)
	identity := services.NewIdentityService(db, rm, c)

	opts := []gs.Option{
		gs.WithRateLimit(c.RateLimit, c.RateBurst),
		gs.WithRateObserver(m),
	}
	if c.S3Bucket != "" {
		store, err := archive.NewS3Store(ctx, c)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("archive store init error: %w", err)
		}
		opts = append(opts, gs.WithExporter(archive.NewExporter(trail, store, clock.RealClock{}, logger)))
	}

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		metrics:    m,
		grpcServer: gs.NewGRPCServer(c.EndpointAddrGRPC, logger, records, identity, opts...),
	}, nil
}

// auditChain keys the audit hash chain with a subkey of the record key.
func auditChain(keys cryptox.KeySource) (*audit.Chain, error) {
	k, err := cryptox.DeriveSubkey(keys, cryptox.AuditChainInfo)
	if err != nil {
		return nil, fmt.Errorf("audit chain key error: %w", err)
	}
	defer common.WipeByteArray(k)
	return audit.NewChain(k), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, "grpc server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())

	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "metrics server shutdown failed", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is canceled or a signal arrives, then drains both
// servers and closes the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}

// Package service wires the Aggregator, Broadcaster, Session Manager,
// Ingest Adapter, History Adapter, HTTP surface and control plane into one
// runnable unit via explicit constructor injection rather than singletons.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/broadcaster"
	"marketfeed/internal/candle"
	"marketfeed/internal/config"
	"marketfeed/internal/control"
	"marketfeed/internal/history"
	"marketfeed/internal/httpapi"
	"marketfeed/internal/ingest"
	"marketfeed/internal/obslog"
	"marketfeed/internal/session"
)

const shutdownGracePeriod = 5 * time.Second

// Service is the fully wired application.
type Service struct {
	cfg *config.Config
	log *obslog.Logger

	agg     *aggregator.Aggregator
	bcast   *broadcaster.Broadcaster
	manager *session.Manager
	symbols *session.SymbolAllowList
	adapter *ingest.Adapter
	store   history.Fetcher

	httpServer *http.Server
	grpcServer interface {
		Serve(net.Listener) error
		GracefulStop()
	}
}

// New constructs every component but starts nothing.
func New(cfg *config.Config, log *obslog.Logger) (*Service, error) {
	store, err := openStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	agg := aggregator.New()
	bcast := broadcaster.New(agg, log.With("broadcaster"))
	symbols := session.NewSymbolAllowList(cfg.Symbols...)
	manager := session.NewManager(agg, bcast, store, symbols, log.With("session"))

	adapter := ingest.New(cfg.Upstream.RedisAddr, cfg.Upstream.RedisPassword, cfg.Upstream.RedisDB, cfg.Symbols, agg, bcast, store, log.With("ingest"))

	httpSrv := httpapi.New(cfg.LogLevel == "debug", manager, bcast, manager, log.With("httpapi"))

	controlSvc := control.NewService(bcast, manager, symbols)
	grpcSrv, _ := control.NewServer(controlSvc, log.With("control"))

	return &Service{
		cfg:     cfg,
		log:     log,
		agg:     agg,
		bcast:   bcast,
		manager: manager,
		symbols: symbols,
		adapter: adapter,
		store:   store,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: httpSrv.Handler(),
		},
		grpcServer: grpcSrv,
	}, nil
}

func openStore(cfg *config.Config, log *obslog.Logger) (history.Fetcher, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return history.OpenPostgresStore(context.Background(), cfg.Storage.PostgresDSN, log.With("history"))
	default:
		return history.OpenSQLiteStore(cfg.Storage.SQLitePath, log.With("history"))
	}
}

// Warmup fetches MAX_1M 1m candles for every configured symbol and seeds
// the Aggregator, per the History Adapter's startup-warming contract.
// Failures are logged and otherwise non-fatal.
func (s *Service) Warmup(ctx context.Context) {
	for _, sym := range s.cfg.Symbols {
		bars, err := s.store.Fetch(ctx, sym, candle.Interval1m, aggregator.MaxOneMinuteBars)
		if err != nil {
			s.log.Warning("service: warmup fetch failed for %s: %v", sym, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		s.agg.Initialize(sym, bars)
		s.log.Info("service: warmed %s with %d bars", sym, len(bars))
	}
}

// Run starts every background component and blocks until ctx is canceled,
// then shuts down within shutdownGracePeriod.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go s.bcast.Run(runCtx)
	go s.adapter.Run(runCtx)
	go s.manager.RunHeartbeat(runCtx)

	go func() {
		grpcAddr := fmt.Sprintf("%s:%d", s.cfg.GRPC.Host, s.cfg.GRPC.Port)
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		s.log.Info("service: control plane listening on %s", grpcAddr)
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	go func() {
		s.log.Info("service: http listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.log.Error("service: component failed: %v", err)
	}

	return s.shutdown()
}

func (s *Service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	s.manager.Shutdown()
	s.grpcServer.GracefulStop()
	_ = s.adapter.Close()
	_ = s.store.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

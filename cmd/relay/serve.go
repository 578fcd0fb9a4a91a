package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
	"github.com/dgnsrekt/livetiming-relay/internal/bootstrap"
	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/config"
	"github.com/dgnsrekt/livetiming-relay/internal/feed"
	"github.com/dgnsrekt/livetiming-relay/internal/ingest"
	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
	"github.com/dgnsrekt/livetiming-relay/internal/notify"
	"github.com/dgnsrekt/livetiming-relay/internal/server"
	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
	"github.com/dgnsrekt/livetiming-relay/internal/simulation"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

func serveCmd() *cobra.Command {
	var (
		port     string
		simulate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("simulate") {
				cfg.Simulation.Enabled = simulate
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "start the simulated feed at startup")

	return cmd
}

func newFetcher(cfg *config.Config, onResult bootstrap.ResultFunc, logger *zap.Logger) *bootstrap.Fetcher {
	return bootstrap.NewFetcher(bootstrap.Options{
		BaseURL:     cfg.Bootstrap.BaseURL,
		SessionPath: cfg.Bootstrap.SessionPath,
		Workers:     cfg.Bootstrap.Workers,
		RatePerSec:  cfg.Bootstrap.RatePerSec,
		Timeout:     cfg.Bootstrap.Timeout,
		RetryCount:  cfg.Bootstrap.RetryCount,
		RetryDelay:  cfg.Bootstrap.RetryDelay,
	}, onResult, logger)
}

// runSource runs src in its own goroutine until ctx is cancelled.
func runSource(ctx context.Context, wg *sync.WaitGroup, name string, src ingest.Source, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("source exited", zap.String("source", name), zap.Error(err))
		}
	}()
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Bool("upstream", cfg.Upstream.Enabled),
		zap.String("upstreamURL", cfg.Upstream.BaseURL),
		zap.Bool("bootstrap", cfg.Bootstrap.Enabled),
		zap.String("sessionPath", cfg.Bootstrap.SessionPath),
		zap.Bool("simulation", cfg.Simulation.Enabled),
		zap.Bool("auth", cfg.Auth.Enabled()),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	m := metrics.New()

	hub := broadcast.NewHub(broadcast.Options{
		RecentCapacity: cfg.Broadcast.RecentCapacity,
		ReplayRecent:   cfg.Broadcast.ReplayRecent,
		SendBuffer:     cfg.Broadcast.SendBuffer,
		KeepAlive:      cfg.Broadcast.KeepAlive,
		Observer:       m,
	}, logger.Named("broadcast"))

	decoder := feed.NewDecoder(logger.Named("feed"), m.FrameDropped)
	pipeline := ingest.New(snapshot.NewStore(), decoder, hub, ingest.Options{
		QueueSize: cfg.Server.QueueSize,
		Observer:  m,
	}, logger.Named("ingest"))

	// Background components stop when runCtx is cancelled.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(runCtx)
	}()

	gen := simulation.NewGenerator(pipeline.Handler(ingest.OriginSimulation), simulation.Options{
		Interval: cfg.Simulation.Interval,
		Seed:     cfg.Simulation.Seed,
	}, logger.Named("simulation"))
	sim := simulation.NewController(runCtx, gen, pipeline.SetSimulation, logger.Named("simulation"))

	deps := server.Deps{
		Pipeline:  pipeline,
		Hub:       hub,
		Simulator: sim,
	}

	if cfg.Upstream.Enabled {
		negotiator := signalr.NewNegotiator(cfg.Upstream.BaseURL, cfg.Upstream.NegotiateTimeout, logger.Named("signalr"))
		client := signalr.NewClient(negotiator, pipeline.Handler(ingest.OriginLive), signalr.Options{
			Topics:              cfg.Upstream.Topics,
			ReconnectDelay:      cfg.Upstream.ReconnectDelay,
			HandshakeRetryDelay: cfg.Upstream.HandshakeRetryDelay,
			ReadTimeout:         cfg.Upstream.ReadTimeout,
			HandshakeTimeout:    cfg.Upstream.HandshakeTimeout,
		}, logger.Named("signalr"))
		client.OnStateChange(m.UpstreamStateChanged)

		if cfg.Notify.Enabled {
			notifier := notify.New(&notify.Config{
				Enabled:  cfg.Notify.Enabled,
				Server:   cfg.Notify.Server,
				Topic:    cfg.Notify.Topic,
				Priority: cfg.Notify.Priority,
				Tags:     cfg.Notify.Tags,
				Token:    cfg.Notify.Token,

				OutageAfter: cfg.Notify.OutageAfter,
			}, logger.Named("notify"))
			watcher := notify.NewWatcher(runCtx, notifier, cfg.Notify.OutageAfter, client.Sessions, logger.Named("notify"))
			defer watcher.Close()
			client.OnStateChange(watcher.StateChanged)
		}

		runSource(runCtx, &wg, "upstream", client, logger)

		deps.Negotiator = negotiator
		deps.Upstream = client
	}

	if cfg.Bootstrap.Enabled {
		fetcher := newFetcher(cfg, m.BootstrapTopic, logger.Named("bootstrap"))
		refresher := server.NewRefresher(fetcher, pipeline, cfg.Bootstrap.Topics, cfg.Bootstrap.SessionPath, logger.Named("bootstrap"))
		deps.Refresher = refresher

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := refresher.Refresh(runCtx, ""); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("initial archive bootstrap failed", zap.Error(err))
			}
		}()
	}

	if cfg.Simulation.Enabled {
		sim.Start()
	}

	srv := server.NewServer(deps, logger.Named("http"))
	verifier := auth.NewVerifier(cfg.Auth.AccessTokenSecret, logger.Named("auth"))

	router, err := server.NewRouter(srv, server.RouterOptions{
		Gate:    verifier.Middleware,
		Metrics: m.Handler(),
	}, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	// No WriteTimeout: SSE and WebSocket responses are long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			sim.Stop()
			hub.Close()
			cancel()
			wg.Wait()
			return err
		}
	}

	logger.Info("shutting down server...")

	sim.Stop()
	// Streaming handlers return once their clients are closed.
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	cancel()
	wg.Wait()

	logger.Info("server stopped")
	return nil
}

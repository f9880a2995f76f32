package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fhirlite/fhirlite/server/internal/api"
	"github.com/fhirlite/fhirlite/server/internal/audit"
	"github.com/fhirlite/fhirlite/server/internal/auth"
	"github.com/fhirlite/fhirlite/server/internal/config"
	"github.com/fhirlite/fhirlite/server/internal/health"
	"github.com/fhirlite/fhirlite/server/internal/metrics"
	"github.com/fhirlite/fhirlite/server/internal/observation"
	"github.com/fhirlite/fhirlite/server/internal/patient"
	"github.com/fhirlite/fhirlite/server/internal/store"
	"github.com/fhirlite/fhirlite/server/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// logLevel backs the default logger so a config reload can change it.
var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var configPath string
	rootCmd := &cobra.Command{
		Use:          "fhirlite-server",
		Short:        "FHIR-lite clinical record node",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults apply when empty)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(storeCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the optional gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(*configPath)
		},
	}
}

func storeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect or repair the document store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the stored document decodes cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := openRepository(ctx, cfg.Server.Store, nil)
			if err != nil {
				return err
			}
			defer repo.Backend().Close()

			if err := repo.Check(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", repo.Backend().Describe(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", repo.Backend().Describe())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "repair",
		Short: "Rewrite the stored document in canonical form, resetting it if unreadable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			repo, err := openRepository(ctx, cfg.Server.Store, nil)
			if err != nil {
				return err
			}
			defer repo.Backend().Close()

			if err := repo.Repair(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: repaired\n", repo.Backend().Describe())
			return nil
		},
	})

	return cmd
}

func runServer(configPath string) error {
	slog.Info("fhirlite-server starting", "config", configPath, "version", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	s := cfg.Server

	slog.Info("config loaded",
		"http_port", s.HTTPPort,
		"grpc_port", s.GRPCPort,
		"auth_mode", s.Auth.Mode,
		"store_backend", s.Store.Backend,
		"serialize_writes", s.Store.SerializeWrites,
		"audit_webhooks", len(s.Audit.Webhooks),
		"audit_feed", s.Audit.Feed,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	repo, err := openRepository(ctx, s.Store, m)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return err
	}
	defer repo.Backend().Close()

	// Audit sinks: webhooks and the live feed.
	var sinks []audit.Sink
	if len(s.Audit.Webhooks) > 0 {
		sinks = append(sinks, audit.NewWebhook(s.Audit.Webhooks, m))
	}
	var feed http.Handler
	if s.Audit.Feed {
		hub := ws.New(ws.DefaultBacklog)
		go hub.Run(ctx)
		sinks = append(sinks, hub)
		feed = hub
	}
	auditLog := audit.New(repo, m, sinks...)

	guard := auth.NewGuard(s.Auth)
	switch {
	case !s.Auth.Enabled():
		slog.Warn("auth: mode is none, patient data is served without authentication")
	case s.Auth.Key() == "":
		slog.Warn("auth: api key env var is empty, every request will be rejected", "key_env", s.Auth.KeyEnv)
	}

	// gRPC health endpoint with the API key interceptors.
	var grpcSrv *grpc.Server
	var healthSrv *grpchealth.Server
	if s.GRPCPort > 0 {
		healthSrv = grpchealth.NewServer()
		grpcSrv = grpc.NewServer(
			grpc.ChainUnaryInterceptor(guard.UnaryInterceptor()),
			grpc.ChainStreamInterceptor(guard.StreamInterceptor()),
		)
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", s.GRPCPort, "err", err)
			return err
		}
		go func() {
			slog.Info("gRPC health listening", "port", s.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	monitor := health.New(repo, healthSrv, s.Health.Interval)
	go monitor.Run(ctx)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c *config.Config) {
				guard.Update(c.Server.Auth)
				logLevel.Set(c.Server.Log.SlogLevel())
				slog.Info("config: applied auth and log level", "auth_mode", c.Server.Auth.Mode, "log_level", c.Server.Log.Level)
			})
			if err != nil {
				slog.Error("config: watch stopped", "err", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", s.HTTPPort),
		Handler: api.New(api.Deps{
			Patients:     patient.New(repo, auditLog, m),
			Observations: observation.New(repo, auditLog, m),
			Audit:        auditLog,
			Health:       monitor,
			Metrics:      m,
			Feed:         feed,
			Guard:        guard,
			Version:      version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", s.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("fhirlite-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return httpSrv.Shutdown(shutdownCtx)
}

// loadConfig reads path, or returns the defaults when path is empty, and
// applies the configured log level.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	logLevel.Set(cfg.Server.Log.SlogLevel())
	return cfg, nil
}

// openRepository builds the configured backend and wraps it in a Repository.
func openRepository(ctx context.Context, sc config.StoreConfig, m *metrics.Registry) (*store.Repository, error) {
	var b store.Backend
	switch sc.Backend {
	case config.BackendMemory:
		b = store.NewMemoryBackend(nil)
	case config.BackendPostgres:
		dsn := sc.DSN()
		if dsn == "" {
			return nil, fmt.Errorf("store: %s is empty", sc.DSNEnv)
		}
		pb, err := store.NewPostgresBackend(ctx, dsn, sc.Document)
		if err != nil {
			return nil, err
		}
		b = pb
	default:
		b = store.NewFileBackend(sc.Path)
	}
	slog.Info("store: opened", "backend", b.Describe())
	return store.New(b, store.Options{SerializeWrites: sc.SerializeWrites, Metrics: m}), nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"clinicq/internal/config"
	"clinicq/internal/httpapi"
	"clinicq/internal/hub"
	"clinicq/internal/lifecycle"
	"clinicq/internal/notify"
	"clinicq/internal/orchestrator"
	"clinicq/internal/predictor"
	"clinicq/internal/store"
	"clinicq/internal/store/memory"
	"clinicq/internal/store/postgres"
	"clinicq/internal/telemetry"
	"clinicq/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinicq",
		Short:        "Clinic appointment and queue service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(remindCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, realtime hub and notification relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, logger)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store != "postgres" {
				return fmt.Errorf("migrate requires STORE=postgres")
			}
			ctx := cmd.Context()
			pool, err := newPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := migrations.Up(ctx, pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Msg("migrations complete")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-no-show",
		Short: "Mark appointments whose check-in window closed without arrival",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *orchestrator.Service) error {
				result, err := svc.SweepNoShows(ctx, orchestrator.System)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Queue reminders for upcoming appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *orchestrator.Service) error {
				queued, err := svc.QueueReminders(ctx, orchestrator.System)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"queued": queued})
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue a checked-in appointment that lost its queue entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			appointmentID, _ := cmd.Flags().GetString("appointment")
			department, _ := cmd.Flags().GetString("department")
			if appointmentID == "" {
				return fmt.Errorf("--appointment is required")
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *orchestrator.Service) error {
				entry, err := svc.ReconcileCheckIn(ctx, orchestrator.System, appointmentID, department)
				if err != nil {
					return err
				}
				return printJSON(cmd, entry)
			})
		},
	}
	cmd.Flags().String("appointment", "", "Appointment id")
	cmd.Flags().String("department", "", "Department (defaults to the last entry's)")
	return cmd
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report appointments whose queue entry has diverged",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *orchestrator.Service) error {
				violations, err := svc.AuditPairs(ctx, orchestrator.System)
				if err != nil {
					return err
				}
				for _, v := range violations {
					fmt.Fprintln(cmd.OutOrStdout(), v.Error())
				}
				if len(violations) > 0 {
					return fmt.Errorf("%d appointment/queue pairs diverged", len(violations))
				}
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("sub")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--sub is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			auth := httpapi.NewAuthenticator(httpapi.AuthConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
			token, err := auth.Issue(orchestrator.Actor{ID: subject, Role: strings.ToLower(role)}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "Actor id")
	cmd.Flags().String("role", orchestrator.RoleAdmin, "Actor role: patient, doctor or admin")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return nil, logger, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Str("service", "clinicq").Logger()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to database")
	return postgres.NewStore(pool), pool.Close, nil
}

func newService(cfg *config.Config, st store.Store, pred predictor.Predictor, durations orchestrator.ServiceDurations, logger zerolog.Logger) *orchestrator.Service {
	return orchestrator.New(st, orchestrator.Options{
		Rules:            lifecycle.NewRules(cfg.CheckInPolicy()),
		Location:         cfg.Location(),
		Predictor:        pred,
		Durations:        durations,
		PredictorTimeout: cfg.PredictorTimeout(),
		ReminderLead:     cfg.ReminderLead(),
		Logger:           logger,
	})
}

// withService runs a one-shot batch command as the system actor.
func withService(ctx context.Context, fn func(context.Context, *orchestrator.Service) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	pred := predictor.New(cfg.PredictorURL, cfg.PredictorTimeout())
	svc := newService(cfg, st, pred, predictor.NewDurations(pred, cfg.DefaultServiceDuration(), logger), logger)
	defer svc.Wait()
	return fn(ctx, svc)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "clinicq",
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("store unavailable")
		return err
	}
	defer closeStore()

	pred := predictor.New(cfg.PredictorURL, cfg.PredictorTimeout())
	durations := predictor.NewDurations(pred, cfg.DefaultServiceDuration(), logger)
	svc := newService(cfg, st, pred, durations, logger)
	defer svc.Wait()

	publisher, err := notify.NewPublisher(notify.PublisherConfig{
		Kind:         cfg.NotifyPublisher,
		KafkaBrokers: cfg.Brokers(),
		KafkaTopic:   cfg.KafkaTopic,
		WebhookURL:   cfg.NotifyWebhookURL,
		WebhookToken: cfg.NotifyWebhookToken,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("publisher close failed")
		}
	}()

	relayCfg := notify.Config{BatchSize: cfg.NotifyBatchSize, MaxAttempts: cfg.NotifyMaxAttempts}
	notifications := notify.NewRelay("notify", st, notify.NewNotifier(publisher, cfg.Location()), relayCfg, logger)
	board := hub.New(logger)
	realtime := notify.NewRelay("hub", st, board, relayCfg, logger)

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		durations.Run(ctx, cfg.DurationRefreshInterval())
	}()
	go func() {
		defer workers.Done()
		notifications.Run(ctx, cfg.NotifyPollInterval())
	}()
	go func() {
		defer workers.Done()
		realtime.Run(ctx, cfg.RealtimePollInterval())
	}()

	auth := httpapi.NewAuthenticator(httpapi.AuthConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		DevHeaders: cfg.IsDev() && cfg.JWTSecret == "",
	})
	mux := httpapi.NewHandler(svc, logger).Routes()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", board.Handler("/realtime", auth.Authorize))

	handler := httpapi.Wrap(mux, httpapi.ServerConfig{
		Auth: auth,
		RateLimit: httpapi.RateLimitConfig{
			IPPerMinute:    cfg.RateLimitPerMinute,
			IPBurst:        cfg.RateLimitBurst,
			ActorPerMinute: cfg.ActorRateLimitPerMinute,
			ActorBurst:     cfg.ActorRateLimitBurst,
		},
		Logger: logger,
	})

	// No WriteTimeout: sockjs streaming transports hold the response open.
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(handler, "clinicq"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("store", cfg.Store).Msg("clinicq listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			stop()
			workers.Wait()
			return err
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	workers.Wait()
	return nil
}

package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/orion/api"
	"github.com/jmcleod/orion/internal/config"
	"github.com/jmcleod/orion/internal/logging"
	"github.com/jmcleod/orion/internal/util"
	"github.com/jmcleod/orion/revocation"
	"github.com/jmcleod/orion/storage"
	bboltstorage "github.com/jmcleod/orion/storage/bbolt"
	"github.com/jmcleod/orion/storage/memory"
	pgstorage "github.com/jmcleod/orion/storage/postgres"
)

var (
	serverCfg       = config.ServerFromEnv()
	tlsCert         string
	tlsKey          string
	alertWebhookURL string
	alertWebhookKey string
)

// openRepository returns the configured user store and a func releasing it.
func openRepository(ctx context.Context, cfg config.Server) (storage.Repository, func(), error) {
	switch cfg.Storage {
	case "memory":
		return memory.NewRepository(), func() {}, nil
	case "bbolt":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "users.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open user storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("postgres storage needs --postgres-dsn")
		}
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func apiOptions(ctx context.Context, cfg config.Server, logger zerolog.Logger, reg *prometheus.Registry) ([]api.Option, func(), error) {
	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithRegistry(reg),
		api.WithTokenTTL(cfg.AccessTTL, cfg.RefreshTTL),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
	}

	if cfg.SigningKey != "" {
		key, err := util.HexDecode(cfg.SigningKey)
		if err != nil {
			return nil, cleanup, fmt.Errorf("signing key must be hex: %w", err)
		}
		opts = append(opts, api.WithSigningKey(key))
	} else {
		logger.Warn().Msg("no signing key configured, sessions will not survive a restart")
	}

	if len(cfg.TrustedProxies) > 0 {
		opt, err := api.WithTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, cleanup, fmt.Errorf("invalid trusted proxies: %w", err)
		}
		opts = append(opts, opt)
	}

	if cfg.RedisURL != "" {
		list, err := revocation.NewRedisFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connecting to redis: %w", err)
		}
		closers = append(closers, func() { list.Close() })
		opts = append(opts, api.WithRevocationList(list))
	}

	if alertWebhookURL != "" {
		wh := api.NewAlertWebhook(alertWebhookURL, alertWebhookKey, logger)
		closers = append(closers, wh.Close)
		opts = append(opts, api.WithAlertFunc(wh.Notify))
	}
	return opts, cleanup, nil
}

func loadTLSConfig() (*tls.Config, error) {
	if tlsCert == "" && tlsKey == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the account service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("log-level") {
			serverCfg.LogLevel = clientCfg.LogLevel
		}
		logger := logging.New(serverCfg.Env, serverCfg.LogLevel, os.Stderr)

		repo, closeRepo, err := openRepository(ctx, serverCfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		opts, cleanup, err := apiOptions(ctx, serverCfg, logger, reg)
		defer cleanup()
		if err != nil {
			return err
		}
		a := api.New(repo, opts...)
		a.StartSweeper(ctx)

		r := chi.NewRouter()
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  middlewareLogger{logger},
			NoColor: true,
		}))
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/", a.Router())

		tlsConfig, err := loadTLSConfig()
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              serverCfg.Addr,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info().
			Str("addr", serverCfg.Addr).
			Str("storage", serverCfg.Storage).
			Bool("tls", tlsConfig != nil).
			Bool("redis", serverCfg.RedisURL != "").
			Msg("starting server")

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// middlewareLogger routes chi's request log lines through zerolog.
type middlewareLogger struct {
	logger zerolog.Logger
}

func (l middlewareLogger) Print(v ...any) {
	l.logger.Info().Msg(fmt.Sprint(v...))
}

var _ middleware.LoggerInterface = middlewareLogger{}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.StringVar(&serverCfg.Addr, "addr", serverCfg.Addr, "Address to listen on")
	f.StringVar(&serverCfg.Env, "env", serverCfg.Env, "Environment (DEV or PROD); PROD logs JSON")
	f.StringVar(&serverCfg.Storage, "storage", serverCfg.Storage, "User storage backend (memory, bbolt, postgres)")
	f.StringVar(&serverCfg.DataDir, "data-dir", serverCfg.DataDir, "Directory for the bbolt database")
	f.StringVar(&serverCfg.PostgresDSN, "postgres-dsn", serverCfg.PostgresDSN, "PostgreSQL connection string")
	f.StringVar(&serverCfg.RedisURL, "redis-url", serverCfg.RedisURL, "Redis URL for the shared refresh-token revocation list")
	f.StringVar(&serverCfg.SigningKey, "signing-key", serverCfg.SigningKey, "Hex-encoded HS256 signing key")
	f.DurationVar(&serverCfg.AccessTTL, "access-ttl", serverCfg.AccessTTL, "Access token lifetime")
	f.DurationVar(&serverCfg.RefreshTTL, "refresh-ttl", serverCfg.RefreshTTL, "Refresh token lifetime")
	f.StringSliceVar(&serverCfg.AllowedOrigins, "allowed-origins", serverCfg.AllowedOrigins, "Browser origins allowed for credentialed CORS")
	f.StringSliceVar(&serverCfg.TrustedProxies, "trusted-proxies", serverCfg.TrustedProxies, "Proxy CIDRs whose forwarding headers are trusted")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	f.StringVar(&alertWebhookURL, "alert-webhook", "", "URL that receives failure-spike alerts")
	f.StringVar(&alertWebhookKey, "alert-webhook-auth", "", "Authorization header value for the alert webhook")
}

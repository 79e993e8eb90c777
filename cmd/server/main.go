package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Medal-OF-Owner/Chatlet/internal/config"
	"github.com/Medal-OF-Owner/Chatlet/internal/hub"
	"github.com/Medal-OF-Owner/Chatlet/internal/logging"
	"github.com/Medal-OF-Owner/Chatlet/internal/nickname"
	"github.com/Medal-OF-Owner/Chatlet/internal/server"
	"github.com/Medal-OF-Owner/Chatlet/internal/store"
	"github.com/Medal-OF-Owner/Chatlet/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "chatlet-server",
	Short:   "Chat rooms with WebRTC signaling",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CHATLET_CONFIG"), "path to a TOML config file")
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Server) error {
	level := logging.ParseLevel(cfg.LogLevel, zerolog.InfoLevel)
	logger := logging.Init(level, os.Stdout, cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.RedisURL != "" && (cfg.StoreDriver == "redis" || cfg.NicknameBackend == "redis") {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info().Msg("connected to Redis")
	}

	st, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info().Str("driver", st.Driver()).Msg("message store ready")

	var nicknames nickname.Registry = nickname.NewMemory()
	if cfg.NicknameBackend == "redis" {
		reg := nickname.NewRedis(rdb, cfg.NicknameTTL)
		go reg.Run(ctx)
		nicknames = reg
	}

	var accounts hub.Accounts = hub.GuestAccounts{}
	if len(cfg.Accounts) > 0 {
		accounts = hub.StaticAccounts(cfg.Accounts)
	}

	h := hub.New(hub.Options{
		Log:              st,
		Nicknames:        nicknames,
		Accounts:         accounts,
		HistoryLimit:     cfg.HistoryLimit,
		MaxMessageLength: cfg.MaxMessageLength,
		SendBuffer:       cfg.SendBuffer,
	})
	go h.Run(ctx)
	go store.NewJanitor(st, cfg.MessageRetention, cfg.CleanupInterval).Run(ctx)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewRouter(server.Deps{
			Hub:            h,
			Store:          st,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("nicknames", cfg.NicknameBackend).
			Msg("starting chatlet server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Server, rdb *redis.Client) (store.Store, error) {
	if cfg.StoreDriver == "redis" && rdb != nil {
		return store.NewRedisWithClient(rdb, store.DefaultRetain), nil
	}
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		RedisURL:    cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	return st, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/chative-estimate/server/internal/agent/graph"
	"github.com/chative-estimate/server/internal/agent/model"
	"github.com/chative-estimate/server/internal/agent/orchestrator"
	"github.com/chative-estimate/server/internal/agent/repo"
	"github.com/chative-estimate/server/internal/core"
	"github.com/chative-estimate/server/internal/handler"
	logx "github.com/chative-estimate/server/pkg/logger"
	pkgredis "github.com/chative-estimate/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the estimate server,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	Addr        string `envconfig:"HTTP_ADDR" default:":8080"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	Gemini model.GeminiConfig

	// Agent configs
	Estimate model.EstimateModelConfig
	Prompt   model.EstimatePromptConfig
	Chat     model.ChatConfig
	Session  model.SessionConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load(".env")

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})
	if envErr != nil {
		logx.Debug().Err(envErr).Msg("No .env file loaded, using process environment")
	}

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
	}
	defer rdb.Close()
	logx.Info().Msg("Connected to Redis successfully")

	sessions, err := newSessionStore(ctx, cfg, rdb)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise session store")
	}
	quota := repo.NewRedisQuotaStore(rdb, cfg.Session.QuotaTTL)

	backend := graph.NewBackend(ctx, graph.Config{
		Gemini: cfg.Gemini,
		Model:  cfg.Estimate,
		Prompt: cfg.Prompt,
	})

	orch := orchestrator.New(backend, quota, cfg.Chat)
	chats := orchestrator.NewRegistry(sessions, cfg.Session)
	go chats.Run(ctx, cfg.Chat.SweepInterval, cfg.Chat.IdleTTL)
	router := handler.NewRouter(chats, orch, sessions)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logx.Info().Str("addr", cfg.Addr).Str("session_backend", cfg.Session.Backend).Msg("Estimate server listening")
	if err := runServer(ctx, srv); err != nil {
		logx.Fatal().Err(err).Msg("Server error")
	}
	logx.Info().Msg("Server stopped")
}

// newSessionStore picks the session backend named by SESSION_BACKEND.
func newSessionStore(ctx context.Context, cfg AppConfig, rdb *redis.Client) (model.SessionStore, error) {
	switch strings.ToLower(cfg.Session.Backend) {
	case "", "redis":
		return repo.NewRedisSessionStore(rdb, cfg.Session.TTL), nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		store, err := repo.NewDynamoSessionStore(awsdynamodb.NewFromConfig(awsCfg), cfg.Session.DynamoTable, cfg.Session.TTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

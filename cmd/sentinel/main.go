package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fcaptcha/sentinel/internal/actions"
	"github.com/fcaptcha/sentinel/internal/config"
	"github.com/fcaptcha/sentinel/internal/engine"
	"github.com/fcaptcha/sentinel/internal/heartbeat"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/metrics"
	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/server"
	"github.com/fcaptcha/sentinel/internal/session"
	"github.com/fcaptcha/sentinel/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFmt)
	slog.SetDefault(log)

	metrics.Register()

	var policyOpts []policy.Option
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			// Redis is a cache tier, not a dependency. Run without it.
			log.Warn("redis unreachable, persisted policy cache disabled", "error", err)
		} else {
			policyOpts = append(policyOpts, policy.WithRedis(rdb))
			log.Info("persisted policy cache enabled")
		}
	}

	sessions := session.NewRegistry(cfg.SessionTTL)
	defer sessions.Close()

	eng := engine.New(engine.Options{
		Policies:  policy.NewStore(cfg.PolicyURL, policyOpts...),
		Sessions:  sessions,
		Actions:   actions.NewExecutor(cfg.SecretKey),
		Validator: engine.NewValidator(cfg.ValidateURL),
		Signer:    token.NewSigner(cfg.SecretKey),
		Heartbeat: heartbeat.NewSender(cfg.HeartbeatURL),
		FailOpen:  cfg.FailOpen,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.New(eng, log).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("sentinel starting", "port", cfg.Port, "env", cfg.Env, "fail_open", cfg.FailOpen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

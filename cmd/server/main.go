// Package main is the entry point for the teamspace API server.
//
// The main package stays minimal. Its job is to:
//  1. read configuration
//  2. create dependencies (logger, database, token codec, services)
//  3. start the HTTP server and the background sweep, and stop them on a signal
//
// All actual logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm/logger"

	"github.com/sakif/teamspace/internal/auth"
	"github.com/sakif/teamspace/internal/config"
	"github.com/sakif/teamspace/internal/jobs"
	"github.com/sakif/teamspace/internal/middleware"
	"github.com/sakif/teamspace/internal/repository/gormdb"
	"github.com/sakif/teamspace/internal/server"
	"github.com/sakif/teamspace/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	// One structured logger for the whole process, injected everywhere.
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	// SIGINT/SIGTERM cancel ctx, which stops the server and the sweep.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === 3. DATABASE ===
	if cfg.DBDriver == config.DriverSQLite && cfg.DatabaseURL != ":memory:" {
		dir := filepath.Dir(cfg.DatabaseURL)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	gormLevel := logger.Warn
	if cfg.Debug {
		gormLevel = logger.Info
	}
	db, err := gormdb.Open(ctx, gormdb.Options{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DatabaseURL,
		LogLevel: gormLevel,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	tokenStore := db.Tokens(gormdb.TokenPolicy{
		RefreshTTL:        cfg.RefreshTokenTTL,
		ResetTTL:          cfg.ResetTokenTTL,
		MaxRefreshPerUser: cfg.MaxRefreshTokensPerUser,
	})

	// === 4. AUTH PRIMITIVES ===
	// The signing secret is read once here and never again.
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		return err
	}
	passwords := auth.NewPasswordService(cfg.BcryptCost)

	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		log.Info("GitHub login disabled: GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set")
	}

	// === 5. SERVICES ===
	authService := service.NewAuthService(db.Users(), tokenStore, tokens, passwords, service.NewLogMailer(log), log).
		WithManagerEmails(cfg.ManagerEmails...)
	access := service.NewAccessService(db.Users(), db.Projects(), log)
	projects := service.NewProjectService(db.Projects(), db.Users(), access, log)
	tasks := service.NewTaskService(db.Tasks(), db.Projects(), db.Users(), access, log)

	// === 6. RATE LIMITING (optional) ===
	var limiter middleware.Counter
	if cfg.RateLimitEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// The limiter fails open, so an unreachable Redis is not fatal.
			log.Warn("redis unreachable at startup", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
		}
		cancel()
		limiter = middleware.NewRedisCounter(rdb)
	}

	// === 7. BACKGROUND SWEEP ===
	sweeper, err := jobs.NewSweeper(tokenStore, cfg.SweepSchedule, cfg.AccessTokenTTL, log)
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	// === 8. HTTP SERVER ===
	srv := server.New(cfg, server.Deps{
		DB:          db,
		Tokens:      tokens,
		Blacklist:   tokenStore,
		Auth:        authService,
		Access:      access,
		Projects:    projects,
		Tasks:       tasks,
		GitHub:      github,
		RateLimiter: limiter,
	}, log)

	// Start blocks until ctx is cancelled.
	return srv.Start(ctx)
}

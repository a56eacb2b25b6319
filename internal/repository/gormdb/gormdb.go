// Package gormdb implements the repository interfaces on top of gorm.
//
// Two dialects are supported:
//   - postgres (gorm.io/driver/postgres) for deployed environments
//   - sqlite (github.com/glebarez/sqlite, pure Go) for local runs and tests;
//     ":memory:" gives every test a private, throwaway database
//
// The same model structs and queries serve both dialects. Queries use only
// portable SQL: conditional UPDATEs for single-use tokens and ON CONFLICT DO
// NOTHING for idempotent inserts.
package gormdb

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sakif/teamspace/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	Driver string // DriverSQLite or DriverPostgres
	DSN    string // file path / ":memory:" for sqlite, connection URL for postgres
	// LogLevel is gorm's own SQL logger level. Zero means logger.Warn.
	LogLevel logger.LogLevel
}

// DB owns the gorm connection pool and hands out the per-aggregate stores.
type DB struct {
	gorm   *gorm.DB
	driver string
}

// Open connects, configures the pool and runs migrations.
func Open(ctx context.Context, opts Options) (*DB, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("gormdb: unsupported driver %q", opts.Driver)
	}

	level := opts.LogLevel
	if level == 0 {
		level = logger.Warn
	}

	g, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gormdb: opening %s database: %w", opts.Driver, err)
	}

	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("gormdb: getting sql.DB: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// SQLite has a single writer; one connection also keeps ":memory:"
		// databases alive and shared for the lifetime of the pool.
		sqlDB.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if err := g.Exec(pragma).Error; err != nil {
				sqlDB.Close()
				return nil, fmt.Errorf("gormdb: %s: %w", pragma, err)
			}
		}
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gormdb: pinging database: %w", err)
	}

	db := &DB{gorm: g, driver: opts.Driver}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gormdb: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	return db.gorm.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.PasswordResetToken{},
		&model.BlacklistedToken{},
		&model.Project{},
		&model.ProjectMember{},
		&model.Task{},
	)
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) Users() *UserStore {
	return &UserStore{db: db.gorm}
}

// Tokens returns a token store applying the given lifetimes.
func (db *DB) Tokens(policy TokenPolicy) *TokenStore {
	return newTokenStore(db.gorm, policy, nil)
}

func (db *DB) Projects() *ProjectStore {
	return &ProjectStore{db: db.gorm}
}

func (db *DB) Tasks() *TaskStore {
	return &TaskStore{db: db.gorm}
}

// limitOffset applies pagination; a zero Limit means no limit.
func limitOffset(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

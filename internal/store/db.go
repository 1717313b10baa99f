package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// PoolOptions tunes the database/sql pool around the pgx connector. Zero
// values fall back to the defaults below.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ApplicationName string
}

const (
	defaultMaxOpenConns    = 16
	defaultConnMaxLifetime = time.Hour
	defaultApplicationName = "docflow-api"
)

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = defaultMaxOpenConns
	}
	if o.MaxIdleConns <= 0 || o.MaxIdleConns > o.MaxOpenConns {
		o.MaxIdleConns = o.MaxOpenConns / 2
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if o.ApplicationName == "" {
		o.ApplicationName = defaultApplicationName
	}
	return o
}

// Open parses databaseURL into a pgx connection config, tags sessions with
// the application name and returns a pinged pool.
func Open(ctx context.Context, databaseURL string, opts PoolOptions) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	opts = opts.withDefaults()
	connConfig.RuntimeParams["application_name"] = opts.ApplicationName

	db := stdlib.OpenDB(*connConfig)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres %s@%s: %w", connConfig.User, connConfig.Host, err)
	}
	return db, nil
}

package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/config"
)

// NewMySQL opens a *sqlx.DB with pool settings from config and verifies
// connectivity with a bounded ping.
func NewMySQL(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	dbx, err := sqlx.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(dbx, cfg)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	return dbx, nil
}

func applyPool(dbx *sqlx.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		dbx.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		dbx.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		dbx.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		dbx.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/config"
)

// NewClickHouse opens the usage-event archive connection. The DSN looks like
// clickhouse://default:@localhost:9000/govern?dial_timeout=5s&compress=true
func NewClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}
	dbx, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(dbx, cfg)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	return dbx, nil
}

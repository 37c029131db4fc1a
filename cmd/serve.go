package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/config"
	"github.com/llmops/govern/internal/db"
	"github.com/llmops/govern/internal/governance"
	httpSrv "github.com/llmops/govern/internal/http"
	"github.com/llmops/govern/internal/kafka"
	"github.com/llmops/govern/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		defer func() { _ = logger.Log.Sync() }()

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		// redis, clickhouse, and kafka are optional in dev
		var redisClient *redis.Client
		if cfg.Redis.Addr != "" {
			redisClient, err = db.NewRedis(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
		} else {
			logger.L().Warn("redis not configured, virtual-key cache disabled")
		}

		var chDB *sqlx.DB
		if cfg.ClickHouse.DSN != "" {
			chDB, err = db.NewClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
		} else {
			logger.L().Warn("clickhouse not configured, usage-event archive disabled")
		}

		var publisher governance.Publisher
		if len(cfg.Kafka.Brokers) > 0 {
			producer := kafka.NewProducerFromConfig(kafka.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.UsageTopic,
			})
			defer func() { _ = producer.Close() }()
			publisher = producer
		} else {
			logger.L().Warn("kafka not configured, usage-event stream disabled")
		}

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, publisher)

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		go server.Tracker().Run(sweepCtx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.L().Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				logger.L().Error("http server exited", zap.Error(err))
			}
		}

		stopSweep()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

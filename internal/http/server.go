package http

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/llmops/govern/internal/cache"
	"github.com/llmops/govern/internal/config"
	"github.com/llmops/govern/internal/governance"
	"github.com/llmops/govern/internal/http/middleware"
	"github.com/llmops/govern/internal/logger"
	"github.com/llmops/govern/internal/metrics"
	"github.com/llmops/govern/internal/repository"
	"github.com/llmops/govern/internal/upstream"
)

type Server struct {
	e       *echo.Echo
	tracker *governance.Tracker
}

// NewServer wires repositories, the governance engine, and routes.
// clickhouseDB, rds, and publisher may be nil; the matching features degrade.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, publisher governance.Publisher) *Server {
	// repos (MySQL)
	customersRepo := repository.NewCustomersRepository(mysqlDB)
	teamsRepo := repository.NewTeamsRepository(mysqlDB)
	virtualKeysRepo := repository.NewVirtualKeysRepository(mysqlDB)
	budgetsRepo := repository.NewBudgetsRepository(mysqlDB)
	rateLimitsRepo := repository.NewRateLimitsRepository(mysqlDB)
	usageRepo := repository.NewUsageRepository(mysqlDB)

	// repos (ClickHouse)
	var chUsageRepo repository.CHUsageRepository
	if clickhouseDB != nil {
		chUsageRepo = repository.NewCHUsageRepository(clickhouseDB)
	}

	// governance engine
	vkCache := cache.NewVirtualKeyCache(virtualKeysRepo, rds, cfg.Governance.CacheTTL)
	resolver := governance.NewResolver(teamsRepo, customersRepo)
	enforcer := governance.NewEnforcer(mysqlDB, budgetsRepo, rateLimitsRepo, resolver)
	tracker := governance.NewTracker(usageRepo, virtualKeysRepo, budgetsRepo, rateLimitsRepo, chUsageRepo, publisher, cfg.Governance.ResetInterval)

	api := &API{
		db:          mysqlDB,
		ch:          clickhouseDB,
		rdb:         rds,
		customers:   customersRepo,
		teams:       teamsRepo,
		virtualKeys: virtualKeysRepo,
		budgets:     budgetsRepo,
		rateLimits:  rateLimitsRepo,
		usageEvents: chUsageRepo,
		cache:       vkCache,
		tracker:     tracker,
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// management API
	g := e.Group("/api/governance")
	g.GET("/virtual-keys", api.listVirtualKeys)
	g.POST("/virtual-keys", api.createVirtualKey)
	g.GET("/virtual-keys/:id", api.getVirtualKey)
	g.PUT("/virtual-keys/:id", api.updateVirtualKey)
	g.DELETE("/virtual-keys/:id", api.deleteVirtualKey)

	g.GET("/teams", api.listTeams)
	g.POST("/teams", api.createTeam)
	g.GET("/teams/:id", api.getTeam)
	g.PUT("/teams/:id", api.updateTeam)
	g.DELETE("/teams/:id", api.deleteTeam)

	g.GET("/customers", api.listCustomers)
	g.POST("/customers", api.createCustomer)
	g.GET("/customers/:id", api.getCustomer)
	g.PUT("/customers/:id", api.updateCustomer)
	g.DELETE("/customers/:id", api.deleteCustomer)

	g.GET("/usage-stats", api.usageStats)
	g.POST("/usage-reset", api.usageReset)
	g.GET("/usage-events", api.listUsageEvents)

	g.GET("/debug/stats", api.debugStats)
	g.GET("/debug/counters", api.debugCounters)
	g.GET("/debug/health", api.debugHealth)

	// governed completion path
	gate := middleware.Gate(middleware.GateConfig{
		Header:         cfg.Governance.Header,
		KeyMandatory:   cfg.Governance.KeyMandatory,
		DefaultCost:    cfg.Governance.DefaultCost,
		DefaultTokens:  cfg.Governance.DefaultTokens,
		RetryAfterHint: true,
	}, vkCache, enforcer, tracker)

	var fwd *upstream.Forwarder
	if cfg.Upstream.BaseURL != "" {
		fwd = upstream.NewForwarder(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	}
	e.Group("/v1", gate).Any("/*", proxyHandler(fwd))

	return &Server{e: e, tracker: tracker}
}

// Tracker exposes the usage tracker so serve can run its sweep loop.
func (s *Server) Tracker() *governance.Tracker { return s.tracker }

func (s *Server) Start(addr string) error {
	logger.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

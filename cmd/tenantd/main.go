package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/plexica/tenantd/internal/cache"
	"github.com/plexica/tenantd/internal/directory"
	"github.com/plexica/tenantd/internal/model"
	"github.com/plexica/tenantd/internal/objectstore"
	"github.com/plexica/tenantd/internal/provisioning"
	"github.com/plexica/tenantd/internal/tenant"
	"github.com/plexica/tenantd/pkg/config"
	"github.com/plexica/tenantd/pkg/database"
	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/pkg/middleware"
	"github.com/plexica/tenantd/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration (reads .env if present)
	conf, err := config.Load("tenantd")
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	err = logger.InitLogger(&logger.LogConfig{
		Level:       conf.Log.Level,
		Environment: conf.Server.Env,
		ServiceName: conf.ServiceName,
	})
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()

	// Initialize database connection
	db, err := database.InitDB(&conf.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Run migrations for the tenant registry
	if err := database.MigrateModels(&model.Tenant{}); err != nil {
		log.Fatal("Failed to migrate database models", zap.Error(err))
	}

	// Initialize metrics
	prometheus.InitMetrics(conf)

	// Wire external resource clients
	gateway := directory.NewGateway(&conf.Directory)

	store, err := objectstore.New(context.Background(), &conf.ObjectStore)
	if err != nil {
		log.Fatal("Failed to initialize object store client", zap.Error(err))
	}

	kv := cache.New(&conf.Cache)

	// Wire the tenant control plane
	tenantStore := tenant.NewGormStore(db)
	steps := provisioning.DefaultSteps(db, gateway, store)
	svc := tenant.NewService(
		tenantStore,
		provisioning.NewOrchestrator(),
		steps,
		gateway,
		store,
		kv,
		conf.Provisioning.DeletionGracePeriod,
	)

	// Background reaper: hard-deletes tenants past their grace period
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go runReaper(reaperCtx, svc, conf.Provisioning.ReapInterval)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true

	// Apply middleware
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Metrics endpoint
	e.GET("/metrics", prometheus.HandlerFunc())

	// Health endpoint
	e.GET("/health", healthHandler)

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		stopReaper()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("Starting tenantd on port " + conf.Server.Port)
	if err := e.Start(":" + conf.Server.Port); err != nil && err != http.ErrServerClosed {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// runReaper periodically hard-deletes tenants whose scheduled deletion time
// has passed.
func runReaper(ctx context.Context, svc *tenant.Service, interval time.Duration) {
	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := svc.ReapExpired(ctx)
			if err != nil {
				log.Error("tenant reap sweep failed", zap.Error(err))
				continue
			}
			if reaped > 0 {
				log.Info("reaped expired tenants", zap.Int("count", reaped))
			}
		}
	}
}

func healthHandler(c echo.Context) error {
	status := map[string]string{"status": "ok"}

	if db := database.GetDB(); db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request().Context())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		status["database"] = "ok"
	}

	return c.JSON(http.StatusOK, status)
}

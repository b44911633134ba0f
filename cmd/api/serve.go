package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"webmapapi/docs"
	"webmapapi/internal/config"
	"webmapapi/internal/database"
	"webmapapi/internal/database/migration"
	"webmapapi/internal/gis"
	handlers "webmapapi/internal/http/handler"
	"webmapapi/internal/http/middleware"
	"webmapapi/internal/logging"
	"webmapapi/internal/mapfile"
	"webmapapi/internal/otel"
	"webmapapi/internal/repository/postgres"
	"webmapapi/internal/service"
	"webmapapi/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := logging.FromConfig(cfg.Log, cfg.Location())

	shutdownTracing, err := otel.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.WithError(err).Error("tracing_shutdown_failed")
		}
	}()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}

	portal, err := gis.NewArcGIS(cfg.GIS, nil)
	if err != nil {
		return fmt.Errorf("init gis client: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register service metrics: %w", err)
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	mapSvc := service.NewMapService(mapfile.NewPassThrough(), objStore, portal, postgres.NewPublicationPostgres(db), service.Options{
		Item: gis.ItemProperties{
			Title: cfg.GIS.ItemTitle,
			Type:  cfg.GIS.ItemType,
		},
		SharePublic: cfg.GIS.SharePublic,
		PresignTTL:  time.Duration(cfg.MinIO.PresignTTLSec) * time.Second,
		Logger:      log,
		Metrics:     metrics,
	})

	app := fiber.New(fiber.Config{
		AppName:               "webmapapi",
		BodyLimit:             cfg.BodyLimitBytes,
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler(),
	})

	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == middleware.MetricsPath
	})))
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	app.Get(middleware.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host", cfg.AppHost)
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	handlers.RegisterRoutes(app, db, mapSvc)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":         cfg.Port,
			"portal":       cfg.GIS.PortalURL,
			"share_public": cfg.GIS.SharePublic,
		}).Info("server_started")
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("server_shutting_down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	log.Info("server_stopped")
	return nil
}

func migrate(ctx context.Context) error {
	cfg := config.Load()
	log := logging.FromConfig(cfg.Log, cfg.Location())

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	return db.Close()
}

// openDatabase connects to PostgreSQL and brings the schema up to date.
func openDatabase(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (*sql.DB, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

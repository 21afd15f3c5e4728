package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Haven-Lv/students-checkin-sytem/internal/checkin"
	"github.com/Haven-Lv/students-checkin-sytem/internal/codes"
	"github.com/Haven-Lv/students-checkin-sytem/internal/config"
	"github.com/Haven-Lv/students-checkin-sytem/internal/httpapi"
	"github.com/Haven-Lv/students-checkin-sytem/internal/httpmiddleware"
	"github.com/Haven-Lv/students-checkin-sytem/internal/logger"
	"github.com/Haven-Lv/students-checkin-sytem/internal/mailer"
	"github.com/Haven-Lv/students-checkin-sytem/internal/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.NewForEnvironment(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.App, zl *zap.Logger) error {
	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store := postgres.NewStore(db)

	redisClient := codes.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	codeStore := codes.NewRedisStore(redisClient)

	var mail checkin.Mailer
	if cfg.SendGridAPIKey != "" {
		mail = mailer.NewSendGrid(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromAddr)
		zl.Info("mailer configured", zap.String("from", cfg.MailFromAddr))
	} else {
		mail = mailer.NewConsole(zl)
		zl.Warn("SENDGRID_API_KEY empty, verification codes go to the log")
	}

	svc := checkin.NewService(store, codeStore, mail)
	api := httpapi.New(svc, store, cfg, zl)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigin))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Handler())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := store.Ping(c.Request.Context()) == nil
		redisHealthy := codeStore.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	api.Register(r)

	// Static check-in page reached through the QR codes.
	r.StaticFile("/checkin.html", "web/checkin.html")
	r.Static("/static", "web/static")

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}

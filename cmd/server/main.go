package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"convodesk/internal/config"
	"convodesk/internal/handlers"
	"convodesk/internal/middleware"
	"convodesk/internal/models"
	"convodesk/internal/observability"
	"convodesk/internal/services"
	"convodesk/pkg/realtime"
	"convodesk/pkg/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormotel "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.Tracing.Enabled {
		shutdown, err := observability.SetupTracing(ctx, cfg)
		if err != nil {
			appLogger.Warnf("tracing setup failed: %v", err)
		} else {
			defer func() {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormotel.NewPlugin()); err != nil {
			appLogger.Warnf("gorm otel plugin: %v", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.Contact{}, &models.Conversation{}, &models.Message{},
		&models.ConversationParticipant{}, &models.Tag{}, &models.ConversationTag{},
		&models.MessageTemplate{}, &models.SLAPolicy{}, &models.SLAViolation{},
		&models.AutomationRule{}, &models.AutomationRun{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	monitoring := services.NewMonitoringService(appLogger)
	templateService := services.NewTemplateService(db, appLogger)
	slaService := services.NewSLAService(db, appLogger)

	waClient := whatsapp.NewClient(&whatsapp.Config{
		BaseURL:     cfg.WhatsApp.BaseURL,
		APIVersion:  cfg.WhatsApp.APIVersion,
		PhoneNumber: cfg.WhatsApp.PhoneNumber,
		AccessToken: cfg.WhatsApp.AccessToken,
		Timeout:     cfg.WhatsApp.Timeout,
		MaxRetries:  cfg.WhatsApp.MaxRetries,
		RetryDelay:  cfg.WhatsApp.RetryDelay,
	}, appLogger)
	waClient.SetDB(db)
	waClient.SetRenderer(templateRenderer{templateService})

	var feed services.ChangeFeed
	if cfg.Realtime.Enabled {
		rtClient := realtime.NewClient(&realtime.Config{
			URL:               cfg.Realtime.URL,
			APIKey:            cfg.Realtime.APIKey,
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		}, appLogger)
		if err := rtClient.Connect(ctx); err != nil {
			appLogger.Fatalf("Failed to connect realtime feed: %v", err)
		}
		defer rtClient.Close()
		feed = rtClient
	}

	automationService := services.NewAutomationService(db, appLogger, monitoring, waClient, feed, services.ContextIdentity{})
	if cfg.Automation.Enabled {
		if cfg.Automation.WorkspaceID == "" {
			appLogger.Fatal("automation.workspace_id is required when automation is enabled")
		}
		initCtx := middleware.WithOwner(ctx, cfg.Automation.WorkspaceID)
		if err := automationService.Initialize(initCtx); err != nil {
			appLogger.Fatalf("Failed to initialize automation engine: %v", err)
		}
		defer automationService.Close()
	}

	if cfg.SLA.MonitorEnabled {
		go slaService.StartMonitor(ctx, cfg.SLA.MonitorInterval)
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Security.CORS.Enabled {
		r.Use(middleware.CORSMiddleware(cfg))
	}
	if cfg.Security.RateLimiting.Enabled {
		r.Use(middleware.RateLimitMiddleware(cfg))
	}
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(cfg, db, waClient)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	if cfg.Monitoring.Enabled {
		metricsHandler := handlers.NewMetricsHandler(automationService)
		r.GET(cfg.Monitoring.MetricsPath, metricsHandler.GetMetrics)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService, appLogger))
	handlers.RegisterTemplateRoutes(api, handlers.NewTemplateHandler(templateService, appLogger))
	handlers.RegisterSLARoutes(api, handlers.NewSLAHandler(slaService, appLogger))

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// templateRenderer adapts TemplateService to the messaging client's
// Renderer interface.
type templateRenderer struct {
	templates *services.TemplateService
}

func (r templateRenderer) Render(ctx context.Context, owner, templateID string, variables map[string]string) (string, error) {
	return r.templates.Render(ctx, owner, templateID, variables)
}

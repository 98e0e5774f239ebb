package main

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"school-service/internal/credential"
	"school-service/internal/handler"
	"school-service/internal/lifecycle"
	"school-service/internal/middleware"
	"school-service/internal/model"
	"school-service/internal/notify"
	"school-service/pkg/cache"
	"school-service/pkg/config"
	"school-service/pkg/database"
	"school-service/pkg/jwtutil"
	"school-service/pkg/logger"
	"school-service/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(cfg); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting school service...", cfg.LogConfig()...)

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)

	creds := credential.NewProvisioner()

	if err := bootstrapSuperAdmin(cfg, creds, database.GetDB(), log); err != nil {
		log.Fatal("Failed to bootstrap super admin", zap.Error(err))
	}

	// Optional redis cache for the public tracking endpoint
	var cacheClient *cache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = cache.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer cacheClient.Close()
		log.Info("Redis cache connected")
	}

	// Notifications: SMTP when configured, log-only otherwise
	var notifier notify.Dispatcher
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPDispatcher(
			cfg.SMTP.Host, cfg.SMTP.Port,
			cfg.SMTP.Username, cfg.SMTP.Password,
			cfg.SMTP.FromAddr, cfg.SMTP.FromName, log)
	} else {
		notifier = notify.NewLogDispatcher(log)
	}

	schoolLC := lifecycle.NewSchoolLifecycle(database.GetDB(), creds, notifier, log)
	applicationLC := lifecycle.NewApplicationLifecycle(database.GetDB(), creds, notifier, cacheClient, log)
	handler.Init(schoolLC, applicationLC, creds, notifier)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	e.POST("/auth/login", handler.Login)
	e.POST("/schools", handler.RegisterSchool)
	e.POST("/applications", handler.SubmitApplication)
	e.GET("/applications/status", handler.TrackApplication)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	api.POST("/auth/change-password", handler.ChangePassword)

	// School lifecycle - platform operator
	schools := api.Group("/schools")
	schools.GET("", handler.ListSchools)
	schools.GET("/:id", handler.GetSchool)
	schools.POST("/:id/approve", handler.ApproveSchool)
	schools.POST("/:id/reject", handler.RejectSchool)
	schools.POST("/:id/activate", handler.ActivateSchool)
	schools.POST("/:id/suspend", handler.SuspendSchool)
	schools.POST("/:id/revert", handler.RevertSchool)
	schools.DELETE("/:id", handler.DeleteSchool)

	// Application lifecycle - school admins, plus signed-in submission
	applications := api.Group("/applications")
	applications.POST("", handler.SubmitApplication)
	applications.GET("", handler.ListApplications)
	applications.GET("/:id", handler.GetApplication)
	applications.POST("/:id/review", handler.ReviewApplication)
	applications.POST("/:id/approve", handler.ApproveApplication)
	applications.POST("/:id/reject", handler.RejectApplication)
	applications.POST("/:id/enroll", handler.EnrollApplication)
	applications.POST("/:id/cancel", handler.CancelApplication)

	// Admin management - school admins
	admins := api.Group("/admins")
	admins.GET("", handler.ListAdmins)
	admins.PATCH("/:id/capabilities", handler.UpdateAdminCapabilities)
	admins.DELETE("/:id", handler.DeleteAdmin)
	admins.POST("/:id/reset-password", handler.ResetAdminPassword)

	// Start server
	log.Info("Starting server", zap.String("port", cfg.Server.Port))
	if err := e.Start(":" + cfg.Server.Port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}

// bootstrapSuperAdmin seeds the platform operator account on first start.
func bootstrapSuperAdmin(cfg *config.Config, creds *credential.Provisioner, db *gorm.DB, log *zap.Logger) error {
	email := cfg.Bootstrap.SuperAdminEmail
	if email == "" {
		return nil
	}

	var count int64
	if err := db.Model(&model.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := creds.Hash(cfg.Bootstrap.SuperAdminPassword)
	if err != nil {
		return err
	}
	user := model.User{
		Email:    email,
		Password: hash,
		Role:     model.RoleSuperAdmin,
		IsActive: true,
		Provider: model.ProviderCredentials,
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}
	log.Info("Super admin bootstrapped", zap.String("email", email))
	return nil
}

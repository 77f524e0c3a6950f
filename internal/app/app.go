package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/config"
	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/http/handler"
	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/router"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/repository"
	"github.com/stitchworks/erp-auth/internal/security"
	"github.com/stitchworks/erp-auth/internal/service"
)

// App wires the trust layer together: vault, token and session services,
// 2FA, rate limiting, audit pipeline and the HTTP surface.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	Auditor  *audit.Dispatcher
	Sessions *service.SessionService
	Limiter  *middleware.LocalFixedWindowLimiter
	Audits   repository.AuditRepository
}

func New(cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime, verifier service.CredentialVerifier) (*App, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.Session{}, &domain.TwoFactorEnrollment{}, &domain.AuditEvent{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	vault, err := security.NewVault(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)

	sessionRepo := repository.NewSessionRepository(db)
	twoFactorRepo := repository.NewTwoFactorRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	auditor := audit.NewDispatcher(auditRepo, cfg.AuditBufferSize)

	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, auditor, cfg.TokenPepper, cfg.MaxSessions)
	sessionSvc := service.NewSessionService(sessionRepo, auditor, cfg.TokenPepper)
	twoFactorSvc := service.NewTwoFactorService(twoFactorRepo, vault, auditor, cfg.TOTPIssuer)

	if verifier == nil {
		verifier = &service.BootstrapVerifier{
			Email:        cfg.BootstrapAdminEmail,
			PasswordHash: cfg.BootstrapAdminPasswordHash,
			Subject: security.Subject{
				UserID:      cfg.BootstrapAdminID,
				Email:       cfg.BootstrapAdminEmail,
				Role:        cfg.BootstrapAdminRole,
				WorkspaceID: cfg.BootstrapAdminWorkspaceID,
			},
		}
	}
	authSvc := service.NewAuthService(verifier, tokenSvc, twoFactorSvc, sessionSvc, auditor)

	// localLimiter stays nil when redis backs the limiter; the sweeper
	// only walks bucket state this process owns.
	var localLimiter *middleware.LocalFixedWindowLimiter
	var limiter middleware.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = middleware.NewRedisFixedWindowLimiter(client, "ratelimit")
		logger.Info("rate limiter using redis", "addr", cfg.RedisAddr)
	} else {
		localLimiter = middleware.NewLocalFixedWindowLimiter()
		limiter = localLimiter
	}

	loginLimiter := middleware.NewRateLimiter(limiter,
		middleware.Policy{MaxRequests: cfg.LoginRateLimit, Window: cfg.LoginRateWindow},
		middleware.FailClosed, "login", auditor)
	refreshLimiter := middleware.NewRateLimiter(limiter,
		middleware.Policy{MaxRequests: cfg.RefreshRateLimit, Window: cfg.RefreshRateWindow},
		middleware.FailClosed, "refresh", auditor)
	twoFALimiter := middleware.NewRateLimiter(limiter,
		middleware.Policy{MaxRequests: cfg.TwoFARateLimit, Window: cfg.TwoFARateWindow},
		middleware.FailClosed, "2fa", auditor)
	apiLimiter := middleware.NewRateLimiter(limiter,
		middleware.Policy{MaxRequests: cfg.APIRateLimitRPM, Window: time.Minute},
		middleware.FailOpen, "api", auditor)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, int(cfg.RefreshTTL.Seconds()), cfg.OTELEnvironment == "production"),
		SessionHandler:   handler.NewSessionHandler(sessionSvc),
		TwoFactorHandler: handler.NewTwoFactorHandler(twoFactorSvc),
		AuditHandler:     handler.NewAuditHandler(auditRepo),
		JWTManager:       jwtMgr,
		LoginLimiter:     loginLimiter.Middleware(),
		RefreshLimiter:   refreshLimiter.Middleware(),
		TwoFALimiter:     twoFALimiter.Middleware(),
		APILimiter:       apiLimiter.Middleware(),
		StoreTimeout:     cfg.StoreTimeout,
		EnableOTelHTTP:   cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		Auditor:       auditor,
		Sessions:      sessionSvc,
		Limiter:       localLimiter,
		Audits:        auditRepo,
	}, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

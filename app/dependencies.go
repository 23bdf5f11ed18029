package app

import (
	"context"
	"fmt"

	"github.com/keydrop/server/config"
	"github.com/keydrop/server/credentials"
	"github.com/keydrop/server/google"
	"github.com/keydrop/server/handlers"
	"github.com/keydrop/server/middleware"
	"github.com/keydrop/server/repositories"
	"github.com/keydrop/server/repositories/postgres"
	"github.com/keydrop/server/services/auth"
	"github.com/keydrop/server/services/live"
	"github.com/keydrop/server/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repositories
	Users     repositories.UserRepository
	TxManager repositories.TransactionManager

	// Services
	AuthService *auth.Service
	LiveService *live.Service

	// HTTP layer
	AuthMiddleware *middleware.AuthMiddleware
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	LiveHandler    *handlers.LiveHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	d.Users = postgres.NewUserRepository(db, d.Logger)
	d.TxManager = postgres.NewTransactionManager(db, d.Logger)

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes the domain services
func (d *Dependencies) initServices(cfg *config.Config) error {
	keys, err := token.NewKeyholder(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("token keyholder: %w", err)
	}

	verifier := google.NewVerifier(google.Config{
		ClientID:    cfg.Google.ClientID,
		JWKSURL:     cfg.Google.JWKSURL,
		CacheTTL:    cfg.Google.JWKSCacheTTL,
		HTTPTimeout: cfg.Google.HTTPTimeout,
	})
	if cfg.Google.ClientID == "" {
		d.Logger.Warn("google client ID not configured, federated login will reject all credentials")
	}

	d.AuthService = auth.NewService(
		d.Users,
		d.TxManager,
		credentials.NewBcryptHasher(0),
		token.NewCodec(keys),
		verifier,
		auth.Config{
			AccessTokenTTL: cfg.Auth.AccessTokenTTL,
			SignupTokenTTL: cfg.Auth.SignupTokenTTL,
		},
		d.Logger,
	)

	d.LiveService = live.NewService(live.Config{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		TokenTTL:  cfg.LiveKit.TokenTTL,
	}, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initHTTP initializes the middleware and handlers
func (d *Dependencies) initHTTP() {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.AuthService, d.Logger)
	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.AuthService, d.Logger)
	d.LiveHandler = handlers.NewLiveHandler(d.LiveService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

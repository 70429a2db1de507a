package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/handlers"
	"github.com/authgrid/authgrid/internal/keys"
	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/services"
	"github.com/authgrid/authgrid/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the
// application.
type appServices struct {
	redisClient *redis.Client
	keys        *keys.Provider
	codec       *services.TokenCodec
	tokens      *services.TokenService
	eventQueue  services.EventQueue
	worker      *services.Worker
	cleanup     *services.CleanupService

	oauthHandler      *handlers.OAuthHandler
	authHandler       *handlers.AuthHandler
	clientHandler     *handlers.ClientHandler
	userHandler       *handlers.UserHandler
	eventHandler      *handlers.EventHandler
	revocationHandler *handlers.RevocationHandler
	configHandler     *handlers.ConfigHandler
	wellKnownHandler  *handlers.WellKnownHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, Redis,
// signing keys, services and schedulers.
func bootstrap(cfg *config.Config) *appServices {
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()

	// Redis backs the blacklist, sessions and the async event queue. When
	// disabled the server runs entirely in process.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	keyProvider := keys.NewProvider(&cfg.OAuth)
	if !keyProvider.Configured() {
		logger.Warn().Msg("Signing keys not configured; token issuance disabled until OAUTH_PRIVATE_KEY is set")
	}

	var blacklist *services.TokenBlacklist
	var sessions services.SessionStore
	if redisClient != nil {
		blacklist = services.NewTokenBlacklist(redisClient)
		sessions = services.NewRedisSessionStore(redisClient)
	} else {
		sessions = services.NewMemorySessionStore()
	}

	codec := services.NewTokenCodec(keyProvider, cfg.OAuth.Issuer, blacklist)
	runtime := services.NewRuntimeConfigService(db, &cfg.OAuth)
	tokens := services.NewTokenService(db, codec, runtime)
	authorize := services.NewAuthorizeService(db, runtime)
	clients := services.NewClientService(db, tokens)
	users := services.NewUserService(db, tokens)
	auth := services.NewAuthService(db, sessions, &cfg.Session)
	events := services.NewEventService(db)

	// Event fanout: the package-level Log* helpers enqueue, the queue (or
	// the worker, in async mode) writes.
	services.InitEventLogger(db)
	eventQueue := services.InitEventQueue(cfg)
	persistEvent := func(ctx context.Context, entry *models.SystemLog) error {
		return events.Create(entry)
	}
	if syncQueue, ok := eventQueue.(*services.SyncEventQueue); ok {
		syncQueue.SetProcessor(persistEvent)
	}

	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(persistEvent)
			worker.Start()
		}
	}

	cleanup := services.NewCleanupService(db, tokens, authorize, events)
	cleanup.Start()

	if err := createAdminIfNotExists(users); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		redisClient: redisClient,
		keys:        keyProvider,
		codec:       codec,
		tokens:      tokens,
		eventQueue:  eventQueue,
		worker:      worker,
		cleanup:     cleanup,

		oauthHandler:      handlers.NewOAuthHandler(authorize, tokens, clients, auth, users, codec, blacklist),
		authHandler:       handlers.NewAuthHandler(auth),
		clientHandler:     handlers.NewClientHandler(clients),
		userHandler:       handlers.NewUserHandler(users),
		eventHandler:      handlers.NewEventHandler(events),
		revocationHandler: handlers.NewRevocationHandler(tokens),
		configHandler:     handlers.NewConfigHandler(runtime),
		wellKnownHandler:  handlers.NewWellKnownHandler(cfg.OAuth.Issuer, keyProvider),
		healthHandler:     handlers.NewHealthHandler(keyProvider, redisClient),
	}
}

// createAdminIfNotExists seeds the initial admin account. The password
// comes from ADMIN_PASSWORD, or is generated and logged once when unset.
func createAdminIfNotExists(users *services.UserService) error {
	password := os.Getenv("ADMIN_PASSWORD")
	generated := false
	if password == "" {
		buf := make([]byte, 18)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		password = base64.RawURLEncoding.EncodeToString(buf)
		generated = true
	}

	_, err := users.Create(&services.CreateUserRequest{
		Username: "admin",
		Password: password,
		Email:    "admin@localhost",
		Nickname: "Administrator",
		Role:     "admin",
	})
	if errors.Is(err, services.ErrUserExists) {
		return nil
	}
	if err != nil {
		return err
	}

	if generated {
		logger.Infof("Created admin user with generated password: %s", password)
	} else {
		logger.Infof("Created admin user")
	}
	return nil
}

// shutdown gracefully stops all background services.
func (s *appServices) shutdown() {
	s.cleanup.Stop()
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.eventQueue != nil {
		s.eventQueue.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	logger.Info().Msg("Shutdown complete")
}

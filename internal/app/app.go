package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gptproxy/gptproxy/internal/config"
	"github.com/gptproxy/gptproxy/internal/db"
	internalhttp "github.com/gptproxy/gptproxy/internal/http"
	"github.com/gptproxy/gptproxy/internal/keypool"
	"github.com/gptproxy/gptproxy/internal/logging"
	log "github.com/sirupsen/logrus"
)

// AppConfig holds bootstrap inputs.
type AppConfig struct {
	ConfigPath string
}

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, appCfg AppConfig) error {
	cfg, errLoad := config.Load(appCfg.ConfigPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the key pool, the background validator, and the HTTP
// surface, then serves until ctx is cancelled.
func RunServer(ctx context.Context, appCfg AppConfig) error {
	cfg, errLoad := config.Load(appCfg.ConfigPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Logging)

	if len(cfg.ProxyAuth.APIKeys) == 0 {
		log.Warn("proxy-auth.api-keys is empty; relay endpoints are unauthenticated")
	}

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	store := keypool.NewGormStore(conn)
	accountant := keypool.NewAccountant()
	selector := keypool.NewSelector(store, cfg.Selector.RefreshInterval(), cfg.Keys.MaxActive)
	validator := keypool.NewValidator(store, selector, keypool.ValidatorOptions{
		ValidationURL: cfg.Upstream.ValidationURL,
		ProbeTimeout:  cfg.Validator.ProbeTimeout(),
		Concurrency:   cfg.Validator.Concurrency,
	})
	manager := keypool.NewManager(store, accountant, selector, validator, keypool.ManagerOptions{
		SecretPrefix:        cfg.Keys.Prefix,
		ResetIncludeRevoked: cfg.Reset.IncludeRevoked,
	})

	go validator.Start(ctx, cfg.Validator.Interval())

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	internalhttp.RegisterRoutes(engine, cfg, conn, manager)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// Package server initializes and runs the signaling server: it wires the
// repositories, limiters, abuse protections, the signaling state machine,
// and the websocket boundary, and owns graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/cryptox"
	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/abuse"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
	"github.com/dmitrijs2005/dropwire/internal/server/config"
	"github.com/dmitrijs2005/dropwire/internal/server/ice"
	"github.com/dmitrijs2005/dropwire/internal/server/ratelimit"
	"github.com/dmitrijs2005/dropwire/internal/server/registry"
	"github.com/dmitrijs2005/dropwire/internal/server/shared/db"
	"github.com/dmitrijs2005/dropwire/internal/server/signaling"
	"github.com/dmitrijs2005/dropwire/internal/server/sweep"
	"github.com/dmitrijs2005/dropwire/internal/server/ws"
	"golang.org/x/sync/errgroup"
)

// devFallbackKey keeps development setups running without a configured
// key. Production refuses to start without METADATA_ENCRYPTION_KEY
// (config.Validate enforces it).
const devFallbackKey = "dropwire-development-only"

const limiterSweepInterval = time.Minute

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager db.RepositoryManager
	adapter *ws.Adapter
	server  *ws.Server
	sweeper *sweep.Sweeper

	connLimiter   *ratelimit.Limiter
	uploadLimiter *ratelimit.Limiter
	joinLimiter   *ratelimit.Limiter
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	keyMaterial := cfg.MetadataEncryptionKey
	if keyMaterial == "" {
		logger.Warn(ctx, "no metadata encryption key configured, using insecure development key")
		keyMaterial = devFallbackKey
	}
	key, err := cryptox.ResolveKey(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("encryption key error: %w", err)
	}
	cipher, err := cryptox.NewFieldCipher(key, logger)
	common.WipeByteArray(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init error: %w", err)
	}

	manager, err := db.NewPostgresRepositoryManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	auditLog := audit.New(0, nil)
	guard := abuse.NewGuard(auditLog, logger, nil)
	sessionCap := abuse.NewSessionCap(nil)
	reg := registry.New(nil)

	connLimiter := ratelimit.New(time.Minute, 10, nil)
	uploadLimiter := ratelimit.New(5*time.Minute, 5, nil)
	joinLimiter := ratelimit.New(time.Minute, 20, nil)

	svc := signaling.NewService(signaling.Deps{
		Repo:          manager.Sessions(),
		Registry:      reg,
		Cipher:        cipher,
		Hub:           signaling.NewHub(),
		Guard:         guard,
		Cap:           sessionCap,
		Audit:         auditLog,
		Logger:        logger,
		UploadLimiter: uploadLimiter,
		JoinLimiter:   joinLimiter,
	})

	adapter := ws.NewAdapter(svc, guard, connLimiter, auditLog, logger, cfg.ClientURL)
	minter := ice.NewMinter(cfg.TurnServer, cfg.TurnSecret, cfg.TurnsEnabled, logger, nil)
	router := ws.NewRouter(adapter, minter, cfg.ClientURL)
	server := ws.NewServer(cfg.Addr, router, logger)

	sweeper := sweep.New(manager.Sessions(), reg, guard, sessionCap, auditLog, logger, nil)

	return &App{
		config:        cfg,
		logger:        logger,
		manager:       manager,
		adapter:       adapter,
		server:        server,
		sweeper:       sweeper,
		connLimiter:   connLimiter,
		uploadLimiter: uploadLimiter,
		joinLimiter:   joinLimiter,
	}, nil
}

// Run serves until the context is cancelled or a signal arrives, then
// shuts down in order: stop accepting, close endpoint connections, close
// the repository.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.logger.Info(ctx, "starting app", "environment", app.config.Environment)

	app.connLimiter.StartSweeping(ctx, limiterSweepInterval)
	app.uploadLimiter.StartSweeping(ctx, limiterSweepInterval)
	app.joinLimiter.StartSweeping(ctx, limiterSweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.server.Run(gctx)
	})
	g.Go(func() error {
		app.sweeper.Start(gctx)
		return nil
	})

	err := g.Wait()

	app.adapter.CloseAll()
	if cerr := app.manager.Close(); cerr != nil {
		app.logger.Error(context.Background(), "repository close failed", "error", cerr)
	}

	app.logger.Info(context.Background(), "app stopped")
	return err
}

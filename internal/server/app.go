// Package server initializes and runs the sync backend. It wires the
// Postgres storage, the sync engine, session validation, and the HTTP
// endpoint, and handles graceful shutdown on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/larderapp/larder/internal/logging"
	"github.com/larderapp/larder/internal/server/archive"
	"github.com/larderapp/larder/internal/server/auth"
	"github.com/larderapp/larder/internal/server/config"
	"github.com/larderapp/larder/internal/server/faults"
	"github.com/larderapp/larder/internal/server/httpapi"
	"github.com/larderapp/larder/internal/server/quota"
	"github.com/larderapp/larder/internal/server/repositories/repomanager"

	syncengine "github.com/larderapp/larder/internal/server/sync"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	sessions auth.Sessions
	engine   *syncengine.Service
	archiver archive.Archiver
}

func NewApp(cfg *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, slog.LevelInfo)

	rm, err := repomanager.NewPostgresManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	var checker quota.Checker = quota.Unlimited{}
	if cfg.ItemLimit > 0 {
		checker = quota.Fixed{Limit: cfg.ItemLimit}
	}

	failureLog := faults.NewMemoryLog(cfg.FailureLogTTL, cfg.FailureLogMaxPerUser)
	engine := syncengine.NewService(rm, checker, failureLog, logger)

	sessions := auth.NewJWTSessions([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)

	archiver := archive.NewS3Archiver(archive.Settings{
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		URLTTL:       cfg.ExportURLTTL,
	})

	return &App{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		engine:   engine,
		archiver: archiver,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.sessions, app.engine, app.archiver)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

}

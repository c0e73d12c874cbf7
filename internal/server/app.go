// Package server wires configuration, storage, the realtime hub and the
// business services into the gRPC server and runs it until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/couplesync/internal/logging"
	"github.com/dmitrijs2005/couplesync/internal/server/config"
	"github.com/dmitrijs2005/couplesync/internal/server/notify"
	"github.com/dmitrijs2005/couplesync/internal/server/ratelimit"
	"github.com/dmitrijs2005/couplesync/internal/server/realtime"
	"github.com/dmitrijs2005/couplesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/couplesync/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/couplesync/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	hub      *realtime.Hub
	redis    *redis.Client
	notifier *notify.Publisher
	services gs.Services
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	app.hub = realtime.NewHub(realtime.DefaultBuffer, logger)

	var limiter services.Limiter
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		limiter = ratelimit.New(app.redis, "couplesync:ratelimit:", c.RedeemLimit, c.RedeemWindow)
	} else {
		logger.Warn(ctx, "redis not configured, pairing redemption is not rate limited")
	}

	var notifier services.Notifier
	if c.AMQPURL != "" {
		app.notifier = notify.NewPublisher(c.AMQPURL, c.LovePingQueue, logger)
		notifier = app.notifier
	}

	app.services = gs.Services{
		Users:   services.NewUserService(db, rm, c),
		Pairing: services.NewPairingService(db, rm, c, limiter, app.hub, logger),
		Records: services.NewRecordService(db, rm, app.hub, notifier, logger),
		Media:   services.NewMediaService(c, rm.Couples(db)),
	}

	return app, nil
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

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.services, app.config.SecretKey)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

func (app *App) close(ctx context.Context) {
	if app.notifier != nil {
		if err := app.notifier.Close(); err != nil {
			app.logger.Warn(ctx, "closing amqp connection", "error", err)
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "closing database", "error", err)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	// Subscribe streams never finish on their own, so GracefulStop needs
	// the hub to end them.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		app.hub.Shutdown()
	}()

	wg.Wait()

	app.close(context.Background())
	app.logger.Info(context.Background(), "App stopped")
}

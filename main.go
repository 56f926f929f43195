// main.go - Entry point and dependency injection
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/config"
	"github.com/sstent/pedometer-bridge/internal/database"
	"github.com/sstent/pedometer-bridge/internal/garmin"
	"github.com/sstent/pedometer-bridge/internal/ingest"
	"github.com/sstent/pedometer-bridge/internal/logging"
	"github.com/sstent/pedometer-bridge/internal/metrics"
	"github.com/sstent/pedometer-bridge/internal/motion"
	"github.com/sstent/pedometer-bridge/internal/platform/android"
	"github.com/sstent/pedometer-bridge/internal/platform/ios"
	"github.com/sstent/pedometer-bridge/internal/plugin"
	"github.com/sstent/pedometer-bridge/internal/sensorhub"
	"github.com/sstent/pedometer-bridge/internal/sync"
	"github.com/sstent/pedometer-bridge/internal/web"
)

type App struct {
	cfg     config.Config
	profile config.Profile
	log     *slog.Logger
	started time.Time

	db         *database.SQLiteDB
	dispatcher *channel.Dispatcher
	messenger  *channel.Messenger
	metrics    *metrics.Metrics
	plugin     *plugin.Plugin

	// Exactly one backend is set, per PEDOMETER_PLATFORM.
	sensors *sensorhub.Hub
	motion  *motion.Engine
	sink    ingest.Sink

	syncService *sync.SyncService
	subscriber  *ingest.Subscriber
	dropWatcher *ingest.DropWatcher

	redis  *redis.Client
	hub    *web.Hub
	cron   *cron.Cron
	server *http.Server

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan os.Signal
}

func main() {
	// Load environment variables from .env file
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to read .env:", err)
		os.Exit(1)
	}

	app := &App{
		started:  time.Now(),
		shutdown: make(chan os.Signal, 1),
	}

	// Initialize components
	if err := app.init(); err != nil {
		if app.log != nil {
			app.log.Error("failed to initialize app", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "failed to initialize app:", err)
		}
		app.stop()
		os.Exit(1)
	}

	// Start services
	if err := app.start(); err != nil {
		app.log.Error("failed to start app", "error", err)
		app.stop()
		os.Exit(1)
	}

	// Wait for shutdown signal
	signal.Notify(app.shutdown, os.Interrupt, syscall.SIGTERM)
	<-app.shutdown

	// Graceful shutdown
	app.stop()
}

func (app *App) init() error {
	var err error

	app.cfg, err = config.Load()
	if err != nil {
		return err
	}
	if err := app.initLogger(); err != nil {
		return err
	}
	app.profile, err = config.LoadProfile(app.cfg.ProfilePath)
	if err != nil {
		return err
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	// Initialize database
	app.db, err = database.NewSQLiteDB(app.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	app.metrics = metrics.New()
	app.dispatcher = channel.NewDispatcher(app.cfg.DispatchQueue, logging.Component(app.log, "dispatcher"))
	app.messenger = channel.NewMessenger(app.dispatcher, logging.Component(app.log, "channel"))

	platform, err := app.initPlatform()
	if err != nil {
		return err
	}
	app.plugin, err = plugin.New(platform, app.messenger, plugin.Options{
		Logger:         logging.Component(app.log, "plugin"),
		Observer:       app.metrics,
		MethodObserver: app.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build plugin: %w", err)
	}

	if err := app.initFeeds(); err != nil {
		return err
	}

	// Setup cron scheduler
	app.cron = cron.New()

	// Setup HTTP server
	if app.cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
		})
	}
	app.hub = web.NewHub(app.messenger, app.redis, logging.Component(app.log, "hub"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), app.metrics.Middleware())
	web.NewWebHandler(app.messenger, app.hub, web.Options{
		DB:       app.db,
		Metrics:  app.metrics.Handler(),
		Platform: app.cfg.Platform,
		Logger:   logging.Component(app.log, "web"),
	}).RegisterRoutes(router)

	app.server = &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

func (app *App) initLogger() error {
	level, err := logging.ParseLevel(app.cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(app.cfg.LogFormat)
	if err != nil {
		return err
	}
	app.log = logging.New(os.Stderr, logging.Config{
		Level:     level,
		Format:    format,
		Component: "pedometerd",
	})
	slog.SetDefault(app.log)
	return nil
}

// initPlatform builds the simulated host backend and the platform on top of it.
func (app *App) initPlatform() (plugin.Platform, error) {
	sensors := app.profile.Sensors

	switch app.cfg.Platform {
	case config.PlatformAndroid:
		app.sensors = sensorhub.New(sensorhub.Config{
			StepDetector: sensors.StepDetector,
			StepCounter:  sensors.StepCounter,
			Vendor:       app.profile.Vendor,
			Queue:        app.cfg.DispatchQueue,
			Logger:       logging.Component(app.log, "sensorhub"),
		})
		app.sink = app.sensors
		return android.NewPlatform(android.Config{
			Release: app.cfg.PlatformVersion,
			SDKInt:  app.cfg.SDKInt,
			Manager: app.sensors,
		})

	case config.PlatformIOS:
		app.motion = motion.New(app.db, motion.Config{
			Flags: motion.Flags{
				StepCounting:  sensors.StepCounter,
				Distance:      sensors.Distance,
				FloorCounting: sensors.FloorCounting,
				Pace:          sensors.Pace,
				Cadence:       sensors.Cadence,
				EventTracking: sensors.EventTracking,
			},
			IdleTimeout: app.profile.Motion.IdleTimeout.Duration,
			PaceWindow:  app.profile.Motion.PaceWindow.Duration,
			Queue:       app.cfg.DispatchQueue,
			Logger:      logging.Component(app.log, "motion"),
		})
		app.sink = app.motion

		// Initialize sync service
		client := garmin.NewClient(app.cfg.GarminAPIURL)
		app.syncService = sync.NewSyncService(client, app.db, app.cfg.DataDir,
			sync.WithDays(app.cfg.SyncDays),
			sync.WithLogger(logging.Component(app.log, "sync")),
			sync.WithOnImported(app.motion.Refresh),
		)

		return ios.NewPlatform(ios.Config{
			SystemVersion: app.cfg.PlatformVersion,
			Pedometer:     app.motion,
			// The process start stands in for the last reboot.
			Uptime: func() time.Duration { return time.Since(app.started) },
		})
	}
	return plugin.Platform{}, fmt.Errorf("unsupported platform %q", app.cfg.Platform)
}

func (app *App) initFeeds() error {
	opts := ingest.Options{
		Logger:   logging.Component(app.log, "ingest"),
		Observer: app.metrics,
	}

	if app.cfg.MQTTBroker != "" {
		app.subscriber = ingest.NewSubscriber(ingest.MQTTConfig{
			Broker:   app.cfg.MQTTBroker,
			Topic:    app.cfg.MQTTTopic,
			ClientID: app.cfg.MQTTClientID,
			QoS:      1,
		}, app.sink, opts)
	}

	if app.cfg.DropDir != "" {
		if err := os.MkdirAll(app.cfg.DropDir, 0o755); err != nil {
			return fmt.Errorf("failed to create drop directory: %w", err)
		}
		w, err := ingest.NewDropWatcher(app.cfg.DropDir, app.sink, app.db, opts)
		if err != nil {
			return fmt.Errorf("failed to watch drop directory: %w", err)
		}
		app.dropWatcher = w
	}
	return nil
}

func (app *App) start() error {
	app.plugin.Register()

	if app.subscriber != nil {
		if err := app.subscriber.Start(app.ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if app.dropWatcher != nil {
		if err := app.dropWatcher.Start(app.ctx); err != nil {
			return fmt.Errorf("drop directory: %w", err)
		}
	}

	// Start cron scheduler
	if app.syncService != nil {
		if _, err := app.cron.AddFunc(app.cfg.SyncSchedule, app.runSync); err != nil {
			return fmt.Errorf("invalid SYNC_SCHEDULE: %w", err)
		}
	}
	if _, err := app.cron.AddFunc(app.cfg.RetentionSchedule, app.pruneHistory); err != nil {
		return fmt.Errorf("invalid RETENTION_SCHEDULE: %w", err)
	}
	app.cron.Start()

	// Start web server
	go func() {
		app.log.Info("server starting", "addr", app.cfg.ListenAddr, "platform", app.cfg.Platform)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("server error", "error", err)
			app.shutdown <- syscall.SIGTERM
		}
	}()
	return nil
}

func (app *App) runSync() {
	app.log.Info("starting scheduled sync")
	res, err := app.syncService.Sync(app.ctx)
	app.metrics.ObserveSync(err)
	if err != nil {
		app.log.Error("sync failed", "error", err)
		return
	}
	app.log.Info("sync finished",
		"files", res.Files, "imported", res.Imported, "skipped", res.Skipped,
		"failed", res.Failed, "samples", res.Samples)
}

func (app *App) pruneHistory() {
	cutoff := time.Now().Add(-app.cfg.HistoryRetention)
	n, err := app.db.PruneBefore(cutoff)
	if err != nil {
		app.log.Error("history prune failed", "error", err)
		return
	}
	if n > 0 {
		app.log.Info("history pruned", "samples", n, "before", cutoff)
	}
}

func (app *App) stop() {
	if app.log != nil {
		app.log.Info("shutting down")
	}

	// Stop web server
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.server.Shutdown(ctx); err != nil {
			app.log.Error("server shutdown error", "error", err)
		}
		cancel()
	}

	// Stop cron
	if app.cron != nil {
		<-app.cron.Stop().Done()
	}

	if app.cancel != nil {
		app.cancel()
	}
	if app.subscriber != nil {
		app.subscriber.Stop()
	}
	if app.dropWatcher != nil {
		if err := app.dropWatcher.Stop(); err != nil {
			app.log.Warn("drop watcher stop error", "error", err)
		}
	}

	if app.hub != nil {
		app.hub.Close()
	}
	if app.redis != nil {
		app.redis.Close()
	}
	if app.plugin != nil {
		app.plugin.Unregister()
	}
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if app.sensors != nil {
		app.sensors.Close()
	}
	if app.motion != nil {
		app.motion.Close()
	}

	// Close database
	if app.db != nil {
		app.db.Close()
	}

	if app.log != nil {
		app.log.Info("shutdown complete")
	}
}

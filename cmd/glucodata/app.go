// File: cmd/glucodata/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/alarm"
	"github.com/smartdevs17/glucodata-handler/internal/config"
	"github.com/smartdevs17/glucodata-handler/internal/connection"
	"github.com/smartdevs17/glucodata-handler/internal/metrics"
	"github.com/smartdevs17/glucodata-handler/internal/monitor"
	"github.com/smartdevs17/glucodata-handler/internal/notification"
	"github.com/smartdevs17/glucodata-handler/internal/notifier"
	"github.com/smartdevs17/glucodata-handler/internal/preferences"
	"github.com/smartdevs17/glucodata-handler/internal/processor"
	"github.com/smartdevs17/glucodata-handler/internal/relay"
	"github.com/smartdevs17/glucodata-handler/internal/server"
	"github.com/smartdevs17/glucodata-handler/internal/storage"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

// Application represents the main application
type Application struct {
	config    *config.Config
	logger    *logrus.Logger
	startTime time.Time

	metrics      *metrics.Manager
	registry     *notifier.Registry
	nats         *connection.ConnectionManager
	storage      storage.Storage
	preferences  *preferences.Store
	notification *notification.Manager
	dispatcher   *alarm.Dispatcher
	hub          *relay.Hub
	natsRelay    *relay.NATSTransport
	relay        *relay.Relay
	processor    *processor.BroadcastProcessor
	subscriber   *processor.Subscriber
	monitor      *monitor.ReadingMonitor
	server       *server.HTTPServer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:    cfg,
		startTime: time.Now(),
		metrics:   metrics.NewManager(),
		registry:  notifier.NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		app.closeResources()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"storage", app.initializeStorage},
		{"preferences", app.initializePreferences},
		{"notification", app.initializeNotification},
		{"alarm dispatcher", app.initializeDispatcher},
		{"connection", app.initializeConnection},
		{"relay", app.initializeRelay},
		{"processor", app.initializeProcessor},
		{"monitor", app.initializeMonitor},
		{"server", app.initializeServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return err
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.WithField("type", app.config.Storage.Type).Info("Storage layer initialized")
	return nil
}

func (app *Application) initializePreferences() error {
	app.preferences = preferences.NewStore(app.storage)
	if err := app.preferences.Load(app.ctx); err != nil {
		return err
	}
	app.preferences.Publish(app.registry)
	app.logger.WithField("keys", len(app.preferences.Keys())).Info("Preferences loaded")
	return nil
}

// initializeNotification initializes the notification manager
func (app *Application) initializeNotification() error {
	notifLogger := notification.NewNotificationLoggerWith(app.logger)
	posters := []notification.Poster{notification.NewLogPoster(notifLogger)}
	if app.config.Webhook.Enabled {
		posters = append(posters, notification.NewWebhookPoster(app.config.Webhook, notifLogger))
	}

	app.notification = notification.NewManager(app.metrics, posters...)
	return app.notification.Start(app.ctx)
}

func (app *Application) initializeDispatcher() error {
	app.dispatcher = alarm.NewDispatcher(alarm.DispatcherOptions{
		Poster:        app.notification,
		Registry:      app.registry,
		Preferences:   app.preferences,
		Journal:       app.storage,
		Metrics:       app.metrics.GetPrometheusMetrics(),
		SnoozeOptions: app.config.Alarm.SnoozeOptions,
		Logger:        app.logger,
	})
	return nil
}

// initializeConnection connects to NATS when either the relay or the
// broadcast intake needs it
func (app *Application) initializeConnection() error {
	needsNATS := (app.config.Relay.Enabled && app.config.Relay.EnableNATS) || app.config.Receiver.NATSSubject != ""
	if !needsNATS {
		return nil
	}

	app.nats = connection.NewConnectionManager(app.config.NATS, app.metrics)
	if _, err := app.nats.Connect(app.ctx); err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nil
}

func (app *Application) initializeRelay() error {
	cfg := app.config.Relay
	if !cfg.Enabled {
		app.logger.Info("Wearable relay disabled")
		return nil
	}

	var transports []relay.Transport
	if cfg.EnableSocket {
		app.hub = relay.NewHub()
		transports = append(transports, app.hub)
	}
	if cfg.EnableNATS && app.nats != nil {
		app.natsRelay = relay.NewNATSTransport(app.nats.Conn(), app.config.NATS)
		if err := app.natsRelay.Start(); err != nil {
			return err
		}
		transports = append(transports, app.natsRelay)
	}
	if len(transports) == 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Relay enabled without a transport", "")
	}

	router := relay.NewRouter(transports...)
	app.relay = relay.New(router, router, cfg, relay.Options{
		Metrics:  app.metrics.GetPrometheusMetrics(),
		Registry: app.registry,
		Recorder: app.storage,
		Logger:   app.logger,
	})
	app.registry.Add(app.relay, notifier.SourceSettings)
	app.logger.WithField("transports", router.Transports()).Info("Wearable relay initialized")
	return nil
}

// initializeProcessor initializes the broadcast processor
func (app *Application) initializeProcessor() error {
	opts := processor.Options{
		Store:      app.storage,
		Registry:   app.registry,
		Classifier: alarm.NewClassifier(app.config.Alarm),
		Metrics:    app.metrics.GetPrometheusMetrics(),
		Logger:     app.logger,
	}
	if app.relay != nil {
		opts.Relayer = app.relay
	}

	app.processor = processor.NewBroadcastProcessor(app.config.Receiver, app.config.Alarm, opts)

	if subject := app.config.Receiver.NATSSubject; subject != "" && app.nats != nil {
		app.subscriber = processor.NewSubscriber(app.nats.Conn(), subject, app.processor)
	}
	return nil
}

// initializeMonitor initializes the scheduled staleness and retention jobs
func (app *Application) initializeMonitor() error {
	app.monitor = monitor.NewReadingMonitor(
		app.storage,
		app.registry,
		alarm.NewClassifier(app.config.Alarm),
		app.config.Monitor,
		app.config.Storage.RetentionDays,
		monitor.Options{Metrics: app.metrics, Logger: app.logger},
	)
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	var err error
	app.server, err = server.NewHTTPServer(app.config.Server, server.Dependencies{
		Storage:      app.storage,
		Processor:    app.processor,
		Dispatcher:   app.dispatcher,
		Preferences:  app.preferences,
		Notification: app.notification,
		Relay:        app.relay,
		Hub:          app.hub,
		Monitor:      app.monitor,
		Metrics:      app.metrics,
	}, AppVersion)
	return err
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting GlucoData Handler")

	app.dispatcher.Start(app.ctx)

	if err := app.processor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	if app.subscriber != nil {
		if err := app.subscriber.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start broadcast subscriber: %w", err)
		}
	}

	if err := app.monitor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.metrics.GetPrometheusMetrics().UpdateApplicationUptime(app.startTime)
	app.logger.WithFields(logrus.Fields{
		"server_address":       fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"action":               app.processor.Action(),
		"alarms_enabled":       app.dispatcher.IsEnabled(),
		"relay_enabled":        app.relay != nil,
		"broadcast_subject":    app.config.Receiver.NATSSubject,
		"notification_posters": app.notification.GetStats().Posters,
	}).Info("GlucoData Handler started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping GlucoData Handler")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.subscriber != nil {
		if err := app.subscriber.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop broadcast subscriber")
		}
	}

	if app.monitor != nil {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop monitor")
		}
	}

	if app.processor != nil {
		if err := app.processor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop processor")
		}
	}

	// Let in-flight relays finish before the transports go away.
	if app.relay != nil {
		app.relay.Wait()
	}

	if app.dispatcher != nil {
		app.dispatcher.Destroy(context.Background())
	}

	if app.notification != nil {
		if err := app.notification.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop notification manager")
		}
	}

	app.closeResources()

	app.logger.Info("GlucoData Handler stopped successfully")
	return nil
}

func (app *Application) closeResources() {
	if app.hub != nil {
		app.hub.Close()
	}

	if app.natsRelay != nil {
		if err := app.natsRelay.Stop(); err != nil {
			app.logger.WithError(err).Warn("Failed to stop NATS presence listener")
		}
	}

	if app.nats != nil {
		if err := app.nats.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close NATS connection")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
}

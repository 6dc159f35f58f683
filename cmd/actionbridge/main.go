// Action Bridge
//
// Listens for button events from a zigbee2mqtt sensor and switches Tuya
// bulbs on the local network in response. Each event becomes a job on a
// bounded worker pool; every finished job is fanned out to the enabled
// sinks (SQLite command log, InfluxDB, MQTT outcome topic, WebSocket).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/api"
	"github.com/nerrad567/gray-logic-actionbridge/internal/audit"
	"github.com/nerrad567/gray-logic-actionbridge/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-actionbridge/internal/device"
	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-actionbridge/internal/listener"
	"github.com/nerrad567/gray-logic-actionbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// poolStopTimeout bounds how long in-flight device commands may run
	// after a shutdown signal.
	poolStopTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
//
// Startup order matters for shutdown: deferred cleanups run in reverse, so
// the API stops first, then the pool drains while MQTT and the sinks are
// still open to record the last outcomes.
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting action bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	registry, err := device.NewRegistryFromConfig(cfg.Devices)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	if !registry.Has(cfg.Listener.Device) {
		return fmt.Errorf("listener device %q: %w", cfg.Listener.Device, device.ErrUnknownDevice)
	}
	log.Info("device registry loaded", "devices", registry.Count(), "names", registry.Names())

	controller := device.NewController(registry, &tuyaConnector{client: tuya.NewClient(cfg.GetTuyaTimeout())})
	controller.SetLogger(log.With("component", "device"))

	m := metrics.New()
	checks := make(map[string]api.HealthChecker)

	opts := dispatch.OptionsFromConfig(cfg.Dispatcher)
	opts.Logger = log.With("component", "dispatch")
	opts.Metrics = m
	pool := dispatch.New(controller, opts)

	// Command log (optional)
	var commands audit.Repository
	if cfg.Database.Enabled {
		db, dbErr := openCommandLog(ctx, cfg.Database, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo := audit.NewSQLiteRepository(db.DB)
		commands = repo
		pool.AddRecorder(audit.NewRecorder(repo, log.With("component", "audit")))
		checks["database"] = db
	} else {
		log.Info("command log disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		pool.AddRecorder(influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT
	mqttClient, err := mqtt.ConnectWithLogger(cfg.MQTT, log.With("component", "mqtt"))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	if cfg.MQTT.PublishOutcomes {
		pool.AddRecorder(mqtt.NewOutcomePublisher(mqttClient, log.With("component", "outcomes")))
	}

	// HTTP API (optional)
	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			Registry:   registry,
			Dispatcher: pool,
			Commands:   commands,
			MQTT:       mqttClient,
			Checks:     checks,
			Metrics:    m,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		pool.AddRecorder(server.Hub())
	}

	stopDispatcher := startDispatcher(ctx, pool, log)
	defer stopDispatcher()

	if server != nil {
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	lopts := listener.OptionsFromConfig(cfg)
	lopts.Logger = log.With("component", "listener")
	lopts.Metrics = m
	l := listener.New(pool, lopts)

	// The MQTT client restores tracked subscriptions on reconnect, so one
	// subscribe here covers the process lifetime.
	if err := l.OnConnect(subscriberAdapter{client: mqttClient}); err != nil {
		return err
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// startDispatcher starts pool detached from ctx, so the shutdown signal does
// not abort running device commands. The returned func drains the pool and
// cancels jobs still running after poolStopTimeout.
func startDispatcher(ctx context.Context, pool *dispatch.Pool, log *logging.Logger) (stop func()) {
	pool.Start(context.WithoutCancel(ctx))
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), poolStopTimeout)
		defer cancel()
		log.Info("stopping dispatcher")
		if err := pool.Stop(stopCtx); err != nil {
			log.Warn("dispatcher did not stop cleanly", "error", err)
		}
	}
}

// getConfigPath returns ACTIONBRIDGE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("ACTIONBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openCommandLog opens the SQLite database and applies the embedded schema.
func openCommandLog(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("command log ready", "path", db.Path())
	return db, nil
}

// tuyaConnector adapts the tuya client to device.Connector.
type tuyaConnector struct {
	client *tuya.Client
}

// Connect implements device.Connector.
func (c *tuyaConnector) Connect(ctx context.Context, entry device.Entry) (device.Bulb, error) {
	profile, err := tuya.ProfileByName(entry.Profile)
	if err != nil {
		return nil, err
	}
	bulb, err := c.client.DialBulb(ctx, tuya.Credentials{
		ID:       entry.ID,
		Address:  entry.Address,
		LocalKey: entry.LocalKey,
		Version:  entry.Version,
		Port:     entry.Port,
	}, profile)
	if err != nil {
		return nil, err
	}
	return bulb, nil
}

// subscriberAdapter adapts the MQTT client to listener.Subscriber. The only
// difference is the named handler type.
type subscriberAdapter struct {
	client *mqtt.Client
}

// Subscribe implements listener.Subscriber.
func (a subscriberAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

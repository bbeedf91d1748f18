// knxsync - KNX ↔ home-automation entity synchronization
//
// knxsync mirrors home-automation entities (lights, climate, sensors) onto a
// KNX bus through knxd. Entity state is published to group addresses, and
// bus writes and reads are turned into platform service calls and responses.
// The platform is reached over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"

	_ "github.com/nerrad567/knxsync/migrations"

	"github.com/nerrad567/knxsync/internal/api"
	"github.com/nerrad567/knxsync/internal/audit"
	"github.com/nerrad567/knxsync/internal/auth"
	"github.com/nerrad567/knxsync/internal/bus"
	"github.com/nerrad567/knxsync/internal/entity"
	"github.com/nerrad567/knxsync/internal/infrastructure/config"
	"github.com/nerrad567/knxsync/internal/infrastructure/database"
	"github.com/nerrad567/knxsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/knxsync/internal/infrastructure/logging"
	"github.com/nerrad567/knxsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/platform"
	"github.com/nerrad567/knxsync/internal/syncer"
	"github.com/nerrad567/knxsync/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := hashKey(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hashKey prints the Argon2id hash of an API key for security.api_keys.
func hashKey(args []string, out io.Writer) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: knxsync hash-key <api-key>")
	}
	hash, err := auth.HashKey(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// buildVersion prefers the ldflags version and falls back to the module
// build info.
func buildVersion() string {
	if version != "dev" {
		return version
	}
	return versioninfo.Short()
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	ver := buildVersion()

	log := logging.Default()
	log.Info("starting knxsync",
		"version", ver,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, ver)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database and entity store
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if schemaVersion, versionErr := db.SchemaVersion(ctx); versionErr == nil {
		log.Info("database schema ready", "version", schemaVersion)
	}

	store := entity.NewStore(db.DB)
	seeded, err := store.Seed(ctx, entity.NewSet(cfg.Sync.Entities))
	if err != nil {
		return fmt.Errorf("seeding entity store: %w", err)
	}
	if seeded > 0 {
		log.Info("entity store seeded from config", "entities", seeded)
	}

	// MQTT and platform adapter
	topics := mqtt.Topics{Prefix: cfg.Platform.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", cfg.Platform.TopicPrefix,
	)

	states := platform.NewMQTT(mqttClient, topics)
	states.SetLogger(log.With("component", "platform"))

	// knxd connection and bus adapter
	knxdClient, err := knx.Connect(ctx, knx.ClientConfig{
		Connection:        cfg.KNX.Connection,
		ConnectTimeout:    cfg.KNX.ConnectTimeout,
		ReadTimeout:       cfg.KNX.ReadTimeout,
		ReconnectInterval: cfg.KNX.ReconnectInterval,
	})
	if err != nil {
		return fmt.Errorf("connecting to knxd: %w", err)
	}
	defer func() {
		log.Info("closing knxd connection")
		if closeErr := knxdClient.Close(); closeErr != nil {
			log.Error("error closing knxd connection", "error", closeErr)
		}
	}()
	knxdClient.SetLogger(log.With("component", "knxd"))
	log.Info("connected to knxd", "url", cfg.KNX.Connection)

	var recorder *knx.AddressRecorder
	busOpts := bus.Options{
		Connector:   knxdClient,
		States:      states,
		SendTimeout: cfg.Sync.CallTimeout,
	}
	if cfg.KNX.RecordAddresses {
		recorder = knx.NewAddressRecorder(db.DB)
		recorder.SetLogger(log.With("component", "recorder"))
		if startErr := recorder.Start(ctx); startErr != nil {
			return fmt.Errorf("starting address recorder: %w", startErr)
		}
		defer recorder.Stop()
		busOpts.Recorder = recorder
	}

	busAdapter, err := bus.New(busOpts)
	if err != nil {
		return fmt.Errorf("creating bus adapter: %w", err)
	}
	defer busAdapter.Close()
	busAdapter.SetLogger(log.With("component", "bus"))

	// Telemetry
	metrics := telemetry.NewMetrics(busAdapter.Stats)
	observers := syncer.Observers{metrics}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		observers = append(observers, telemetry.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Health reporting
	health := knx.NewHealthReporter(knx.HealthReporterConfig{
		Service:    "knxsync",
		Version:    ver,
		Topic:      topics.Health(),
		Interval:   cfg.Health.Interval,
		Publisher:  mqttClient,
		Bus:        knxdClient,
		BusAddress: cfg.KNX.Connection,
	})
	health.SetLogger(log.With("component", "health"))
	observers = append(observers, syncer.ObserverFunc(func(ev syncer.Event) {
		if ev.Kind == syncer.EventReload {
			health.SetEntityCount(ev.Entities)
		}
	}))

	// The websocket hub must observe the first load, so it exists before the
	// dispatcher. The server itself needs the dispatcher and is built after.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(log.With("component", "websocket"))
		observers = append(observers, hub)

		monitor, stopMonitor := busAdapter.Monitor(ctx)
		defer stopMonitor()
		go hub.StreamBus(monitor)
	}

	// Sync engine
	dispatcher, err := syncer.New(syncer.Options{
		Platform:    states,
		Bus:         busAdapter,
		CallTimeout: cfg.Sync.CallTimeout,
		Observer:    observers,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	dispatcher.SetLogger(log.With("component", "syncer"))

	set, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}
	if err := dispatcher.Start(ctx, set); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping dispatcher")
		dispatcher.Stop()
	}()
	log.Info("dispatcher started", "entities", dispatcher.Count())

	health.Start(ctx)
	defer health.Stop()

	if influxClient != nil {
		go sampleBus(ctx, cfg.Health.Interval, busAdapter, influxClient)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Store:    store,
			Syncer:   dispatcher,
			Bus:      busAdapter,
			MQTT:     mqttClient,
			Metrics:  metrics.Handler(),
			Audit:    audit.NewRepository(db.DB),
			Hub:      hub,
			Version:  ver,
		}
		if recorder != nil {
			deps.Addresses = recorder
		}
		server, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	} else {
		log.Info("API server disabled")
	}

	checks := []namedCheck{
		{"database", db},
		{"mqtt", mqttClient},
		{"knxd", knxdClient},
	}
	if influxClient != nil {
		checks = append(checks, namedCheck{"influxdb", influxClient})
	}
	if err := healthCheck(ctx, checks...); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("knxsync stopped")
	return nil
}

// sampleBus writes knxd connection counters to InfluxDB until ctx is done.
func sampleBus(ctx context.Context, interval time.Duration, adapter *bus.Adapter, influx *influxdb.Client) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := adapter.Stats()
			influx.WriteBusStats(st.Connected, st.TelegramsTx, st.TelegramsRx, st.ErrorsTotal)
		}
	}
}

// healthChecker is satisfied by every infrastructure client.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies all infrastructure connections are healthy.
// Every check runs; failures are joined.
func healthCheck(ctx context.Context, checks ...namedCheck) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, c := range checks {
		if err := c.checker.HealthCheck(healthCtx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

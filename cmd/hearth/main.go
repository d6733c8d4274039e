// Hearth Core - Home Automation Engine
//
// This is the main entry point for the Hearth Core daemon. Hearth is a
// local-first smart home automation engine:
//   - Rule-based automations (triggers, conditions, actions)
//   - Conflict detection and resolution across simultaneous automations
//   - Device shadows as the single source of state truth
//   - Offline-first operation; the cloud is never in the control path
//
// For architecture details, see the package documentation under internal/.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/hearthd/hearth-core/migrations"

	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/device"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/database"
	"github.com/hearthd/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/location"
	"github.com/hearthd/hearth-core/internal/shadow"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main so errors map to
// exit codes in one place.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	)

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Device shadows: the in-memory state truth every other component reads
	shadows := shadow.NewStore()
	shadows.SetLogger(log)
	if influxClient != nil {
		shadows.SetRecorder(influxClient)
	}

	// Device gateway bridges automations to protocol bridges over MQTT
	gateway := device.NewGateway(mqttClient, shadows)
	gateway.SetLogger(log)

	// Presence tracker answers location conditions
	presence := location.NewTracker()
	presence.SetLogger(log)

	// Weather cache answers weather conditions from broker updates
	weather := newWeatherCache()

	// Automation engine assembly
	repo := automation.NewSQLiteRepository(db.DB)

	triggers := automation.NewTriggerRegistry(nil)
	triggers.SetLogger(log)

	registry := automation.NewRegistry(repo, triggers)
	registry.SetLogger(log)

	evaluator := automation.NewEvaluator(presence)
	evaluator.SetLogger(log)
	evaluator.SetBudget(cfg.ConditionBudget())

	resolver := automation.NewResolver(repo)
	resolver.SetLogger(log)
	if influxClient != nil {
		resolver.SetRecorder(influxClient)
	}

	orchestrator := automation.NewOrchestrator(repo, automation.Dispatchers{
		Device: gateway,
	}, registry)
	orchestrator.SetLogger(log)
	orchestrator.SetDefaultCooldownTTL(cfg.CooldownTTL())
	if influxClient != nil {
		orchestrator.SetRecorder(influxClient)
	}

	engine := automation.NewEngine(registry, triggers, evaluator, resolver, orchestrator, repo)
	engine.SetLogger(log)
	engine.SetShadows(shadows)
	engine.SetDeviceStateSource(gateway)
	engine.SetWeatherSource(weather)

	// In-process event bus: engine lifecycle events fan out to subscribers
	// and mirror onto MQTT for external observers
	events := bus.New(log)
	engine.SetEventPublisher(events)
	mirrorEngineEvents(events, mqttClient, log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading automations: %w", refreshErr)
	}
	log.Info("automation registry initialised", "automations", registry.Count())

	// Route inbound events: state folds into the local caches first, then
	// every event dispatches through the engine
	topics := mqtt.Topics{}
	handler := func(topic string, payload []byte) error {
		eventType, key, ok := splitEventTopic(topic)
		if ok {
			switch eventType {
			case "device", "sensor":
				if err := gateway.HandleDeviceEvent(key, payload); err != nil {
					log.Warn("device event rejected", "topic", topic, "error", err)
				}
			case "location":
				if err := presence.HandleLocationEvent(key, payload); err != nil {
					log.Warn("location event rejected", "topic", topic, "error", err)
				}
			case "weather":
				if err := weather.HandleWeatherEvent(key, payload); err != nil {
					log.Warn("weather event rejected", "topic", topic, "error", err)
				}
			}
		}
		return engine.HandleMessage(topic, payload)
	}
	if subErr := mqttClient.Subscribe(topics.AllEvents(), 1, handler); subErr != nil {
		return fmt.Errorf("subscribing to events: %w", subErr)
	}
	log.Info("subscribed to event topics", "pattern", topics.AllEvents())

	// Start cron schedules last, once the full dispatch path is wired
	triggers.Start()
	defer func() {
		log.Info("stopping trigger schedules")
		triggers.Stop()
	}()

	log.Info("Hearth Core running")

	// Block until shutdown signal
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// mirrorEngineEvents republishes engine lifecycle events from the
// in-process bus onto the MQTT engine event topics.
func mirrorEngineEvents(events *bus.Bus, client *mqtt.Client, log *logging.Logger) {
	topics := mqtt.Topics{}
	names := []string{
		automation.EventConflictDetected,
		automation.EventConflictResolved,
		automation.EventConflictUserInput,
		automation.EventExecutionStarted,
		automation.EventExecutionComplete,
		automation.EventExecutionFailed,
	}
	for _, name := range names {
		events.Subscribe(name, func(topic string, payload any) {
			body, err := json.Marshal(payload)
			if err != nil {
				log.Error("marshalling engine event", "event", topic, "error", err)
				return
			}
			if err := client.Publish(topics.EngineEvent(topic), body, 1, false); err != nil {
				log.Warn("publishing engine event", "event", topic, "error", err)
			}
		})
	}
}

// splitEventTopic extracts the event type and key from
// hearth/event/{type}/{key}.
func splitEventTopic(topic string) (eventType, key string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "hearth" || parts[1] != "event" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// getConfigPath resolves the config file path from the -config flag or the
// default location.
func getConfigPath() string {
	path := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()
	return *path
}

// knxfleet manages a fleet of room-scoped KNX gateway connections and
// exposes them over HTTP, WebSocket, MQTT and InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fernwood-systems/knxfleet/internal/api"
	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/fleet"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/logging"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/mqtt"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/tsdb"
	"github.com/fernwood-systems/knxfleet/internal/knx"
	"github.com/fernwood-systems/knxfleet/internal/resolver"
	"github.com/fernwood-systems/knxfleet/internal/store"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
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

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting knxfleet", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	// Configuration store
	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		WALMode:     cfg.Store.WALMode,
		BusyTimeout: cfg.Store.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store opened", "path", st.Path())

	// Broadcaster with its own delivery goroutine
	broadcaster := broadcast.New(log)
	go broadcaster.Run(ctx)

	resolvers := resolver.NewRegistry()

	// Optional MQTT mirror
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Optional time-series recording
	var tsdbClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		tsdbClient, err = tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		tsdbClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Fleet manager
	manager := fleet.NewManager(fleet.ManagerOptions{
		Room: fleet.RoomOptions{
			Gateway: knx.GatewayConfig{
				DialAttempts:   cfg.Gateway.DialAttempts,
				DialBaseDelay:  cfg.Gateway.GetDialBaseDelay(),
				ConnectTimeout: cfg.Gateway.GetConnectTimeout(),
				ReadTimeout:    cfg.Gateway.GetReadTimeout(),
			},
			Broadcaster: broadcaster,
			Resolvers:   resolvers,
			StateSink:   stateSink(mqttClient, tsdbClient),
			Logger:      log,
		},
		Store:  st,
		Logger: log,
	})
	defer manager.Shutdown()

	// Reconnect rooms from the persisted snapshot
	if rooms, loadErr := st.LoadRooms(ctx); loadErr != nil {
		log.Error("loading persisted rooms", "error", loadErr)
	} else if len(rooms) > 0 {
		result := manager.Apply(ctx, rooms)
		log.Info("boot configuration applied",
			"status", result.Status,
			"configured", result.Configured,
			"failed_rooms", result.FailedRooms,
		)
	}

	// MQTT command ingestion
	if mqttClient != nil {
		if subErr := subscribeCommands(ctx, mqttClient, manager, log); subErr != nil {
			log.Warn("subscribing to MQTT commands", "error", subErr)
		}
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Manager:     manager,
		Broadcaster: broadcaster,
		Resolvers:   resolvers,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// stateSink fans changed-device snapshots out to the optional mirrors:
// retained MQTT state topics and the time-series store.
func stateSink(mqttClient *mqtt.Client, tsdbClient *tsdb.Client) fleet.StateSink {
	if mqttClient == nil && tsdbClient == nil {
		return nil
	}
	topics := mqtt.Topics{}
	return func(roomID, device string, state map[string]any) {
		if mqttClient != nil {
			payload, err := json.Marshal(broadcast.SerializeSnapshot(state))
			if err == nil {
				//nolint:errcheck // Mirror is best-effort; failures surface in client logs
				mqttClient.PublishRetained(topics.DeviceState(roomID, device), payload)
			}
		}
		if tsdbClient != nil {
			tsdbClient.WriteDeviceState(roomID, device, state)
		}
	}
}

// subscribeCommands feeds MQTT command topics into the same dispatch path
// the control WebSocket uses.
func subscribeCommands(ctx context.Context, client *mqtt.Client, manager *fleet.Manager, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return client.Subscribe(topics.AllDeviceCommands(), byte(1), func(topic string, payload []byte) error {
		roomID, device, ok := topics.ParseDeviceCommand(topic)
		if !ok {
			return fmt.Errorf("malformed command topic %q", topic)
		}

		room, found := manager.Room(roomID)
		if !found {
			return fmt.Errorf("%w: %s", fleet.ErrRoomNotFound, roomID)
		}

		var cmd fleet.Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("malformed command payload: %w", err)
		}
		cmd.Device = device
		if cmd.Action == "" {
			return fmt.Errorf("command on %s missing action", topic)
		}

		if err := room.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("executing %s on %s/%s: %w", cmd.Action, roomID, device, err)
		}
		log.Debug("mqtt command executed", "room", roomID, "device", device, "action", cmd.Action)
		return nil
	})
}

// getConfigPath returns the configuration file path, honouring
// KNXFLEET_CONFIG when set.
func getConfigPath() string {
	if path := os.Getenv("KNXFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

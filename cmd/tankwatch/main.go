// TankWatch Core - milk tank supervision service
//
// TankWatch keeps an OPC UA session open to every registered milk tank
// controller, polls their telemetry into a local history, forwards the
// latest sample to the remote collector and arbitrates remote-control
// sessions between operators and the person standing at the tank.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tankwatch/internal/alerts"
	"github.com/nerrad567/tankwatch/internal/api"
	"github.com/nerrad567/tankwatch/internal/audit"
	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/collector"
	"github.com/nerrad567/tankwatch/internal/history"
	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/infrastructure/database"
	"github.com/nerrad567/tankwatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/tankwatch/internal/infrastructure/logging"
	"github.com/nerrad567/tankwatch/internal/infrastructure/metrics"
	"github.com/nerrad567/tankwatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/tankwatch/internal/notify"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/supervisor"
	"github.com/nerrad567/tankwatch/internal/tank"
	"github.com/nerrad567/tankwatch/internal/telemetry"
	"github.com/nerrad567/tankwatch/migrations"
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

	// shutdownTimeout bounds session cleanup once a signal arrives.
	shutdownTimeout = 30 * time.Second
)

func main() {
	issueFor := flag.String("issue-token", "", "print an API token for `subject` and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -issue-token")
	flag.Parse()

	if *issueFor != "" {
		if err := issueToken(os.Stdout, *issueFor, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM; run performs the graceful shutdown.
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
	log.Info("starting TankWatch Core",
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

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := tank.NewRegistry(tank.NewSQLiteRepository(db.DB), cfg.Supervisor.DefaultPollInterval)
	registry.SetLogger(log)
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading tank registry: %w", loadErr)
	}

	historyStore := history.NewStore(db.DB)
	forwardStore := history.NewForwardStore(db.DB)
	catalog := alerts.NewFileCatalog(cfg.Alerts.File)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	health := map[string]api.HealthChecker{"database": db}

	// Events fan out to the WebSocket hub and, when enabled, the MQTT mirror.
	hub := api.NewHub(cfg.WebSocket, log)
	notifier := notify.New(hub)

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		publisher := notify.NewMQTTPublisher(mqttClient, log)
		defer publisher.Close()
		notifier.AddPublisher(publisher)
		health["mqtt"] = mqttClient
		log.Info("MQTT event mirror enabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	} else {
		log.Info("MQTT disabled")
	}

	var sink telemetry.Sink
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
		sink = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var poster telemetry.Poster
	if cfg.Collector.Enabled {
		collectorClient, collectorErr := collector.New(cfg.Collector)
		if collectorErr != nil {
			return fmt.Errorf("creating collector client: %w", collectorErr)
		}
		poster = collectorClient
		log.Info("collector forwarding enabled", "host", cfg.Collector.Host)
	} else {
		log.Info("collector forwarding disabled")
	}

	sup := supervisor.New(opcua.NewDialer(log), supervisor.Options{
		OPCUA:      cfg.OPCUA,
		Supervisor: cfg.Supervisor,
	})

	runner := telemetry.NewRunner(sup, telemetry.NewPipeline(catalog, historyStore, sink), forwardStore, poster)
	runner.SetNotifier(notifier)
	runner.SetMetrics(m)
	runner.SetLogger(log)

	arbiter := remoteaccess.New(sup)
	arbiter.SetNotifier(notifier)
	arbiter.SetMetrics(m)
	arbiter.SetLogger(log)
	notifier.OnConnectionLost(arbiter.ConnectionLost)

	sup.SetTickHandler(runner)
	sup.SetNotifier(notifier)
	sup.SetTeardown(arbiter.Teardown)
	sup.SetConnected(arbiter.Connected)
	sup.SetMetrics(m)
	sup.SetLogger(log)
	if influxClient != nil {
		sup.SetStateSink(influxClient)
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Registry:   registry,
		Supervisor: sup,
		Arbiter:    arbiter,
		History:    historyStore,
		Notifier:   notifier,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Hub:        hub,
		Metrics:    promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Health:     health,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	sup.Start(gctx)
	tanks := registry.List()
	if addErr := sup.AddAll(gctx, tanks); addErr != nil {
		log.Warn("some tanks could not be added", "error", addErr)
	}
	log.Info("supervising tanks", "count", len(tanks))

	if startErr := server.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	// Sessions are still open here, so pending remote-access requests can
	// be released at every tank before the connections go away.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	arbiter.Wait()
	if resetErr := arbiter.ReinitializeAll(shutdownCtx); resetErr != nil {
		log.Warn("remote access reset incomplete", "error", resetErr)
	}
	sup.Stop(shutdownCtx)

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	log.Info("TankWatch Core stopped")
	return nil
}

// issueToken prints a signed API token for subject using the configured
// JWT secret.
func issueToken(w io.Writer, subject string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT, subject, ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// getConfigPath returns the configuration file path.
// Uses TANKWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TANKWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

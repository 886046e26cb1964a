// httpgateway exposes a game server over HTTP and WebSocket.
//
// Players redeem a short enrollment code for a long-lived bearer token,
// read the server snapshot over REST and follow the server's event stream
// over a WebSocket. The gateway attaches to the server through one of
// three host adapters:
//   - local: the gateway process itself (development and smoke tests)
//   - process: a supervised server binary whose output is the event stream
//   - mqtt: a server publishing its snapshot and logs to an MQTT broker
//
// The signing secret and listening port live in their own files next to
// the configuration so they survive restarts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/thaeryn/httpgateway/internal/api"
	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
	"github.com/thaeryn/httpgateway/internal/host"
	"github.com/thaeryn/httpgateway/internal/infrastructure/config"
	"github.com/thaeryn/httpgateway/internal/infrastructure/database"
	"github.com/thaeryn/httpgateway/internal/infrastructure/influxdb"
	"github.com/thaeryn/httpgateway/internal/infrastructure/localstate"
	"github.com/thaeryn/httpgateway/internal/infrastructure/logging"
	"github.com/thaeryn/httpgateway/internal/infrastructure/mqtt"
	"github.com/thaeryn/httpgateway/internal/process"
	"github.com/thaeryn/httpgateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv overrides defaultConfigPath.
const configEnv = "HTTPGATEWAY_CONFIG"

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	flags := pflag.NewFlagSet("httpgateway", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", getConfigPath(), "path to the YAML configuration file (env "+configEnv+")")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses HTTPGATEWAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("httpgateway %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HTTP gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	log = logging.New(cfg.Logging, version)

	// In local mode the gateway is the host and its own log is the event
	// stream. The hub and the adapter keep the plain logger: broadcasts and
	// announced codes must not reach sessions.
	baseLog := log
	var local *host.Local
	if cfg.Host.Mode == config.HostModeLocal {
		local = host.NewLocal(version, baseLog.With("component", "host"))
		log = baseLog.Forward(slog.LevelInfo, local.Log)
	}

	// A secret that cannot be read or created leaves nothing to sign with.
	secret, created, err := localstate.LoadOrCreateSecret(cfg.Gateway.SecretFile)
	if err != nil {
		return fmt.Errorf("loading signing secret: %w", err)
	}
	if created {
		log.Info("signing secret generated", "path", cfg.Gateway.SecretFile)
	}

	port, err := localstate.LoadOrCreatePort(cfg.Gateway.PortFile, cfg.Gateway.DefaultPort)
	if err != nil {
		return fmt.Errorf("loading port file: %w", err)
	}
	switch {
	case port.Invalid != nil:
		log.Error("port file invalid, using default port",
			"path", cfg.Gateway.PortFile,
			"port", port.Port,
			"error", port.Invalid,
		)
	case port.Created:
		log.Info("port file created", "path", cfg.Gateway.PortFile, "port", port.Port)
	}

	registry := auth.NewRegistry(auth.RegistryConfig{
		SingleUse: cfg.Security.Codes.SingleUse,
		TTL:       cfg.Security.Codes.TTL,
	})
	tokens, err := auth.NewTokenService(secret, auth.TokenConfig{
		Issuer:   cfg.Security.Token.Issuer,
		Audience: cfg.Security.Token.Audience,
		Validity: time.Duration(cfg.Security.Token.ValidityDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	// Audit store (optional)
	var (
		db        *database.DB
		auditRepo audit.Repository
	)
	if cfg.Database.Enabled {
		db, err = openAuditStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		auditRepo = audit.NewSQLiteRepository(db.DB)
		log.Info("audit store ready", "path", cfg.Database.Path)
	} else {
		log.Info("audit store disabled")
	}

	// InfluxDB telemetry (optional)
	var (
		influxClient *influxdb.Client
		telemetry    api.Telemetry
	)
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var metrics *api.Metrics
	if cfg.Metrics.Enabled {
		metrics = api.NewMetrics()
	}
	hub := api.NewHub(cfg.WebSocket, baseLog.With("component", "hub"), metrics)

	// Host adapter
	var mqttClient *mqtt.Client
	if cfg.Host.Mode == config.HostModeMQTT {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
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
	}

	adapter := newHostAdapter(cfg, mqttClient, local, hub, log.With("component", "host"))

	srv, err := api.New(api.Deps{
		Config:     cfg.Gateway,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Metrics:    cfg.Metrics,
		Port:       port.Port,
		Logger:     log,
		Registry:   registry,
		Tokens:     tokens,
		Host:       adapter,
		Hub:        hub,
		AuditRepo:  auditRepo,
		Telemetry:  telemetry,
		Prometheus: metrics,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway server: %w", err)
	}
	if m, ok := adapter.(*host.MQTT); ok {
		m.SetCodeIssuer(srv)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing gateway server", "error", closeErr)
		}
	}()

	if err := adapter.Start(ctx, host.Filtered(hub, cfg.Host.EventThreshold)); err != nil {
		return fmt.Errorf("starting %s host adapter: %w", adapter.Name(), err)
	}
	defer func() {
		log.Info("stopping host adapter", "host", adapter.Name())
		if closeErr := adapter.Close(); closeErr != nil {
			log.Error("error stopping host adapter", "error", closeErr)
		}
	}()
	log.Info("host adapter started", "host", adapter.Name())

	if err := srv.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping enrollment code: %w", err)
	}

	if err := healthCheck(ctx, srv, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if p, ok := adapter.(*host.Process); ok {
		g.Go(func() error {
			select {
			case <-p.Done():
				if ctx.Err() == nil {
					return errors.New("host process supervision ended")
				}
			case <-gctx.Done():
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: host adapter, gateway
	// server, MQTT, InfluxDB, database.
	log.Info("HTTP gateway stopped")
	return nil
}

// openAuditStore opens the SQLite audit database and applies migrations.
func openAuditStore(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newHostAdapter builds the adapter selected by cfg.Host.Mode. mqttClient
// is only used, and must be non-nil, in mqtt mode. local is the adapter
// already receiving the gateway log in local mode, or nil.
func newHostAdapter(cfg *config.Config, mqttClient *mqtt.Client, local *host.Local, hub *api.Hub, log *logging.Logger) host.Adapter {
	switch cfg.Host.Mode {
	case config.HostModeProcess:
		pc := cfg.Host.Process
		return host.NewProcess(process.Config{
			Name:               pc.Name,
			Binary:             pc.Binary,
			Args:               pc.Args,
			WorkDir:            pc.WorkDir,
			RestartOnFailure:   pc.RestartOnFailure,
			RestartDelay:       time.Duration(pc.RestartDelaySeconds) * time.Second,
			MaxRestartAttempts: pc.MaxRestartAttempts,
			GracefulTimeout:    10 * time.Second,
		}, pc.RecentLines, log)
	case config.HostModeMQTT:
		return host.NewMQTT(mqttClient, log)
	default:
		if local == nil {
			local = host.NewLocal(version, log)
		}
		local.SetSessionCounter(hub.Count)
		return local
	}
}

// healthCheck verifies the gateway and every enabled dependency.
func healthCheck(ctx context.Context, srv *api.Server, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

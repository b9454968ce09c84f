// Tier List Core - account, authentication and authorisation service for
// the tier list backend.
//
// The binary serves the REST and WebSocket API, keeps the token revocation
// list swept, drains the audit log writer and prunes old audit entries.
// MQTT event publishing and InfluxDB security metrics are optional.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/tierlist-core/migrations"

	"github.com/nerrad567/tierlist-core/internal/api"
	"github.com/nerrad567/tierlist-core/internal/audit"
	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/database"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/logging"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tierlist-core/internal/metrics"
	"github.com/nerrad567/tierlist-core/internal/ratelimit"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	flags := pflag.NewFlagSet("tierlist", pflag.ExitOnError)
	configFlag := flags.StringP("config", "c", "", "path to the YAML config file (overrides TIERLIST_CONFIG)")
	showVersion := flags.Bool("version", false, "print version information and exit")
	flags.Parse(os.Args[1:]) //nolint:errcheck // ExitOnError exits on failure

	if *showVersion {
		fmt.Printf("tierlist %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a
// background task fails.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // startup sequence
	log := logging.Default()
	log.Info("starting Tier List Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing useful to do on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(ctx, database.FromConfig(cfg.Database))
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

	// InfluxDB (optional). The sink stays a nil interface when disabled.
	var influxClient *influxdb.Client
	var sink metrics.EventSink
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}
	registry := metrics.New(sink)

	// MQTT (optional). events stays a nil interface when disabled.
	var mqttClient *mqtt.Client
	var events api.EventPublisher
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
			if failed := mqttClient.Failed(); failed > 0 {
				log.Warn("MQTT events not acknowledged", "count", failed)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		events = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	key, err := signingKey(cfg.Security.JWT.Secret, log)
	if err != nil {
		return err
	}
	codec, err := auth.NewTokenCodec(key, time.Duration(cfg.Security.JWT.TokenTTL)*time.Minute)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}
	roleSource, err := auth.ParseRoleSource(cfg.Security.JWT.RoleSource)
	if err != nil {
		return fmt.Errorf("parsing role source: %w", err)
	}

	revocations := auth.NewRevocationStore(codec, log.Logger)
	revocations.SetRecorder(registry)

	users := auth.NewUserRepository(db.DB)
	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Codec:       codec,
		Revocations: revocations,
		Users:       users,
		RoleSource:  roleSource,
		Logger:      log.Logger,
		Recorder:    registry,
	})
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	if _, seedErr := auth.SeedAdmin(ctx, users, auth.SeedAdminOptions{
		Username: cfg.Security.Bootstrap.AdminUsername,
		Email:    cfg.Security.Bootstrap.AdminEmail,
		Password: cfg.Security.Bootstrap.AdminPassword,
	}, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	limiter, closeLimiter, err := ratelimit.New(cfg.Security.RateLimit)
	if err != nil {
		return fmt.Errorf("creating rate limiter: %w", err)
	}
	defer func() {
		if closeErr := closeLimiter(); closeErr != nil {
			log.Error("error closing rate limiter", "error", closeErr)
		}
	}()
	log.Info("rate limiter ready",
		"enabled", cfg.Security.RateLimit.Enabled,
		"backend", cfg.Security.RateLimit.Backend,
	)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditWriter := audit.NewWriter(auditRepo, audit.DefaultBufferSize, log.Logger)

	var pruner *audit.Pruner
	if cfg.Audit.RetentionDays > 0 {
		pruner, err = audit.NewPruner(auditRepo, cfg.Audit.RetentionDays, cfg.Audit.PruneSchedule, log.Logger)
		if err != nil {
			return fmt.Errorf("creating audit pruner: %w", err)
		}
	} else {
		log.Info("audit pruning disabled")
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		DB:        db,
		Users:     users,
		Tiers:     tierlist.NewTierRepository(db.DB),
		Items:     tierlist.NewItemRepository(db.DB),
		Auth:      authenticator,
		Limiter:   limiter,
		Metrics:   registry,
		Audit:     auditWriter,
		AuditRepo: auditRepo,
		Events:    events,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// The audit writer outlives the server so entries recorded by in-flight
	// requests are still stored.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		auditWriter.Run(writerCtx)
		return nil
	})
	g.Go(func() error {
		revocations.Run(gctx, time.Duration(cfg.Security.JWT.RevocationSweepInterval)*time.Minute)
		return nil
	})
	if pruner != nil {
		g.Go(func() error {
			pruner.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		defer stopWriter()
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		log.Info("initialisation complete, waiting for shutdown signal")

		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		if closeErr := server.Close(); closeErr != nil {
			return fmt.Errorf("closing API server: %w", closeErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if dropped := auditWriter.Dropped(); dropped > 0 {
		log.Warn("audit entries dropped during run", "count", dropped)
	}
	log.Info("Tier List Core stopped")
	return nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then TIERLIST_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("TIERLIST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// signingKey returns the configured JWT secret, or a random key when none is set.
func signingKey(secret string, log *logging.Logger) ([]byte, error) {
	if secret != "" {
		return []byte(secret), nil
	}
	key, err := auth.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	log.Warn("no JWT secret configured, using a random key",
		"impact", "restarting invalidates all outstanding tokens",
	)
	return key, nil
}

// healthCheck verifies the connections that must be up before serving.
// mqttClient and influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error

	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Package app wires hiberctl's configuration store, credential broker,
// resource drivers, history/audit stores, and notifier into the two runtime
// modes: "scan" (periodic ticker only) and "serve" (ticker plus the
// Trigger API).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/redis/go-redis/v9"

	"github.com/nimbusops/hiberctl/internal/config"
	"github.com/nimbusops/hiberctl/internal/httpserver"
	"github.com/nimbusops/hiberctl/internal/platform"
	"github.com/nimbusops/hiberctl/internal/telemetry"
	"github.com/nimbusops/hiberctl/pkg/auditlog"
	"github.com/nimbusops/hiberctl/pkg/configstore"
	"github.com/nimbusops/hiberctl/pkg/creds"
	"github.com/nimbusops/hiberctl/pkg/driver"
	"github.com/nimbusops/hiberctl/pkg/driver/asg"
	"github.com/nimbusops/hiberctl/pkg/driver/containerservice"
	"github.com/nimbusops/hiberctl/pkg/driver/db"
	"github.com/nimbusops/hiberctl/pkg/driver/documentdb"
	"github.com/nimbusops/hiberctl/pkg/driver/vm"
	"github.com/nimbusops/hiberctl/pkg/history"
	"github.com/nimbusops/hiberctl/pkg/notify"
	"github.com/nimbusops/hiberctl/pkg/orchestrator"
	"github.com/nimbusops/hiberctl/pkg/schedule"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (scan or serve).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting hiberctl",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Configuration store (Postgres).
	dbPool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer dbPool.Close()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}
	logger.Info("global migrations applied")

	// Per-schedule lock: Redis-backed when REDIS_URL is set (multi-instance
	// deployments), otherwise the single-instance in-process lock.
	var rdb *redis.Client
	lock := orchestrator.NewInProcessLock()
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
		lock = orchestrator.NewRedisLock(rdb)
		logger.Info("schedule lock: redis-backed (multi-instance)")
	} else {
		logger.Info("schedule lock: in-process (single-instance)")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	dynamoClient, err := platform.NewDynamoDBClient(ctx, cfg.AWSRegion, cfg.HistoryTableName)
	if err != nil {
		return fmt.Errorf("connecting to dynamodb: %w", err)
	}

	store := configstore.New(dbPool)
	historyStore := history.NewDynamoDBStore(dynamoClient, cfg.HistoryTableName)

	auditSink := auditlog.NewDynamoDBSink(dynamoClient, cfg.AuditLogTableName)
	auditWriter := auditlog.NewWriter(auditSink, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	broker := creds.NewBroker(sts.NewFromConfig(awsCfg), logger)

	drivers := map[schedule.Kind]driver.Driver{
		schedule.KindVM:               vm.New(vm.NewEC2ClientFactory(awsCfg), auditWriter),
		schedule.KindDB:               db.New(db.NewRDSClientFactory(awsCfg), auditWriter),
		schedule.KindDocumentDatabase: documentdb.New(documentdb.NewDocDBClientFactory(awsCfg), auditWriter),
		schedule.KindAutoScalingGroup: asg.New(asg.NewAutoScalingClientFactory(awsCfg), auditWriter),
		schedule.KindContainerService: containerservice.New(containerservice.NewECSClientFactory(awsCfg), auditWriter),
	}

	var notifier orchestrator.Notifier
	slackNotifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackExecutionChannel, logger)
	if slackNotifier.IsEnabled() {
		notifier = slackNotifier
		logger.Info("slack execution notifications enabled", "channel", cfg.SlackExecutionChannel)
	} else {
		logger.Info("slack execution notifications disabled (SLACK_BOT_TOKEN or SLACK_EXECUTION_CHANNEL not set)")
	}

	orch := orchestrator.New(store, broker, drivers, historyStore, auditWriter, notifier, logger, cfg.ScanTimeout, lock)

	switch cfg.Mode {
	case "scan":
		return runScanLoop(ctx, orch, logger, cfg.ScanInterval)
	case "serve":
		return runServe(ctx, cfg, orch, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runScanLoop runs the periodic full scan on a ticker until ctx is
// cancelled. Used by "scan" mode, and alongside the Trigger API in "serve"
// mode.
func runScanLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *slog.Logger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scan loop stopping")
			return nil
		case <-ticker.C:
			result, err := orch.FullScan(ctx, "", schedule.TriggerPeriodic)
			if err != nil {
				logger.Error("periodic scan", "error", err)
				continue
			}
			logger.Info("periodic scan complete",
				"schedulesProcessed", result.SchedulesProcessed,
				"resourcesStarted", result.ResourcesStarted,
				"resourcesStopped", result.ResourcesStopped,
				"resourcesFailed", result.ResourcesFailed,
			)
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) error {
	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	srv := httpserver.NewServer(orch, metricsReg, logger, cfg.TriggerSharedSecret)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trigger api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	go func() {
		if err := runScanLoop(ctx, orch, logger, cfg.ScanInterval); err != nil {
			logger.Error("scan loop", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down trigger api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

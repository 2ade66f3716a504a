package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/cristianemoyano/cloudnap/api"
	"github.com/cristianemoyano/cloudnap/cache"
	"github.com/cristianemoyano/cloudnap/config"
	"github.com/cristianemoyano/cloudnap/history"
	"github.com/cristianemoyano/cloudnap/logging"
	"github.com/cristianemoyano/cloudnap/metrics"
	"github.com/cristianemoyano/cloudnap/orchestrator"
	"github.com/cristianemoyano/cloudnap/provider"
	"github.com/cristianemoyano/cloudnap/scheduler"
	"github.com/cristianemoyano/cloudnap/types"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()
}

func main() {
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.InitLogger("info")
		logging.GetLogger().Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logging.InitLogger(cfg.App.LogLevel)
	logger := logging.GetLogger()

	awsConfig := aws.Config{Region: aws.String(cfg.Provider.Region)}
	if cfg.Provider.AccessKey != "" && cfg.Provider.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.Provider.AccessKey, cfg.Provider.SecretKey, "")
	}
	awsSession, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Config:            awsConfig,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create AWS session")
		os.Exit(1)
	}

	gateway := provider.NewEC2Gateway(awsSession, cfg.Provider.Region, logger)

	var recorder history.Recorder = history.Nop{}
	if cfg.History.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		recorder, err = history.NewDynamoDB(ctx, logger, awsSession, cfg.Provider.Region, cfg.History.Table)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create action history store")
			os.Exit(1)
		}
	}

	statusCache := cache.New(gateway, cache.Config{
		TTL:               cfg.CacheTTL(),
		ProviderTimeout:   cfg.ProviderTimeout(),
		ServeStaleOnError: cfg.Cache.ServeStaleOnError,
	}, logger)

	// Buffered so a slow websocket fan-out never stalls an action monitor.
	broadcast := make(chan types.Broadcast, 16)

	coordinator := orchestrator.NewCoordinator(gateway, statusCache, recorder, orchestrator.CoordinatorConfig{
		ProviderTimeout: cfg.ProviderTimeout(),
		PollInterval:    cfg.PollInterval(),
		MaxRetries:      cfg.Monitor.MaxRetries,
	}, logger, broadcast)

	// Reloads re-read the file, so edits take effect without a restart.
	source := func() ([]types.Cluster, error) {
		reloaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return reloaded.ClusterList(), nil
	}

	orch, err := orchestrator.New(source, statusCache, coordinator, recorder, scheduler.Config{
		Workers: cfg.Scheduler.MaxWorkers,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create orchestrator")
		os.Exit(1)
	}

	metrics.MustRegister(func() float64 {
		return float64(coordinator.InflightCount())
	})

	orch.Start()

	apiServer := api.New(cfg, orch, logger, broadcast)
	go func() {
		if err := apiServer.Serve(cfg.App.Host, cfg.App.Port); err != nil {
			logger.Error().Err(err).Msg("Failed to start API server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Received termination signal. Initiating graceful shutdown...")

	apiServer.Stop()
	orch.Stop()

	logger.Info().Msg("Shutdown complete. Exiting.")
}

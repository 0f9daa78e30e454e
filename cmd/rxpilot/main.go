// Package main provides the rxpilot binary entry point.
// RxPilot is a prescription refill agent that runs patient
// conversations over NATS using the semstreams framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register slash commands via init()
	_ "github.com/c360studio/rxpilot/commands"

	// Register LLM providers via init()
	_ "github.com/c360studio/rxpilot/llm/providers"

	rxconfig "github.com/c360studio/rxpilot/config"
	"github.com/c360studio/rxpilot/llm"
	escalationnotifier "github.com/c360studio/rxpilot/processor/escalation-notifier"
	refillagent "github.com/c360studio/rxpilot/processor/refill-agent"
	"github.com/c360studio/rxpilot/refill"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	"github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rxpilot"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		catalogDir string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "rxpilot",
		Short: "Prescription refill agent",
		Long: `RxPilot is a prescription refill agent that runs patient
conversations over NATS.

It provides:
- A guided refill conversation (medication, dosage, pharmacy, order)
- Safety escalation to the care team for controlled substances,
  interactions, early refills, and expired prescriptions
- Slash commands (/refill, /refill-status, /refill-cancel) and an HTTP API

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, catalogDir, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&catalogDir, "catalog", "", "Catalog directory (empty = built-in demo data)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, catalogDir, logLevel string) error {
	// Print banner
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The --catalog flag wins over config files
	if catalogDir != "" {
		absCatalogDir, err := filepath.Abs(catalogDir)
		if err != nil {
			return fmt.Errorf("resolve catalog path: %w", err)
		}
		info, err := os.Stat(absCatalogDir)
		if err != nil {
			return fmt.Errorf("stat catalog path: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", absCatalogDir)
		}
		cfg.Catalog.Dir = absCatalogDir
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Build the platform config driving streams, components, and services
	platformCfg := buildPlatformConfig(cfg)
	if err := platformCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, platformCfg, natsClient, logger); err != nil {
		return err
	}

	// Initialize the global LLM call journal for conversation auditing
	if err := llm.InitGlobalCallJournal(natsClient); err != nil {
		// Log warning but don't fail - call auditing is optional
		slog.Warn("Failed to initialize LLM call journal", "error", err)
	} else {
		slog.Debug("LLM call journal initialized")
	}

	slog.Info("RxPilot ready",
		"version", Version,
		"catalog_dir", cfg.Catalog.Dir)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(platformCfg)

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := config.NewConfigManager(platformCfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	slog.Info("Platform identity configured",
		"org", platform.Org,
		"platform", platform.Platform)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register rxpilot-specific components
	slog.Debug("Registering rxpilot component factories")
	if err := refillagent.Register(componentRegistry); err != nil {
		return fmt.Errorf("register refill-agent: %w", err)
	}

	if err := escalationnotifier.Register(componentRegistry); err != nil {
		return fmt.Errorf("register escalation-notifier: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(platformCfg)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(platformCfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start all services (includes HTTP server with health endpoints)
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
	}

	slog.Info("RxPilot shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             RxPilot v" + Version + "                     ║")
	fmt.Println("║      Prescription Refill Agent                ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

func loadConfig(configPath string, logger *slog.Logger) (*rxconfig.Config, error) {
	loader := rxconfig.NewLoader(logger)
	if configPath != "" {
		// Explicit file plus environment overrides
		return loader.LoadPath(configPath)
	}

	// Layered defaults: user config, project config, environment
	return loader.Load()
}

// buildPlatformConfig translates the rxpilot config into the semstreams
// platform config that drives streams, components, and services.
func buildPlatformConfig(cfg *rxconfig.Config) *config.Config {
	agentConfig := map[string]any{
		"session_ttl":           cfg.Sessions.TTL.String(),
		"sweep_interval":        cfg.Sessions.SweepInterval.String(),
		"data_timeout":          cfg.Sessions.DataTimeout.String(),
		"reply_timeout":         cfg.Sessions.ReplyTimeout.String(),
		"early_refill_fraction": cfg.Policy.EarlyRefillFraction,
		"min_severity":          cfg.Policy.MinSeverity,
		"model_default":         cfg.Model.Default,
		"model_endpoint":        cfg.Model.Endpoint,
		"model_temperature":     cfg.Model.Temperature,
	}
	if cfg.Catalog.Dir != "" {
		agentConfig["catalog_dir"] = cfg.Catalog.Dir
		agentConfig["catalog_watch"] = cfg.Catalog.Watch
	}
	agentJSON, _ := json.Marshal(agentConfig)

	notifierJSON, _ := json.Marshal(map[string]any{})

	return &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			Org:         "rxpilot",
			ID:          "rxpilot-local",
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{natsURL(cfg)},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: config.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: config.ComponentConfigs{
			"refill-agent": types.ComponentConfig{
				Name:    "refill-agent",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  agentJSON,
			},
			"escalation-notifier": types.ComponentConfig{
				Name:    "escalation-notifier",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  notifierJSON,
			},
		},
		Streams: config.StreamConfigs{
			"CONVERSATION": config.StreamConfig{
				Subjects: []string{
					refill.SubjectTurnRequest,
					refill.SubjectSessionCommand,
					"user.message.>",
					"user.response.>",
				},
				MaxAge:   "24h",
				Storage:  "memory",
				Replicas: 1,
			},
			// Orders and escalations are the audit trail, so they persist
			"EVENTS": config.StreamConfig{
				Subjects: []string{"rxpilot.events.>"},
				MaxAge:   "72h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	}
}

func natsURL(cfg *rxconfig.Config) string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}
	if cfg.NATS.URL != "" {
		return cfg.NATS.URL
	}
	return "nats://localhost:4222"
}

func connectToNATS(ctx context.Context, cfg *rxconfig.Config, logger *slog.Logger) (*natsclient.Client, error) {
	url := natsURL(cfg)
	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := config.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

func extractPlatformMeta(cfg *config.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *config.Config) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		slog.Debug("Adding default service-manager config")
		defaultConfig := map[string]any{
			"http_port":  8080,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "RxPilot API",
				"description": "prescription refill agent - conversation, session, and order APIs",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
		slog.Debug("Service-manager config added", "enabled", true)
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *config.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Processing service config", "key", name, "name", svcConfig.Name, "enabled", svcConfig.Enabled)

	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	slog.Debug("Creating service", "name", name, "has_constructor", true)
	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}

// Package main implements the entry point for the industrial automation
// bridge: OPC UA and Modbus inputs, a threshold monitor, and an HTTP
// gateway over a NATS backbone.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/irfanghat/databricks-industrial-automation-suite/certmanager"
	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/componentregistry"
	"github.com/irfanghat/databricks-industrial-automation-suite/config"
	"github.com/irfanghat/databricks-industrial-automation-suite/gateway"
	gatewayhttp "github.com/irfanghat/databricks-industrial-automation-suite/gateway/http"
	"github.com/irfanghat/databricks-industrial-automation-suite/input/opcuainput"
	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
	"github.com/irfanghat/databricks-industrial-automation-suite/opcua"
	"github.com/irfanghat/databricks-industrial-automation-suite/service"
	"github.com/irfanghat/databricks-industrial-automation-suite/simulator"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dias-server"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	// Core infrastructure: NATS, metrics, config KV sync
	natsClient, metricsRegistry, err := setupInfrastructure(ctx, cfg)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if cliCfg.MetricsPort > 0 {
		metricsServer := metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry, cfg.Security)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop() }()
		slog.Info("Metrics server listening", "address", metricsServer.Address())
	}

	configManager, err := setupConfigManager(ctx, cfg, natsClient, logger)
	if err != nil {
		return err
	}
	defer configManager.Stop(5 * time.Second)

	// Plant simulator (in-process OPC UA session plus optional Modbus mirror)
	sim, err := setupSimulator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if sim != nil {
		defer sim.stop(cliCfg.ShutdownTimeout)
	}
	var plant *simulator.Plant
	if sim != nil {
		plant = sim.plant
	}

	// Service manager owns the central HTTP server and component lifecycle
	manager := newServiceManager(cfg, cliCfg, metricsRegistry, logger)

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
		Platform:        component.PlatformMeta{Org: cfg.Platform.Org, Site: cfg.Platform.Site},
		Security:        cfg.Security,
	}

	if err := buildComponents(cfg, plant, manager, deps); err != nil {
		return err
	}

	// Run until a shutdown signal arrives
	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting industrial automation bridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"simulate", cliCfg.Simulate)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Simulate {
		cfg.Simulator.Enabled = true
	}

	return cfg, nil
}

// setupInfrastructure creates the NATS client and metrics registry and
// waits for the NATS connection to come up
func setupInfrastructure(ctx context.Context, cfg *config.Config) (*natsclient.Client, *metric.MetricsRegistry, error) {
	natsClient, err := createNATSClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS")
	if err := natsClient.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return natsClient, metric.NewMetricsRegistry(), nil
}

// createNATSClient builds the client from config with environment override
func createNATSClient(cfg *config.Config) (*natsclient.Client, error) {
	natsURL := "nats://localhost:4222"
	if envURL := os.Getenv("DIAS_NATS_URLS"); envURL != "" {
		natsURL = envURL
	} else if len(cfg.NATS.URLs) > 0 {
		natsURL = cfg.NATS.URLs[0]
	}

	var opts []natsclient.ClientOption
	opts = append(opts, natsclient.WithName(appName))
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	return natsclient.NewClient(natsURL, opts...)
}

// setupConfigManager creates and starts the config manager for KV sync
func setupConfigManager(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	logger *slog.Logger,
) (*config.Manager, error) {
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}

	if err := configManager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start config manager: %w", err)
	}

	return configManager, nil
}

// simulation bundles the plant and its optional Modbus mirror so they
// stop together
type simulation struct {
	plant  *simulator.Plant
	modbus *simulator.ModbusServer
}

func (s *simulation) stop(timeout time.Duration) {
	if s.modbus != nil {
		if err := s.modbus.Stop(timeout); err != nil {
			slog.Warn("Modbus simulator stop failed", "error", err)
		}
	}
	if err := s.plant.Stop(timeout); err != nil {
		slog.Warn("Plant simulator stop failed", "error", err)
	}
}

// setupSimulator starts the in-process plant when simulation is enabled.
// Returns nil when running against live devices.
func setupSimulator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*simulation, error) {
	if !cfg.Simulator.Enabled {
		return nil, nil
	}

	plant := simulator.NewPlant(simulator.Config{
		UpdateInterval: cfg.Simulator.UpdateInterval,
	}, logger)

	if err := plant.Start(ctx); err != nil {
		return nil, fmt.Errorf("start plant simulator: %w", err)
	}
	slog.Info("Plant simulator running", "update_interval", cfg.Simulator.UpdateInterval)

	sim := &simulation{plant: plant}
	if cfg.Simulator.ModbusEnabled {
		addr := ""
		if cfg.Simulator.ModbusPort > 0 {
			addr = fmt.Sprintf(":%d", cfg.Simulator.ModbusPort)
		}
		sim.modbus = simulator.NewModbusServer(plant, addr, logger)
		if err := sim.modbus.Start(ctx); err != nil {
			_ = plant.Stop(10 * time.Second)
			return nil, fmt.Errorf("start modbus simulator: %w", err)
		}
		slog.Info("Modbus companion server running", "address", sim.modbus.Addr())
	}

	return sim, nil
}

// newServiceManager builds the service manager from the gateway section
func newServiceManager(cfg *config.Config, cliCfg *CLIConfig, registry *metric.MetricsRegistry, logger *slog.Logger) *service.Manager {
	port := cfg.Gateway.Port
	if port == 0 {
		port = service.DefaultHTTPPort
	}

	return service.NewManager(service.ManagerConfig{
		HTTPHost:    cfg.Gateway.Host,
		HTTPPort:    port,
		StopTimeout: cliCfg.ShutdownTimeout,
	}, service.ManagerDeps{
		Logger:          logger,
		MetricsRegistry: registry,
	})
}

// buildComponents creates configured component instances and registers
// them with the service manager. In simulate mode the OPC UA input and
// the HTTP gateway are bound to the in-process plant session instead of
// dialing a live server.
func buildComponents(
	cfg *config.Config,
	plant *simulator.Plant,
	manager *service.Manager,
	deps component.Dependencies,
) error {
	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register component factories: %w", err)
	}

	components := cfg.Components
	if len(components) == 0 && plant != nil {
		components = defaultSimulateComponents()
		slog.Info("No components configured, using simulator defaults")
	}

	// Deterministic start order
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		instance := components[name]
		if !instance.Enabled {
			slog.Info("Component disabled in config", "instance", name)
			continue
		}

		comp, err := createComponent(name, instance, cfg, plant, manager, registry, deps)
		if err != nil {
			return fmt.Errorf("create component %s: %w", name, err)
		}

		if err := manager.Add(name, comp); err != nil {
			return fmt.Errorf("add component %s: %w", name, err)
		}
		slog.Info("Component configured", "instance", name, "factory", instance.Name)
	}

	return nil
}

// createComponent builds a single instance. The HTTP gateway always gets
// the shared health monitor and managed certificates; the OPC UA input is
// wired to the plant session when simulating.
func createComponent(
	name string,
	instance component.InstanceConfig,
	cfg *config.Config,
	plant *simulator.Plant,
	manager *service.Manager,
	registry *component.Registry,
	deps component.Dependencies,
) (component.Discoverable, error) {
	switch instance.Name {
	case "http":
		return createHTTPGateway(name, instance, cfg, plant, manager, deps)
	case "opcua":
		if plant != nil {
			return createSimulatedOPCUAInput(name, instance, plant, deps)
		}
		merged, err := mergeOPCUADefaults(instance.Config, cfg.OPCUA)
		if err != nil {
			return nil, err
		}
		instance.Config = merged
	}

	return registry.CreateComponent(name, instance, deps)
}

// createHTTPGateway builds the gateway directly so it shares the service
// manager's health monitor and the managed certificate directory
func createHTTPGateway(
	name string,
	instance component.InstanceConfig,
	cfg *config.Config,
	plant *simulator.Plant,
	manager *service.Manager,
	deps component.Dependencies,
) (component.Discoverable, error) {
	var gwCfg gateway.Config
	if len(instance.Config) > 0 {
		if err := json.Unmarshal(instance.Config, &gwCfg); err != nil {
			return nil, fmt.Errorf("gateway config: %w", err)
		}
	}
	if gwCfg.MaxRequestSize == 0 {
		gwCfg.MaxRequestSize = cfg.Gateway.MaxBodyBytes
	}
	if gwCfg.RequestTimeoutStr == "" && cfg.Gateway.ReadTimeout > 0 {
		gwCfg.RequestTimeoutStr = cfg.Gateway.ReadTimeout.String()
	}
	if gwCfg.StreamRate == 0 {
		gwCfg.StreamRate = cfg.Gateway.StreamRate
	}
	if gwCfg.StreamBurst == 0 {
		gwCfg.StreamBurst = cfg.Gateway.StreamBurst
	}
	if gwCfg.CertsDir == "" {
		gwCfg.CertsDir = cfg.OPCUA.CertsDir
	}

	gwDeps := gatewayhttp.GatewayDeps{
		Name:          name,
		Config:        gwCfg,
		CertManager:   certmanager.New(certmanager.Options{CertsDir: gwCfg.CertsDir}),
		HealthMonitor: manager.HealthMonitor(),
		Logger:        deps.GetLoggerWithComponent(name),
	}
	if plant != nil {
		gwDeps.SessionFactory = func(_ opcua.Config, _ *slog.Logger) (opcua.Session, error) {
			return plant, nil
		}
	}

	return gatewayhttp.New(gwDeps)
}

// createSimulatedOPCUAInput binds the OPC UA input to the plant session
func createSimulatedOPCUAInput(
	name string,
	instance component.InstanceConfig,
	plant *simulator.Plant,
	deps component.Dependencies,
) (component.Discoverable, error) {
	var inCfg opcuainput.InputConfig
	if len(instance.Config) > 0 {
		if err := json.Unmarshal(instance.Config, &inCfg); err != nil {
			return nil, fmt.Errorf("opcua input config: %w", err)
		}
	}
	if inCfg.Endpoint == "" {
		inCfg.Endpoint = "opc.tcp://127.0.0.1:4840/"
	}

	return opcuainput.NewInput(opcuainput.InputDeps{
		Name:            name,
		Config:          inCfg,
		Session:         plant,
		NATSClient:      deps.NATSClient,
		MetricsRegistry: deps.MetricsRegistry,
		Logger:          deps.GetLoggerWithComponent(name),
	})
}

// mergeOPCUADefaults fills connection fields the instance config omits
// from the top-level opcua section
func mergeOPCUADefaults(raw json.RawMessage, defaults config.OPCUAConfig) (json.RawMessage, error) {
	values := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("opcua input config: %w", err)
		}
	}

	setIfMissing := func(key string, value any) {
		if _, ok := values[key]; !ok {
			values[key] = value
		}
	}

	if defaults.Endpoint != "" {
		setIfMissing("endpoint", defaults.Endpoint)
	}
	if defaults.SecurityPolicy != "" {
		setIfMissing("security_policy", defaults.SecurityPolicy)
	}
	if defaults.SecurityMode != "" {
		setIfMissing("security_mode", defaults.SecurityMode)
	}
	if defaults.CertFile != "" {
		setIfMissing("cert_file", defaults.CertFile)
	}
	if defaults.KeyFile != "" {
		setIfMissing("key_file", defaults.KeyFile)
	}
	if defaults.Username != "" {
		setIfMissing("username", defaults.Username)
	}
	if defaults.Password != "" {
		setIfMissing("password", defaults.Password)
	}
	if defaults.SubscribeInterval > 0 {
		setIfMissing("subscribe_interval_ms", defaults.SubscribeInterval.Milliseconds())
	}

	return json.Marshal(values)
}

// defaultSimulateComponents gives `dias-server --simulate` a working
// pipeline without a config file: the OPC UA input over the plant's
// process variables plus the HTTP gateway.
func defaultSimulateComponents() config.ComponentConfigs {
	inputConfig, _ := json.Marshal(opcuainput.InputConfig{
		Endpoint: "opc.tcp://127.0.0.1:4840/",
		NodeIDs: []string{
			simulator.NodeBoilerTemperature,
			simulator.NodeBoilerPressure,
			simulator.NodePumpRPM,
			simulator.NodePumpFlowRate,
			simulator.NodeTankLevel,
		},
	})

	return config.ComponentConfigs{
		"opcua-plant": {
			Name:    "opcua",
			Type:    "input",
			Enabled: true,
			Config:  inputConfig,
		},
		"opcua-api": {
			Name:    "http",
			Type:    "gateway",
			Enabled: true,
		},
	}
}

// runWithSignalHandling starts the manager and blocks until shutdown
func runWithSignalHandling(ctx context.Context, manager *service.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("Bridge started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := manager.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping components", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

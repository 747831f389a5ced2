// Package service hosts components and ties the runtime together.
//
// The Manager owns the component lifecycle: components are registered with
// Add, initialized and started in registration order, and stopped in
// reverse order so consumers outlive their producers during shutdown. A
// component that fails to start rolls back everything started before it.
//
// The Manager also runs the central HTTP server. Components implementing
// gateway.HTTPHandler get their routes mounted under /<instance-name>/, so
// a gateway registered as "opcua-api" serves /opcua-api/opcua/read/... and
// friends. The manager itself serves /healthz with aggregated component
// health, refreshed on a configurable polling interval.
//
// Typical wiring:
//
//	manager := service.NewManager(service.ManagerConfig{HTTPPort: 8080}, service.ManagerDeps{
//	    Logger:          logger,
//	    MetricsRegistry: registry,
//	})
//	manager.Add("opcua", opcuaInput)
//	manager.Add("monitor", thresholdMonitor)
//	manager.Add("opcua-api", httpGateway)
//
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Stop(10 * time.Second)
package service

// Package metric provides Prometheus-based metrics collection and an HTTP
// server for monitoring the industrial automation suite.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (service status, message processing, device connectivity,
// NATS health) and custom component-specific metrics. It includes an HTTP
// server exposing metrics in Prometheus format.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Platform-level metrics automatically registered (Metrics type)
//  2. Component Registry: Extensible registration for component-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with health checks (Server type)
//
// # Basic Usage
//
// Setting up metrics collection and the HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, security.Config{})
//
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
// Start binds the port and serves scrapes in the background until Stop.
//
// Recording core platform metrics:
//
//	core := registry.CoreMetrics()
//	core.RecordDeviceConnected("opc.tcp", "opc.tcp://localhost:4840", true)
//	core.RecordDeviceRead("opc.tcp", "success")
//	core.RecordDataChange("opc.tcp", "ns=2;i=2")
//
// Components register their own metrics under a unique service name:
//
//	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
//	    Namespace: "dias",
//	    Subsystem: "modbus",
//	    Name:      "poll_duration_seconds",
//	    Help:      "Modbus poll cycle duration",
//	})
//	if err := registry.RegisterHistogram("modbus-input", "poll_duration", pollDuration); err != nil {
//	    return err
//	}
//
// All metrics use the "dias" namespace. Registration is thread-safe and
// duplicate registrations are rejected so components fail fast on naming
// collisions.
package metric

package component

import (
	"log/slog"

	"github.com/irfanghat/databricks-industrial-automation-suite/metric"
	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
	"github.com/irfanghat/databricks-industrial-automation-suite/pkg/security"
)

// Dependencies is the single bundle handed to every component factory.
// MetricsRegistry and Logger may be nil, components must not assume
// they are wired.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Platform        PlatformMeta
	Security        security.Config
}

// GetLogger never returns nil, it falls back to slog.Default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent tags the logger with the instance name so log
// lines from different components can be told apart.
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

package component

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

// Factory creates a component instance from configuration.
// The factory receives raw JSON configuration and dependencies, parses its
// own config, and returns a properly initialized component. All I/O belongs
// in the component's Start() method, not in the factory.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"` // "input", "processor", "gateway"
	Protocol    string       `json:"protocol"`
	Description string       `json:"description"`
	Version     string       `json:"version"`
	Schema      ConfigSchema `json:"schema"`
	Factory     Factory      `json:"-"`
}

// RegistrationConfig provides a clean API for component registration
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Schema      ConfigSchema
	Type        string
	Protocol    string
	Description string
	Version     string
}

// InstanceConfig configures a single component instance
type InstanceConfig struct {
	Name    string          `json:"name" yaml:"name"`       // Factory name (e.g. "opcua")
	Type    string          `json:"type" yaml:"type"`       // Component type
	Enabled bool            `json:"enabled" yaml:"enabled"` // Disabled instances are skipped
	Config  json.RawMessage `json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate checks the instance configuration
func (c InstanceConfig) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "InstanceConfig", "Validate",
			"component name validation")
	}
	if c.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "InstanceConfig", "Validate",
			"component type validation")
	}
	return nil
}

// Registry manages component factories and instances.
// It provides thread-safe registration and lookup of both factories
// (for creation) and instances (for discovery and management).
type Registry struct {
	factories map[string]*Registration
	instances map[string]Discoverable
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Discoverable),
	}
}

// RegisterWithConfig registers a component factory from a RegistrationConfig
func (r *Registry) RegisterWithConfig(cfg RegistrationConfig) error {
	if cfg.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig",
			"factory name validation")
	}
	if cfg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig",
			"factory function validation")
	}
	if cfg.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterWithConfig",
			"component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[cfg.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("factory '%s' is already registered", cfg.Name),
			"Registry", "RegisterWithConfig", "duplicate factory check")
	}

	r.factories[cfg.Name] = &Registration{
		Name:        cfg.Name,
		Type:        cfg.Type,
		Protocol:    cfg.Protocol,
		Description: cfg.Description,
		Version:     cfg.Version,
		Schema:      cfg.Schema,
		Factory:     cfg.Factory,
	}
	return nil
}

// CreateComponent creates and registers a new component instance.
// The instanceName is the unique identifier for this instance
// (e.g., "opcua-boiler-line"). Factory functions don't do I/O,
// so no context is needed.
func (r *Registry) CreateComponent(
	instanceName string, config InstanceConfig, deps Dependencies,
) (Discoverable, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance name validation")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	registration, exists := r.factories[config.Name]
	r.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no factory registered for '%s'", config.Name),
			"Registry", "CreateComponent", "factory lookup")
	}

	instance, err := registration.Factory(config.Config, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "factory invocation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[instanceName]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("instance '%s' already exists", instanceName),
			"Registry", "CreateComponent", "duplicate instance check")
	}
	r.instances[instanceName] = instance

	return instance, nil
}

// GetInstance retrieves a component instance by name
func (r *Registry) GetInstance(name string) (Discoverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// RemoveInstance removes an instance from the registry
func (r *Registry) RemoveInstance(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// ListFactories returns the names of all registered factories
func (r *Registry) ListFactories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ListInstances returns the names of all created instances
func (r *Registry) ListInstances() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	return names
}

// FactoryInfo returns the registration metadata for a factory
func (r *Registry) FactoryInfo(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.factories[name]
	return reg, ok
}

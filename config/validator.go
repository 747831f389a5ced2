package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/irfanghat/databricks-industrial-automation-suite/component"
	"github.com/irfanghat/databricks-industrial-automation-suite/errors"
)

//go:embed config.schema.json
var configSchema []byte

// ComponentRegistry is the slice of the component registry the
// validator needs, kept narrow so tests can stub it.
type ComponentRegistry interface {
	GetComponentSchema(componentType string) (component.ConfigSchema, error)
}

// ValidateDocument checks a raw config document against the embedded
// JSON schema. It catches structural mistakes, wrong types and unknown
// security policies, before the document is unmarshaled into Config.
func ValidateDocument(data []byte) []component.ValidationError {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return []component.ValidationError{{
			Message: fmt.Sprintf("schema validation error: %v", err),
			Code:    "type",
		}}
	}
	if result.Valid() {
		return nil
	}

	errs := make([]component.ValidationError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, component.ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	return errs
}

// ValidateWithSchema checks a component config against the schema its
// factory declares. Types with no registered schema pass, so factories
// are not forced to declare one.
func (cm *Manager) ValidateWithSchema(
	ctx context.Context,
	registry ComponentRegistry,
	componentType string,
	config map[string]any,
) []component.ValidationError {
	if ctx.Err() != nil {
		return []component.ValidationError{{Field: "context", Message: "validation cancelled"}}
	}
	if registry == nil {
		cm.logger.Warn("Registry is nil, skipping schema validation", "component_type", componentType)
		return nil
	}

	schema, err := registry.GetComponentSchema(componentType)
	if err != nil {
		cm.logger.Warn("No schema available for component type",
			"component_type", componentType, "error", err)
		return nil
	}
	if len(schema.Properties) == 0 {
		return nil
	}

	errs := component.ValidateSchema(config, schema)
	if len(errs) > 0 {
		cm.logger.Info("Component configuration failed schema validation",
			"component_type", componentType, "error_count", len(errs))
	}
	return errs
}

// ValidateComponentConfig is ValidateWithSchema for configs still in
// their KV JSON form.
func (cm *Manager) ValidateComponentConfig(
	ctx context.Context,
	registry ComponentRegistry,
	componentType string,
	configJSON json.RawMessage,
) []component.ValidationError {
	var config map[string]any
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return []component.ValidationError{{
			Message: fmt.Sprintf("Invalid JSON configuration: %v", err),
			Code:    "type",
		}}
	}
	return cm.ValidateWithSchema(ctx, registry, componentType, config)
}

// ValidateAndPersistComponentConfig validates a component config and,
// if it passes, writes it to the KV bucket. The gateway's config API
// goes through here so nothing invalid ever lands in KV.
func (cm *Manager) ValidateAndPersistComponentConfig(
	ctx context.Context,
	registry ComponentRegistry,
	componentName, componentType string,
	configJSON json.RawMessage,
) error {
	var config map[string]any
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("invalid JSON configuration: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "parse config JSON")
	}

	if errs := cm.ValidateWithSchema(ctx, registry, componentType, config); len(errs) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("configuration validation failed: %s", errs[0].Message),
			"Manager", "ValidateAndPersistComponentConfig", "validate config")
	}

	data, err := json.Marshal(config)
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("failed to marshal config: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "marshal config")
	}
	if _, err := cm.kvStore.Put(ctx, "components."+componentName, data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("failed to persist config to KV: %w", err),
			"Manager", "ValidateAndPersistComponentConfig", "persist to KV")
	}

	cm.logger.Info("Component configuration validated and persisted",
		"component_name", componentName, "component_type", componentType)
	return nil
}

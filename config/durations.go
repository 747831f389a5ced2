package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration fields arrive in two shapes: humans write "2s" in config
// files, while round-tripped configs (Clone, KV sync) carry nanosecond
// numbers. The UnmarshalJSON methods below accept both.

func parseDurationValue(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		if val == "" {
			return 0, nil
		}
		return parseDurationWithDays(val)
	case float64:
		return time.Duration(val), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix,
// used for certificate lifetimes like "14d".
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func (g *GatewayConfig) UnmarshalJSON(data []byte) error {
	type plain GatewayConfig
	aux := struct {
		ReadTimeout  any `json:"read_timeout,omitempty"`
		WriteTimeout any `json:"write_timeout,omitempty"`
		*plain
	}{plain: (*plain)(g)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if g.ReadTimeout, err = parseDurationValue(aux.ReadTimeout); err != nil {
		return fmt.Errorf("gateway.read_timeout: %w", err)
	}
	if g.WriteTimeout, err = parseDurationValue(aux.WriteTimeout); err != nil {
		return fmt.Errorf("gateway.write_timeout: %w", err)
	}
	return nil
}

func (o *OPCUAConfig) UnmarshalJSON(data []byte) error {
	type plain OPCUAConfig
	aux := struct {
		SubscribeInterval any `json:"subscribe_interval,omitempty"`
		*plain
	}{plain: (*plain)(o)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if o.SubscribeInterval, err = parseDurationValue(aux.SubscribeInterval); err != nil {
		return fmt.Errorf("opcua.subscribe_interval: %w", err)
	}
	return nil
}

func (s *SimulatorConfig) UnmarshalJSON(data []byte) error {
	type plain SimulatorConfig
	aux := struct {
		UpdateInterval any `json:"update_interval,omitempty"`
		*plain
	}{plain: (*plain)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if s.UpdateInterval, err = parseDurationValue(aux.UpdateInterval); err != nil {
		return fmt.Errorf("simulator.update_interval: %w", err)
	}
	return nil
}

func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type plain NATSConfig
	aux := struct {
		ReconnectWait any `json:"reconnect_wait,omitempty"`
		*plain
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if n.ReconnectWait, err = parseDurationValue(aux.ReconnectWait); err != nil {
		return fmt.Errorf("nats.reconnect_wait: %w", err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ListValues returns the config as a flat dot-keyed map, masking secrets
// when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(nested)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads the config file at path and returns the value at the
// dot-separated key. Secret values are masked.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	values, err := ListValues(cfg, true)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue writes a single dot-separated key into the config file at path,
// preserving the rest, and coercing the value to the field's JSON type.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	flat := Flatten(nested)
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	flat[key] = coerce(flat[key], value)

	merged, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal updated config: %w", err)
	}
	updated := &Config{}
	if err := json.Unmarshal(merged, updated); err != nil {
		return fmt.Errorf("apply updated config: %w", err)
	}
	return writeConfig(path, updated)
}

// coerce converts the string value to match the existing value's JSON type.
func coerce(existing any, value string) any {
	switch existing.(type) {
	case float64:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	case bool:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

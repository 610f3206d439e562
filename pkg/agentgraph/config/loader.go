package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var decoders = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
}

// FromFile reads a settings file. The format follows the extension.
func FromFile(path string) (Config, error) {
	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return Config{}, fmt.Errorf("settings file %s: unsupported format", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("settings file %s: %w", path, err)
	}
	return cfg, nil
}

// FromYAML decodes a YAML mapping.
func FromYAML(data []byte) (Config, error) {
	return decode(data, yaml.Unmarshal)
}

// FromJSON decodes a JSON object.
func FromJSON(data []byte) (Config, error) {
	return decode(data, json.Unmarshal)
}

func decode(data []byte, unmarshal func([]byte, any) error) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return Config{}, err
	}
	return New(m), nil
}

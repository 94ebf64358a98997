package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config document. The format follows the file extension
// (.yaml/.yml, anything else is JSON). Unknown fields and trailing data are
// rejected for both formats.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays secrets and targets from the environment. Only variables
// that are set override the file; see EnvHelp for the list.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if err := cleanenv.ReadEnv(&cfg.Slack); err != nil {
		return fmt.Errorf("slack env: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg.Telegram); err != nil {
		return fmt.Errorf("telegram env: %w", err)
	}
	return nil
}

// EnvHelp describes the environment variables ApplyEnv reads.
func EnvHelp() string {
	var b strings.Builder
	header := "Environment variables:"
	if s, err := cleanenv.GetDescription(&SlackConfig{}, &header); err == nil {
		b.WriteString(s)
	}
	empty := ""
	if s, err := cleanenv.GetDescription(&TelegramConfig{}, &empty); err == nil {
		b.WriteString(s)
	}
	return b.String()
}

// toJSON converts YAML to JSON so one strict decoder serves both formats.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys makes every map key a string so the value can be JSON-marshaled.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

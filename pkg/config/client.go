package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AssistantModeRemote = "remote"
	AssistantModeDirect = "direct"
)

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL           string        `yaml:"server_url"`
	ChannelPollInterval time.Duration `yaml:"channel_poll_interval"`
	MessagePollInterval time.Duration `yaml:"message_poll_interval"`
	DemoFallback        bool          `yaml:"demo_fallback"`
	Assistant           struct {
		Mode    string `yaml:"mode"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		APIBase string `yaml:"api_base"`
	} `yaml:"assistant"`
}

func DefaultClient() *ClientConfig {
	cfg := &ClientConfig{
		ServerURL:           "http://localhost:8080",
		ChannelPollInterval: 5 * time.Second,
		MessagePollInterval: 3 * time.Second,
	}
	cfg.Assistant.Mode = AssistantModeRemote
	cfg.Assistant.Model = "gemini-2.0-flash"
	cfg.Assistant.APIBase = "https://generativelanguage.googleapis.com/v1beta"
	return cfg
}

// LoadClient reads a YAML client config. A missing file yields the defaults.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}

	defaults := DefaultClient()
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaults.ServerURL
	}
	if cfg.ChannelPollInterval <= 0 {
		cfg.ChannelPollInterval = defaults.ChannelPollInterval
	}
	if cfg.MessagePollInterval <= 0 {
		cfg.MessagePollInterval = defaults.MessagePollInterval
	}
	switch cfg.Assistant.Mode {
	case "":
		cfg.Assistant.Mode = defaults.Assistant.Mode
	case AssistantModeRemote, AssistantModeDirect:
	default:
		return nil, fmt.Errorf("unknown assistant mode: %s", cfg.Assistant.Mode)
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = defaults.Assistant.Model
	}
	if cfg.Assistant.APIBase == "" {
		cfg.Assistant.APIBase = defaults.Assistant.APIBase
	}
	return cfg, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	BaseURL  string `json:"base_url"`
	Auth     struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"auth"`
	Session struct {
		CheckIntervalSeconds int `json:"check_interval_seconds"`
		RefreshMarginSeconds int `json:"refresh_margin_seconds"`
	} `json:"session"`
	Chat struct {
		Model           string `json:"model"`
		AgentID         string `json:"agent_id"`
		Instance        string `json:"instance"`
		MaxPromptTokens int    `json:"max_prompt_tokens"`
	} `json:"chat"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".threadline"),
		LogLevel: "info",
		BaseURL:  "http://localhost:8000",
	}
	cfg.Session.CheckIntervalSeconds = 60
	cfg.Session.RefreshMarginSeconds = 300
	cfg.Chat.Model = "gpt-4o"
	cfg.Chat.MaxPromptTokens = 8000

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeConfig(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("THREADLINE_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if email := os.Getenv("THREADLINE_EMAIL"); email != "" {
		cfg.Auth.Email = email
	}
	if password := os.Getenv("THREADLINE_PASSWORD"); password != "" {
		cfg.Auth.Password = password
	}
	if model := os.Getenv("THREADLINE_MODEL"); model != "" {
		cfg.Chat.Model = model
	}

	return cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Telegram struct {
		BotToken           string `yaml:"bot_token"`
		PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
	} `yaml:"telegram"`
	Admin struct {
		Username        string `yaml:"username"`
		PasswordHash    string `yaml:"password_hash"`
		JWTSecret       string `yaml:"jwt_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"admin"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

// LoadConfig reads configuration from the specified YAML file. Environment
// variables DATABASE_URL and BOT_TOKEN override the file values.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	}
	if token := os.Getenv("BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}

	if config.Telegram.PollTimeoutSeconds == 0 {
		config.Telegram.PollTimeoutSeconds = 60
	}
	if config.Admin.TokenTTLMinutes == 0 {
		config.Admin.TokenTTLMinutes = 24 * 60
	}

	return config, nil
}

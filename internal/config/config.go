package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type APIConfig struct {
	Addr         string
	DatabaseURL  string
	ServiceToken string
	ConfirmTTL   time.Duration
}

type BotConfig struct {
	DiscordToken string
	GuildID      string
	APIBaseURL   string
	ServiceToken string
}

type WorkerConfig struct {
	DatabaseURL string
}

type CLIConfig struct {
	APIBaseURL   string
	ServiceToken string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("MONETA_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:         addr,
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ServiceToken: strings.TrimSpace(os.Getenv("MONETA_SERVICE_TOKEN")),
		ConfirmTTL:   envDurationDefault("MONETA_CONFIRM_TTL", 2*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ServiceToken == "" {
		return cfg, fmt.Errorf("MONETA_SERVICE_TOKEN is required")
	}
	return cfg, nil
}

func LoadBotFromEnv() (BotConfig, error) {
	cfg := BotConfig{
		DiscordToken: strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:      strings.TrimSpace(os.Getenv("MONETA_GUILD_ID")),
		APIBaseURL:   strings.TrimRight(envDefault("MONETA_API_BASE_URL", "http://localhost:8080"), "/"),
		ServiceToken: strings.TrimSpace(os.Getenv("MONETA_SERVICE_TOKEN")),
	}
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.ServiceToken == "" {
		return cfg, fmt.Errorf("MONETA_SERVICE_TOKEN is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL:   strings.TrimRight(envDefault("MNT_API_BASE_URL", "http://localhost:8080"), "/"),
		ServiceToken: strings.TrimSpace(os.Getenv("MONETA_SERVICE_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Catalog struct {
		BaseURL           string `yaml:"baseUrl"`
		TTL               string `yaml:"ttl"`
		RequestsPerMinute int    `yaml:"requestsPerMinute"`
		Timeout           string `yaml:"timeout"`
		AffiliateToken    string `yaml:"affiliateToken"`
	} `yaml:"catalog"`
	Game struct {
		RoundSeconds       int `yaml:"roundSeconds"`
		SuddenDeathSeconds int `yaml:"suddenDeathSeconds"`
	} `yaml:"game"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path. Values of the form ${VAR} are expanded from the
// environment, which LoadEnv may have populated from a .env file.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadEnv loads .env files into the process environment. Missing files are ignored;
// variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Game.RoundSeconds <= 0 {
		cfg.Game.RoundSeconds = 30
	}
	if cfg.Game.SuddenDeathSeconds <= 0 {
		cfg.Game.SuddenDeathSeconds = 10
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "musiguess.events"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

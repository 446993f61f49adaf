package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Bank struct {
		TTL string `yaml:"ttl"`
	} `yaml:"bank"`
	Gateway struct {
		KeyID     string `yaml:"key_id"`
		KeySecret string `yaml:"key_secret"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"gateway"`
}

// Load reads YAML config from path, then applies environment overrides for
// the gateway credentials.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if v := os.Getenv("RAZORPAY_KEY_ID"); v != "" {
		cfg.Gateway.KeyID = v
	}
	if v := os.Getenv("RAZORPAY_KEY_SECRET"); v != "" {
		cfg.Gateway.KeySecret = v
	}
	return cfg, nil
}

// DemoMode reports whether no live gateway is configured; every payment is
// then auto-confirmed at a forced payable of zero.
func (c Config) DemoMode() bool {
	return c.Gateway.KeyID == "" || c.Gateway.KeySecret == ""
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

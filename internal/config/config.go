package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode                string        `mapstructure:"mode"`
	Port                int           `mapstructure:"port"`
	ReadLimit           int64         `mapstructure:"read_limit"`
	PingPeriod          time.Duration `mapstructure:"ping_period"`
	Secret              string        `mapstructure:"secret"`
	StorePath           string        `mapstructure:"store_path"`
	PlatformFeeRate     float64       `mapstructure:"platform_fee_rate"`
	OfflineQueueCap     int           `mapstructure:"offline_queue_cap"`
	OrphanSweepInterval time.Duration `mapstructure:"orphan_sweep_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("store_path", "./advisory.db")
	v.SetDefault("platform_fee_rate", 0.15)
	v.SetDefault("offline_queue_cap", 200)
	v.SetDefault("orphan_sweep_interval", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Store: %s\n", cfg.Mode, cfg.Port, cfg.StorePath)
	return &cfg, nil
}

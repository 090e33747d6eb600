// Package config holds mnemo configuration: typed defaults, an optional
// YAML file, and MNEMO_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mnemo configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Cadence CadenceConfig `yaml:"cadence"`
	Queue   QueueConfig   `yaml:"queue"`
	Engine  EngineConfig  `yaml:"engine"`
	Recall  RecallConfig  `yaml:"recall"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
	// RatePerSec limits POST /api/messages per client. 0 disables.
	RatePerSec float64 `yaml:"ratePerSec"`
	RateBurst  int     `yaml:"rateBurst"`
}

type StoreConfig struct {
	// Engine is "sqlite" or "postgres".
	Engine string `yaml:"engine"`
	// Path is the sqlite database file. Empty resolves to
	// ~/.mnemo/mnemo.db at runtime.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
}

type CadenceConfig struct {
	MsgThreshold   int           `yaml:"msgThreshold"`
	TokenThreshold int           `yaml:"tokenThreshold"`
	MaxWindow      time.Duration `yaml:"maxWindow"`
	Debounce       time.Duration `yaml:"debounce"`
}

type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	Workers  int `yaml:"workers"`
}

type EngineConfig struct {
	SaveThreshold     float64 `yaml:"saveThreshold"`
	PromoteRepeats    int     `yaml:"promoteRepeats"`
	BatchSize         int     `yaml:"batchSize"`
	RetentionSchedule string  `yaml:"retentionSchedule"`
	WindowCap         int     `yaml:"windowCap"`
}

type RecallConfig struct {
	MaxItems int           `yaml:"maxItems"`
	Deadline time.Duration `yaml:"deadline"`
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:       "127.0.0.1",
			Port:       37740,
			RatePerSec: 50,
			RateBurst:  100,
		},
		Store: StoreConfig{
			Engine: "sqlite",
			Path:   "", // resolved at runtime via sqlite.DefaultDBPath()
		},
		Cadence: CadenceConfig{
			MsgThreshold:   6,
			TokenThreshold: 1500,
			MaxWindow:      3 * time.Minute,
			Debounce:       30 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 256,
			Workers:  2,
		},
		Engine: EngineConfig{
			SaveThreshold:     0.5,
			PromoteRepeats:    3,
			BatchSize:         200,
			RetentionSchedule: "@daily",
			WindowCap:         50,
		},
		Recall: RecallConfig{
			MaxItems: 5,
			Deadline: 30 * time.Millisecond,
		},
	}
}

// Load builds the effective config: defaults, then the YAML file at
// path (skipped when path is empty or absent), then environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// missing file is fine, defaults apply
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays MNEMO_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Bind, "MNEMO_BIND")
	setInt(&cfg.Server.Port, "MNEMO_PORT")
	setString(&cfg.Store.Engine, "MNEMO_STORE_ENGINE")
	setString(&cfg.Store.Path, "MNEMO_DB_PATH")
	setString(&cfg.Store.DSN, "MNEMO_POSTGRES_DSN")
	setInt(&cfg.Cadence.MsgThreshold, "MNEMO_CADENCE_MSGS")
	setInt(&cfg.Cadence.TokenThreshold, "MNEMO_CADENCE_TOKENS")
	setDuration(&cfg.Cadence.MaxWindow, "MNEMO_CADENCE_WINDOW")
	setDuration(&cfg.Cadence.Debounce, "MNEMO_CADENCE_DEBOUNCE")
	setInt(&cfg.Queue.Capacity, "MNEMO_QUEUE_CAPACITY")
	setInt(&cfg.Queue.Workers, "MNEMO_QUEUE_WORKERS")
	setFloat(&cfg.Engine.SaveThreshold, "MNEMO_SAVE_THRESHOLD")
	setString(&cfg.Engine.RetentionSchedule, "MNEMO_RETENTION_SCHEDULE")
	setInt(&cfg.Recall.MaxItems, "MNEMO_RECALL_MAX_ITEMS")
	setDuration(&cfg.Recall.Deadline, "MNEMO_RECALL_DEADLINE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

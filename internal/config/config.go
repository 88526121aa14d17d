// Package config loads and validates the replication engine's configuration
// (§6). Values come from a YAML file, then environment variables take
// precedence for the handful of secrets and per-deployment values, mirroring
// the way the teacher's cmd/authn loads a config path from a flag/env
// fallback before handing off to struct validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shipsync/offline-sync/internal/errs"
)

// Mode selects which role this process boots into.
type Mode string

const (
	ModeMaster  Mode = "master"
	ModeReplica Mode = "replica"
)

type Config struct {
	Mode   Mode   `yaml:"mode" validate:"required,oneof=master replica"`
	ShipID string `yaml:"shipId"`

	Bus   BusConfig   `yaml:"bus"`
	Topics TopicsConfig `yaml:"topics"`
	Sync  SyncConfig  `yaml:"sync"`

	ContentTypes []string `yaml:"contentTypes"`

	// ConflictStrategies maps a content type to one of the C6 resolver's
	// strategy names (last-write-wins, master-wins, manual, merge); a content
	// type absent from this map falls back to the resolver's default.
	ConflictStrategies map[string]string `yaml:"conflictStrategies"`

	Media MediaConfig `yaml:"media"`
	DB    DBConfig    `yaml:"db"`
	HTTP  HTTPConfig  `yaml:"http"`
	Log   LogConfig   `yaml:"log"`
}

type BusConfig struct {
	Brokers  []string `yaml:"brokers" validate:"required,min=1"`
	ClientID string   `yaml:"clientId"`
	SSL      bool     `yaml:"ssl"`
	SASL     struct {
		Mechanism string `yaml:"mechanism"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
	} `yaml:"sasl"`
}

type TopicsConfig struct {
	ShipUpdates    string `yaml:"shipUpdates"`
	MasterUpdates  string `yaml:"masterUpdates"`
}

type SyncConfig struct {
	BatchSize                 int           `yaml:"batchSize" validate:"min=1"`
	RetryAttempts             int           `yaml:"retryAttempts" validate:"min=0"`
	RetryDelay                time.Duration `yaml:"retryDelay"`
	ConnectivityCheckInterval time.Duration `yaml:"connectivityCheckInterval"`
	DebounceMs                time.Duration `yaml:"debounceMs"`
	HeartbeatInterval         time.Duration `yaml:"heartbeatInterval"`
}

type MediaConfig struct {
	Provider string `yaml:"provider" validate:"omitempty,oneof=s3 azure"`
	Origin   struct {
		Bucket    string `yaml:"bucket"`
		Container string `yaml:"container"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
	} `yaml:"origin"`
	Cache struct {
		Dir string `yaml:"dir"`
	} `yaml:"cache"`
	SyncInterval time.Duration `yaml:"syncInterval"`
	Concurrency  int           `yaml:"concurrency" validate:"min=1"`
}

type DBConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a config pre-populated with §6's defaults.
func Default() *Config {
	c := &Config{
		Mode: ModeReplica,
		Bus: BusConfig{
			Brokers: []string{"localhost:9092"},
		},
		Topics: TopicsConfig{
			ShipUpdates:   "ship-updates",
			MasterUpdates: "master-updates",
		},
		Sync: SyncConfig{
			BatchSize:                 100,
			RetryAttempts:             3,
			RetryDelay:                5000 * time.Millisecond,
			ConnectivityCheckInterval: 30000 * time.Millisecond,
			DebounceMs:                1000 * time.Millisecond,
			HeartbeatInterval:         30000 * time.Millisecond,
		},
		Media: MediaConfig{
			Provider:     "s3",
			SyncInterval: 5 * time.Minute,
			Concurrency:  8,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
	c.Media.Cache.Dir = "./media-cache"
	c.Bus.ClientID = "offline-sync"
	return c
}

// Load reads a YAML file at path, merges environment overrides, then
// validates. Returns a KindConfig error on any failure (§7: ConfigError
// fails fast at startup).
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Config("reading config file", err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, errs.Config("parsing config file", err)
		}
	}

	applyEnvOverrides(c)

	if c.Mode == ModeReplica && c.ShipID == "" {
		return nil, errs.Config("validating config", fmt.Errorf("shipId is required when mode=replica"))
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return nil, errs.Config("validating config", err)
	}
	return c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("SYNC_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("SYNC_SHIP_ID"); v != "" {
		c.ShipID = v
	}
	if v := os.Getenv("SYNC_DB_DSN"); v != "" {
		c.DB.DSN = v
	}
	if v := os.Getenv("SYNC_BUS_SASL_PASSWORD"); v != "" {
		c.Bus.SASL.Password = v
	}
	if v := os.Getenv("SYNC_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
}

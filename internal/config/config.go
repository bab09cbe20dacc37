// Package config loads the Raceboard server configuration from YAML with
// environment-variable overrides, following the layered
// Defaults -> Validate -> (optional hot reload) shape the rest of this
// codebase's ambient infrastructure uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	HTTPHost   string `yaml:"http_host"`
	HTTPPort   int    `yaml:"http_port"`
	StreamPort int    `yaml:"stream_port"`
	ReadOnly   bool   `yaml:"read_only"`
}

type Storage struct {
	Path               string `yaml:"path"`
	FlushBatch         int    `yaml:"flush_batch"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	LegacyReadFallback bool   `yaml:"legacy_read_fallback"`
}

type Active struct {
	MaxRaces         int `yaml:"max_races"`
	MaxEventsPerRace int `yaml:"max_events_per_race"`
}

type Cluster struct {
	EpsRange          [2]float64 `yaml:"eps_range"`
	MinSamples        int        `yaml:"min_samples"`
	WTitle            float64    `yaml:"w_title"`
	WMeta             float64    `yaml:"w_meta"`
	RebuildInterval   time.Duration `yaml:"rebuild_interval"`
	MaxRebuildDuration time.Duration `yaml:"max_rebuild_duration"`
	KneedleSensitivity float64   `yaml:"kneedle_sensitivity"`
	EpsEMASmoothing    float64   `yaml:"eps_ema_smoothing"`
}

type Prediction struct {
	SourceDefaults    map[string]int `yaml:"source_defaults"`
	BootstrapDefaults map[string]int `yaml:"bootstrap_defaults"`
}

type Health struct {
	ReportGrace    time.Duration `yaml:"report_grace"`
	DelayedMult    float64       `yaml:"delayed_mult"`
	AbsentMult     float64       `yaml:"absent_mult"`
	AbandonedMult  float64       `yaml:"abandoned_mult"`
	TTLAbandoned   time.Duration `yaml:"ttl_abandoned"`
	TTLStopped     time.Duration `yaml:"ttl_stopped"`
	MaxPerType     int           `yaml:"max_per_type"`
	MaxTotal       int           `yaml:"max_total"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Storage    Storage    `yaml:"storage"`
	Active     Active     `yaml:"active"`
	Cluster    Cluster    `yaml:"cluster"`
	Prediction Prediction `yaml:"prediction"`
	Health     Health     `yaml:"health"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend"`
}

const EnvPrefix = "RACEBOARD_"

func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Server: Server{HTTPHost: "127.0.0.1", HTTPPort: 7777, StreamPort: 50051},
		Storage: Storage{
			Path:            home + "/.raceboard/eta_history.db",
			FlushBatch:      100,
			FlushIntervalMs: 250,
		},
		Active: Active{MaxRaces: 1000, MaxEventsPerRace: 1000},
		Cluster: Cluster{
			EpsRange:           [2]float64{0.3, 0.5},
			MinSamples:         3,
			WTitle:             0.6,
			WMeta:              0.4,
			RebuildInterval:    7 * 24 * time.Hour,
			MaxRebuildDuration: 10 * time.Minute,
			KneedleSensitivity: 1.0,
			EpsEMASmoothing:    0.3,
		},
		Prediction: Prediction{
			SourceDefaults:    map[string]int{},
			BootstrapDefaults: map[string]int{"cargo": 45, "npm": 30, "claude-code": 60},
		},
		Health: Health{
			ReportGrace:   30 * time.Second,
			DelayedMult:   1.5,
			AbsentMult:    2.0,
			AbandonedMult: 3.0,
			TTLAbandoned:  24 * time.Hour,
			TTLStopped:    1 * time.Hour,
			MaxPerType:    10,
			MaxTotal:      100,
		},
		MetricsEnabled: true,
		MetricsBackend: "prometheus",
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Server.StreamPort <= 0 || c.Server.StreamPort > 65535 {
		return fmt.Errorf("server.stream_port out of range: %d", c.Server.StreamPort)
	}
	if c.Active.MaxRaces <= 0 {
		return fmt.Errorf("active.max_races must be positive")
	}
	if c.Cluster.EpsRange[0] <= 0 || c.Cluster.EpsRange[1] < c.Cluster.EpsRange[0] {
		return fmt.Errorf("cluster.eps_range invalid: %v", c.Cluster.EpsRange)
	}
	if c.Cluster.MinSamples <= 0 {
		return fmt.Errorf("cluster.min_samples must be positive")
	}
	return nil
}

// applyEnvOverrides walks the recognized keys and checks for
// RACEBOARD_<SECTION>__<FIELD> style environment variables, per spec §6.
func applyEnvOverrides(c *Config) {
	setInt := func(env string, dst *int) {
		if v, ok := os.LookupEnv(env); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v, ok := os.LookupEnv(env); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setStr := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}

	setStr(EnvPrefix+"SERVER__HTTP_HOST", &c.Server.HTTPHost)
	setInt(EnvPrefix+"SERVER__HTTP_PORT", &c.Server.HTTPPort)
	setInt(EnvPrefix+"SERVER__STREAM_PORT", &c.Server.StreamPort)
	setBool(EnvPrefix+"SERVER__READ_ONLY", &c.Server.ReadOnly)
	setStr(EnvPrefix+"STORAGE__PATH", &c.Storage.Path)
	setInt(EnvPrefix+"STORAGE__FLUSH_BATCH", &c.Storage.FlushBatch)
	setInt(EnvPrefix+"ACTIVE__MAX_RACES", &c.Active.MaxRaces)
	setInt(EnvPrefix+"ACTIVE__MAX_EVENTS_PER_RACE", &c.Active.MaxEventsPerRace)
}

// MutableFields is the subset of Config the hot-reload watcher is allowed
// to apply without a restart: toggling read-only mode and retuning cluster
// rebuild cadence are safe; changing storage paths or ports is not.
type MutableFields struct {
	ReadOnly           bool
	RebuildInterval    time.Duration
	MaxRebuildDuration time.Duration
	DelayedMult        float64
	AbsentMult         float64
	AbandonedMult      float64
}

func (c Config) Mutable() MutableFields {
	return MutableFields{
		ReadOnly:           c.Server.ReadOnly,
		RebuildInterval:    c.Cluster.RebuildInterval,
		MaxRebuildDuration: c.Cluster.MaxRebuildDuration,
		DelayedMult:        c.Health.DelayedMult,
		AbsentMult:         c.Health.AbsentMult,
		AbandonedMult:      c.Health.AbandonedMult,
	}
}

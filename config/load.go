package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"ox-maker-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                      `yaml:"env"`
	Quoting     QuotingConfig               `yaml:"quoting"`
	Gateway     GatewayConfig               `yaml:"gateway"`
	Log         logger.Config               `yaml:"log"`
	MetricsAddr string                      `yaml:"metricsAddr"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
}

// QuotingConfig is the decision engine's parameter surface.
type QuotingConfig struct {
	MinSpreadThreshold            float64 `yaml:"minSpreadThreshold"`    // relative spread floor
	MinDistanceFromIndex          float64 `yaml:"minDistanceFromIndex"`  // |mid-index|/index floor
	OrderNotionalUSD              float64 `yaml:"orderNotionalUsd"`      // per-order value
	ReconciliationIntervalSeconds int     `yaml:"reconciliationIntervalSeconds"`
	MaxActiveInstruments          int     `yaml:"maxActiveInstruments"`
	FreshnessFactor               int     `yaml:"freshnessFactor"`      // staleness = factor * interval
	SelectionDwellCycles          int     `yaml:"selectionDwellCycles"` // anti-flapping residency
}

type GatewayConfig struct {
	APIKey    string  `yaml:"apiKey"`
	APISecret string  `yaml:"apiSecret"`
	BaseURL   string  `yaml:"baseURL"`
	WSURL     string  `yaml:"wsURL"`
	RestRate  float64 `yaml:"restRate"`  // REST tokens per second
	RestBurst int     `yaml:"restBurst"` // REST max burst
}

// InstrumentConfig is the static per-instrument metadata. The key set is
// the configured universe; it does not change at runtime.
type InstrumentConfig struct {
	TickSize float64 `yaml:"tickSize"`
	MinSize  float64 `yaml:"minSize"`
}

// Load reads YAML config from path and applies validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides credentials from env
// vars when present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("OX_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("OX_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Quoting.ReconciliationIntervalSeconds == 0 {
		cfg.Quoting.ReconciliationIntervalSeconds = 5
	}
	if cfg.Quoting.MaxActiveInstruments == 0 {
		cfg.Quoting.MaxActiveInstruments = 7
	}
	if cfg.Quoting.FreshnessFactor == 0 {
		cfg.Quoting.FreshnessFactor = 3
	}
	if cfg.Quoting.SelectionDwellCycles == 0 {
		cfg.Quoting.SelectionDwellCycles = 3
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.ox.fun"
	}
	if cfg.Gateway.WSURL == "" {
		cfg.Gateway.WSURL = "wss://api.ox.fun/v2/websocket"
	}
	if cfg.Gateway.RestRate == 0 {
		cfg.Gateway.RestRate = 5
	}
	if cfg.Gateway.RestBurst == 0 {
		cfg.Gateway.RestBurst = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
}

// Validate ensures required fields are present and sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	q := cfg.Quoting
	if q.MinSpreadThreshold <= 0 {
		return errors.New("quoting.minSpreadThreshold must be > 0")
	}
	if q.MinDistanceFromIndex < 0 {
		return errors.New("quoting.minDistanceFromIndex must be >= 0")
	}
	if q.OrderNotionalUSD <= 0 {
		return errors.New("quoting.orderNotionalUsd must be > 0")
	}
	if q.ReconciliationIntervalSeconds <= 0 {
		return errors.New("quoting.reconciliationIntervalSeconds must be > 0")
	}
	if q.MaxActiveInstruments <= 0 {
		return errors.New("quoting.maxActiveInstruments must be > 0")
	}
	if q.FreshnessFactor <= 0 {
		return errors.New("quoting.freshnessFactor must be > 0")
	}
	if q.SelectionDwellCycles < 0 {
		return errors.New("quoting.selectionDwellCycles must be >= 0")
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
		return errors.New("gateway.apiKey/apiSecret is required (or OX_API_KEY/OX_API_SECRET)")
	}
	if len(cfg.Instruments) == 0 {
		return errors.New("instruments config is required")
	}
	for inst, ic := range cfg.Instruments {
		if ic.TickSize <= 0 {
			return fmt.Errorf("instrument %s tickSize must be > 0", inst)
		}
		if ic.MinSize <= 0 {
			return fmt.Errorf("instrument %s minSize must be > 0", inst)
		}
	}
	return nil
}

// Universe returns the configured instrument ids in deterministic order.
func (c AppConfig) Universe() []string {
	out := make([]string, 0, len(c.Instruments))
	for inst := range c.Instruments {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

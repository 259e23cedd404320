package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Strategy types accepted in the config file.
const (
	TypeOrderBlock        = "order_block"
	TypeMeanReversion     = "mean_reversion"
	TypeTrendContinuation = "trend_continuation"
)

const defaultSize = 0.01

// Config represents a strategy configuration entry in YAML.
type Config struct {
	Name       string             `yaml:"name"`
	Type       string             `yaml:"type"`
	Symbols    []string           `yaml:"symbols"`
	Size       float64            `yaml:"size"`
	Parameters map[string]float64 `yaml:"parameters"`
	IsActive   bool               `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a strategies document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	return file.Strategies, nil
}

func (c Config) param(key string, def float64) float64 {
	if v, ok := c.Parameters[key]; ok {
		return v
	}
	return def
}

// New builds the variant named by cfg.Type.
func New(cfg Config) (Strategy, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Type
	}
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	switch cfg.Type {
	case TypeOrderBlock:
		return NewOrderBlockStrategy(name, int(cfg.param("lookback", 20)), cfg.param("buffer", 0.001), size), nil
	case TypeMeanReversion:
		return NewMeanReversionStrategy(name, int(cfg.param("period", 20)), cfg.param("entry_z", 2), size), nil
	case TypeTrendContinuation:
		return NewTrendContinuationStrategy(name, int(cfg.param("fast_period", 10)), int(cfg.param("slow_period", 30)), size), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}

package strategy

import (
	"fmt"

	"go.uber.org/zap"
)

type entry struct {
	strategy Strategy
	symbols  map[string]bool // empty means every symbol
}

// Registry holds the active strategies in config order.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// NewRegistry builds every active strategy in cfgs. Duplicate names and
// unknown types are errors.
func NewRegistry(cfgs []Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("strategy").Sugar()

	r := &Registry{byName: make(map[string]int)}
	for _, cfg := range cfgs {
		if !cfg.IsActive {
			log.Infof("strategy %s inactive, skipped", cfg.Name)
			continue
		}
		s, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		if _, dup := r.byName[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate strategy name %q", s.Name())
		}
		e := entry{strategy: s, symbols: make(map[string]bool, len(cfg.Symbols))}
		for _, sym := range cfg.Symbols {
			e.symbols[sym] = true
		}
		r.byName[s.Name()] = len(r.entries)
		r.entries = append(r.entries, e)
		log.Infof("✅ strategy loaded: %s (%s) symbols=%v", s.Name(), cfg.Type, cfg.Symbols)
	}
	return r, nil
}

// DefaultRegistry is used when no strategy file is present.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r, _ := NewRegistry([]Config{{
		Name:     "mean_reversion_default",
		Type:     TypeMeanReversion,
		IsActive: true,
	}}, logger)
	return r
}

// Get returns a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.entries[i].strategy, true
}

// ForSymbol returns the strategies that trade symbol.
func (r *Registry) ForSymbol(symbol string) []Strategy {
	var out []Strategy
	for _, e := range r.entries {
		if len(e.symbols) == 0 || e.symbols[symbol] {
			out = append(out, e.strategy)
		}
	}
	return out
}

// Names lists the loaded strategies in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.strategy.Name())
	}
	return out
}

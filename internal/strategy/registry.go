package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Kind names a strategy family.
type Kind string

const (
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
	KindRSI           Kind = "rsi"
	KindMACrossover   Kind = "ma_crossover"
	KindMACD          Kind = "macd"
	KindBollinger     Kind = "bollinger"
)

// Params are the resolved numeric parameters of one strategy instance.
type Params map[string]float64

// Int returns the parameter rounded to the nearest integer.
func (p Params) Int(key string) int {
	v := p[key]
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

// Reading is a strategy's raw opinion before it becomes a Signal.
type Reading struct {
	Direction domain.Direction
	Strength  float64
}

// Flat is the "no opinion" reading.
var Flat = Reading{Direction: domain.DirectionFlat}

// Bound is the optimizer range for one parameter of a kind.
type Bound struct {
	Min     float64
	Max     float64
	Integer bool
}

// Definition describes one strategy kind. Eval receives at least
// Lookback(p)+1 closes.
type Definition struct {
	Kind     Kind
	Defaults Params
	Bounds   map[string]Bound
	Lookback func(p Params) int
	Eval     func(closes []float64, p Params) Reading
	// Validate enforces cross-parameter constraints. Optional.
	Validate func(p Params) error
}

// Registry maps strategy kinds to their definitions. It is safe for
// concurrent use.
type Registry struct {
	defs map[Kind]Definition
	mu   sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[Kind]Definition),
	}
}

// DefaultRegistry returns a registry holding every built-in kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtins() {
		r.Register(d)
	}
	return r
}

// Register adds a definition, replacing any with the same kind.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Kind] = d
}

// Get retrieves a definition by kind.
func (r *Registry) Get(kind Kind) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[kind]
	if !ok {
		return Definition{}, fmt.Errorf("%w: strategy kind %q not registered", domain.ErrInvalidConfig, kind)
	}
	return d, nil
}

// List returns the registered kinds in sorted order.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Registry manages the set of signal providers available to the scheduler.
// It is safe for concurrent use.
type Registry struct {
	providers map[domain.StrategyID]SignalProvider
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[domain.StrategyID]SignalProvider),
	}
}

// Register adds a provider under its own name. If a provider with the same
// name already exists it will be replaced.
func (r *Registry) Register(p SignalProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name domain.StrategyID) (SignalProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return p, nil
}

// List returns the names of all registered providers in sorted order.
func (r *Registry) List() []domain.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.StrategyID, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Factory builds a provider from its tuning parameters.
type Factory func(Params) SignalProvider

// Builtins is the explicit table of providers shipped with the bot.
var Builtins = map[domain.StrategyID]Factory{
	"moving_average":      func(p Params) SignalProvider { return NewMovingAverage(p) },
	"rsi":                 func(p Params) SignalProvider { return NewRSI(p) },
	"bollinger":           func(p Params) SignalProvider { return NewBollinger(p) },
	"trend_following":     func(p Params) SignalProvider { return NewTrendFollowing(p) },
	"grid_trading":        func(p Params) SignalProvider { return NewGridTrading(p) },
	"volatility_breakout": func(p Params) SignalProvider { return NewVolatilityBreakout(p) },
	"momentum":            func(p Params) SignalProvider { return NewMomentum(p) },
}

// New builds the builtin provider called name.
func New(name domain.StrategyID, p Params) (SignalProvider, error) {
	f, ok := Builtins[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: unknown", name)
	}
	return f(p), nil
}

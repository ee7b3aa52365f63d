package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/tinkclaw/internal/core"
	"go.uber.org/zap"
)

// Registry holds the named strategies available to the runtime
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *zap.Logger
}

// NewRegistry creates a new strategy registry
func NewRegistry(logger ...*zap.Logger) *Registry {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Registry{
		strategies: make(map[string]Strategy),
		logger:     l,
	}
}

// Register adds a strategy to the registry
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// GetAll returns all registered strategies sorted by name
func (r *Registry) GetAll() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Configure initializes the named strategy and returns its decision func
func (r *Registry) Configure(name string, cfg Config) (DecideFunc, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, core.NotFound("strategy " + name)
	}
	if err := s.Init(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy %s: %w", name, err))
	}
	r.logger.Info("strategy configured",
		zap.String("strategy", name),
		zap.String("description", s.Description()),
	)
	return Func(s), nil
}

package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used throughout the package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides automation management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups, and
// keeps the trigger registry in sync: create/update/enable register
// triggers, disable/delete unregister them.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	triggers *TriggerRegistry
	cache    map[string]*Automation // Cached automations by ID
	cacheMu  sync.RWMutex           // Protects cache
	logger   Logger
}

// NewRegistry creates a new automation registry.
// The repository is used for persistence; the trigger registry receives
// subscriptions for every enabled automation.
func NewRegistry(repo Repository, triggers *TriggerRegistry) *Registry {
	return &Registry{
		repo:     repo,
		triggers: triggers,
		cache:    make(map[string]*Automation),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RefreshCache reloads all automations from the repository into the cache
// and re-registers triggers for every enabled automation.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	automations, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]*Automation, len(automations))
	for i := range automations {
		a := automations[i]
		r.cache[a.ID] = a.DeepCopy()
	}
	r.cacheMu.Unlock()

	for i := range automations {
		if automations[i].Enabled {
			r.triggers.Register(&automations[i])
		}
	}

	r.logger.Info("automation cache refreshed", "count", len(automations))
	return nil
}

// Get retrieves an automation by ID.
// The returned automation is a deep copy; callers can safely modify it.
func (r *Registry) Get(_ context.Context, id string) (*Automation, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrAutomationNotFound
}

// List retrieves all automations from the cache.
// Returns deep copies sorted by priority then name for deterministic ordering.
func (r *Registry) List(_ context.Context) ([]Automation, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	automations := make([]Automation, 0, len(r.cache))
	for _, a := range r.cache {
		automations = append(automations, *a.DeepCopy())
	}
	sortAutomations(automations)
	return automations, nil
}

// sortAutomations sorts by priority then name, matching the DB query ordering.
func sortAutomations(automations []Automation) {
	sort.Slice(automations, func(i, j int) bool {
		if automations[i].Priority != automations[j].Priority {
			return automations[i].Priority < automations[j].Priority
		}
		return automations[i].Name < automations[j].Name
	})
}

// Create validates, persists, caches, and registers a new automation.
func (r *Registry) Create(ctx context.Context, a *Automation) error {
	if a != nil {
		if a.ID == "" {
			a.ID = GenerateID()
		}
		if a.Priority == 0 {
			a.Priority = defaultPriority
		}
		if a.Mode == "" {
			a.Mode = ModeSingle
		}
		for i := range a.Triggers {
			if a.Triggers[i].ID == "" {
				a.Triggers[i].ID = GenerateID()
			}
		}
		for i := range a.Actions {
			if a.Actions[i].ID == "" {
				a.Actions[i].ID = GenerateID()
			}
		}
	}

	if err := ValidateAutomation(a); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, a); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[a.ID] = a.DeepCopy()
	r.cacheMu.Unlock()

	if a.Enabled {
		r.triggers.Register(a)
	}

	r.logger.Info("automation created", "id", a.ID, "name", a.Name)
	return nil
}

// Update validates, persists, and re-registers an automation.
// Old trigger subscriptions are always removed before the new ones are
// added, so updates never leave duplicate subscriptions behind.
func (r *Registry) Update(ctx context.Context, a *Automation) error {
	if err := ValidateAutomation(a); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, a); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[a.ID] = a.DeepCopy()
	r.cacheMu.Unlock()

	r.triggers.Unregister(a.ID)
	if a.Enabled {
		r.triggers.Register(a)
	}

	r.logger.Info("automation updated", "id", a.ID, "name", a.Name)
	return nil
}

// SetEnabled flips an automation's enabled flag, registering or
// unregistering its triggers accordingly.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	a.Enabled = enabled
	return r.Update(ctx, a)
}

// Delete removes an automation from persistence, cache, and the trigger
// registry. Execution history cascades via the schema.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.triggers.Unregister(id)

	r.logger.Info("automation deleted", "id", id)
	return nil
}

// RecordExecution updates an automation's statistics after a run.
// Implements the orchestrator's StatisticsSink.
func (r *Registry) RecordExecution(ctx context.Context, automationID string, success bool, at time.Time) error {
	r.cacheMu.Lock()
	cached, ok := r.cache[automationID]
	if !ok {
		r.cacheMu.Unlock()
		return ErrAutomationNotFound
	}

	cached.Statistics.ExecutionCount++
	if success {
		cached.Statistics.SuccessCount++
	} else {
		cached.Statistics.FailureCount++
	}
	stamp := at
	cached.Statistics.LastExecuted = &stamp
	updated := cached.DeepCopy()
	r.cacheMu.Unlock()

	if err := r.repo.Update(ctx, updated); err != nil {
		return fmt.Errorf("persisting statistics: %w", err)
	}
	return nil
}

// Count returns the number of cached automations.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

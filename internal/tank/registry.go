package tank

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the source of truth for tank identity, address and poll
// interval. It fronts a Repository with an in-memory cache that is swapped
// only after the repository change committed, so readers never observe a
// partial update.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	// writeMu serialises mutations so cache and store change in the same order.
	writeMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]Tank

	defaultInterval int
	logger          Logger
}

// NewRegistry creates a registry over repo. Tanks created with a zero poll
// interval get defaultInterval seconds.
func NewRegistry(repo Repository, defaultInterval int) *Registry {
	return &Registry{
		repo:            repo,
		cache:           make(map[string]Tank),
		defaultInterval: defaultInterval,
		logger:          noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load fills the cache from the repository. Call once at startup.
func (r *Registry) Load(ctx context.Context) error {
	tanks, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading tanks: %w", err)
	}
	r.replaceCache(tanks)
	r.logger.Info("tank registry loaded", "count", len(tanks))
	return nil
}

// Get returns one tank or ErrTankNotFound.
func (r *Registry) Get(id string) (Tank, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	t, ok := r.cache[id]
	if !ok {
		return Tank{}, ErrTankNotFound
	}
	return t, nil
}

// List returns all tanks ordered by ID.
func (r *Registry) List() []Tank {
	r.cacheMu.RLock()
	tanks := make([]Tank, 0, len(r.cache))
	for _, t := range r.cache {
		tanks = append(tanks, t)
	}
	r.cacheMu.RUnlock()

	sort.Slice(tanks, func(i, j int) bool { return tanks[i].ID < tanks[j].ID })
	return tanks
}

// Count returns the number of registered tanks.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Exists reports whether id or address is already registered. The tank
// named by exceptID is ignored, so an edit does not collide with itself.
func (r *Registry) Exists(id, address, exceptID string) (idTaken, addressTaken bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, t := range r.cache {
		if t.ID == exceptID {
			continue
		}
		if t.ID == id {
			idTaken = true
		}
		if t.Address == address {
			addressTaken = true
		}
	}
	return idTaken, addressTaken
}

// Create validates and persists a new tank.
func (r *Registry) Create(ctx context.Context, t Tank) (Tank, error) {
	if t.PollIntervalSeconds == 0 {
		t.PollIntervalSeconds = r.defaultInterval
	}
	if err := Validate(t); err != nil {
		return Tank{}, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	idTaken, addressTaken := r.Exists(t.ID, t.Address, "")
	switch {
	case idTaken:
		return Tank{}, ErrTankExists
	case addressTaken:
		return Tank{}, ErrAddressInUse
	}

	if err := r.repo.Create(ctx, &t); err != nil {
		return Tank{}, err
	}

	r.cacheMu.Lock()
	r.cache[t.ID] = t
	r.cacheMu.Unlock()

	r.logger.Info("tank created", "tank_id", t.ID, "address", t.Address)
	return t, nil
}

// Update changes the tank stored under oldID. When t.ID differs from oldID
// the tank is renamed and its history follows it.
func (r *Registry) Update(ctx context.Context, oldID string, t Tank) (Tank, error) {
	if t.PollIntervalSeconds == 0 {
		t.PollIntervalSeconds = r.defaultInterval
	}
	if err := Validate(t); err != nil {
		return Tank{}, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, err := r.Get(oldID)
	if err != nil {
		return Tank{}, err
	}

	idTaken, addressTaken := r.Exists(t.ID, t.Address, oldID)
	switch {
	case idTaken:
		return Tank{}, ErrTankExists
	case addressTaken:
		return Tank{}, ErrAddressInUse
	}

	t.CreatedAt = existing.CreatedAt
	if t.ID == oldID {
		err = r.repo.Update(ctx, &t)
	} else {
		err = r.repo.Rename(ctx, oldID, &t)
	}
	if err != nil {
		return Tank{}, err
	}

	r.cacheMu.Lock()
	delete(r.cache, oldID)
	r.cache[t.ID] = t
	r.cacheMu.Unlock()

	r.logger.Info("tank updated", "tank_id", t.ID, "previous_id", oldID, "address", t.Address)
	return t, nil
}

// Delete removes a tank and its stored history.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("tank deleted", "tank_id", id)
	return nil
}

// ReplaceAll validates tanks and installs them as the whole registry.
func (r *Registry) ReplaceAll(ctx context.Context, tanks []Tank) ([]Tank, error) {
	seenID := make(map[string]bool, len(tanks))
	seenAddr := make(map[string]bool, len(tanks))
	for i := range tanks {
		if tanks[i].PollIntervalSeconds == 0 {
			tanks[i].PollIntervalSeconds = r.defaultInterval
		}
		if err := Validate(tanks[i]); err != nil {
			return nil, err
		}
		if seenID[tanks[i].ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrTankExists, tanks[i].ID)
		}
		if seenAddr[tanks[i].Address] {
			return nil, fmt.Errorf("%w: duplicate address %q", ErrAddressInUse, tanks[i].Address)
		}
		seenID[tanks[i].ID] = true
		seenAddr[tanks[i].Address] = true
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.ReplaceAll(ctx, tanks); err != nil {
		return nil, err
	}

	stored, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reloading tanks: %w", err)
	}
	r.replaceCache(stored)

	r.logger.Info("tank registry replaced", "count", len(stored))
	return stored, nil
}

func (r *Registry) replaceCache(tanks []Tank) {
	cache := make(map[string]Tank, len(tanks))
	for _, t := range tanks {
		cache[t.ID] = t
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()
}

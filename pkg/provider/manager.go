package provider

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/mnemo/pkg/errors"
)

type ManagerConfig struct {
	DispatchTimeout time.Duration `mapstructure:"dispatchTimeout"`
	HealthTTL       time.Duration `mapstructure:"healthTTL"`
}

/*
Provider pairs a catalogue entry with the backend that serves it.
*/
type Provider struct {
	Config  Config
	Backend Backend
}

/*
Candidate is a provider resolved for one request, with the model that will
actually be used after cost-safety overrides.
*/
type Candidate struct {
	ID      string
	Model   string
	Backend Backend
}

/*
Attempt is handed to a dispatch function. Index counts previous failed
attempts within the same request.
*/
type Attempt struct {
	Candidate
	Index int
}

type DispatchFunc func(ctx context.Context, attempt Attempt) error

/*
Manager selects providers by tier and priority and fails over along the
ordered candidate list. It owns the health cache.
*/
type Manager struct {
	providers []Provider
	health    *HealthCache
	timeout   time.Duration
}

type ManagerOption func(*Manager)

func NewManager(providers []Provider, cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	health, err := NewHealthCache(cfg.HealthTTL)

	if err != nil {
		return nil, err
	}

	manager := &Manager{
		providers: providers,
		health:    health,
		timeout:   cfg.DispatchTimeout,
	}

	if manager.timeout <= 0 {
		manager.timeout = 60 * time.Second
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager, nil
}

/*
NewManagerFromConfig builds a backend for every enabled catalogue entry.
Entries naming an unknown backend are skipped with a warning.
*/
func NewManagerFromConfig(catalogue []Config, cfg ManagerConfig) (*Manager, error) {
	providers := make([]Provider, 0, len(catalogue))
	backends := map[string]Backend{}

	for _, entry := range catalogue {
		if !entry.Enabled {
			continue
		}

		backend, ok := backends[entry.Backend]

		if !ok {
			var err error

			if backend, err = NewBackend(entry.Backend); err != nil {
				log.Warn("skipping provider", "id", entry.ID, "error", err)
				continue
			}

			backends[entry.Backend] = backend
		}

		providers = append(providers, Provider{Config: entry, Backend: backend})
	}

	return NewManager(providers, cfg)
}

func (manager *Manager) Health() *HealthCache {
	return manager.health
}

/*
Candidates lists the providers that may serve tier, best first: enabled,
tier-allowed and credentialed providers by descending priority, with any
provider currently marked unhealthy moved behind the healthy ones. A
preferred provider that is eligible and healthy goes first. One the tier may
not use is ignored.
*/
func (manager *Manager) Candidates(tier Tier, preferred string) []Candidate {
	eligible := make([]Provider, 0, len(manager.providers))

	for _, provider := range manager.providers {
		if !provider.Config.Enabled || provider.Config.MinTier() > tier {
			continue
		}

		if provider.Backend == nil || !provider.Backend.Available() {
			continue
		}

		eligible = append(eligible, provider)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Config.Priority > eligible[j].Config.Priority
	})

	healthy := make([]Candidate, 0, len(eligible))
	var unhealthy []Candidate

	for _, provider := range eligible {
		candidate := Candidate{
			ID:      provider.Config.ID,
			Model:   provider.Config.ModelFor(tier),
			Backend: provider.Backend,
		}

		if manager.health.Unhealthy(candidate.ID) {
			unhealthy = append(unhealthy, candidate)
			continue
		}

		if candidate.ID == preferred {
			healthy = append([]Candidate{candidate}, healthy...)
			continue
		}

		healthy = append(healthy, candidate)
	}

	return append(healthy, unhealthy...)
}

func (manager *Manager) Select(tier Tier) (Candidate, error) {
	candidates := manager.Candidates(tier, "")

	if len(candidates) == 0 {
		return Candidate{}, errors.NewError(errors.KindExhaustion, errors.ErrNoProviderAvailable, tier.String())
	}

	return candidates[0], nil
}

/*
Dispatch walks the candidates once, in order. Each attempt runs under the
dispatch timeout. A failure marks the provider unhealthy and moves on, a
success clears the mark and returns. Cancellation of ctx stops the walk.
*/
func (manager *Manager) Dispatch(ctx context.Context, tier Tier, preferred string, fn DispatchFunc) (Candidate, error) {
	candidates := manager.Candidates(tier, preferred)
	var last error

	for index, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return candidate, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, manager.timeout)
		err := fn(attemptCtx, Attempt{Candidate: candidate, Index: index})
		cancel()

		if err == nil {
			manager.health.MarkHealthy(candidate.ID)
			return candidate, nil
		}

		if ctx.Err() != nil {
			return candidate, ctx.Err()
		}

		log.Warn("provider attempt failed", "provider", candidate.ID, "model", candidate.Model, "attempt", index+1, "error", err)
		manager.health.MarkUnhealthy(candidate.ID, err)
		last = err
	}

	if last != nil {
		return Candidate{}, errors.NewError(errors.KindExhaustion, errors.ErrNoProviderAvailable, last)
	}

	return Candidate{}, errors.NewError(errors.KindExhaustion, errors.ErrNoProviderAvailable, tier.String())
}

func (manager *Manager) Close() {
	manager.health.Close()
}

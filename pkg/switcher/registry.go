package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// Snapshot is an immutable view of the registered profiles, sorted by key.
type Snapshot struct {
	profiles []ProviderProfile
	index    map[string]int
	version  uint64
}

// Profiles returns a copy of the profiles.
func (s *Snapshot) Profiles() []ProviderProfile {
	return append([]ProviderProfile(nil), s.profiles...)
}

// Get returns the profile for provider/model.
func (s *Snapshot) Get(provider, model string) (ProviderProfile, bool) {
	i, ok := s.index[provider+"/"+model]
	if !ok {
		return ProviderProfile{}, false
	}
	return s.profiles[i], true
}

// Len returns the number of profiles.
func (s *Snapshot) Len() int { return len(s.profiles) }

// Version increases with every published snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// Registry publishes provider profiles as copy-on-write snapshots. Readers
// never lock; writers are serialized and swap the whole snapshot at once.
type Registry struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
}

// NewRegistry creates a registry holding profiles.
func NewRegistry(profiles []ProviderProfile) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(profiles); err != nil {
		return nil, err
	}
	return r, nil
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	if s := r.current.Load(); s != nil {
		return s
	}
	return &Snapshot{index: map[string]int{}}
}

// Replace validates and publishes a new set of profiles. A profile without a
// health status is considered healthy.
func (r *Registry) Replace(profiles []ProviderProfile) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := make([]ProviderProfile, len(profiles))
	copy(next, profiles)
	for i := range next {
		p := &next[i]
		if p.Provider == "" || p.Model == "" {
			return fmt.Errorf("profile %d: provider and model are required", i)
		}
		if p.CostPer1kTokens < 0 || p.ResponseTimeEstimateMs < 0 {
			return fmt.Errorf("profile %s: cost and response time must not be negative", p.Key())
		}
		if p.Tier == "" {
			p.Tier = ComplexityMedium
		}
		if !p.Tier.Valid() {
			return fmt.Errorf("profile %s: unknown tier %q", p.Key(), p.Tier)
		}
		if p.Health == "" {
			p.Health = HealthHealthy
		}
		p.Capabilities = append([]Capability(nil), p.Capabilities...)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Key() < next[j].Key() })
	for i := 1; i < len(next); i++ {
		if next[i].Key() == next[i-1].Key() {
			return fmt.Errorf("duplicate profile %s", next[i].Key())
		}
	}

	r.publish(next)
	return nil
}

// SetHealth publishes a snapshot with one profile's health changed.
func (r *Registry) SetHealth(ctx context.Context, provider, model string, status HealthStatus, note string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.Snapshot()
	i, ok := cur.index[provider+"/"+model]
	if !ok {
		return smartchat.NewKindErr(ctx, smartchat.KindNotFound, "unknown provider profile").
			Tag(slog.String("profile", provider+"/"+model))
	}
	next := cur.Profiles()
	next[i].Health = status
	next[i].HealthNote = note
	r.publish(next)
	return nil
}

// HealthProbe checks one profile. A nil error means healthy; a probe slower
// than twice the profile's latency estimate marks it degraded.
type HealthProbe func(ctx context.Context, p ProviderProfile) error

// RefreshHealth probes every profile concurrently and publishes all results
// as one snapshot. Profiles without a probe keep their status.
func (r *Registry) RefreshHealth(ctx context.Context, probe func(p ProviderProfile) HealthProbe, timeout time.Duration) map[string]HealthStatus {
	profiles := r.Snapshot().Profiles()
	statuses := make([]HealthStatus, len(profiles))
	notes := make([]string, len(profiles))

	var wg sync.WaitGroup
	for i, p := range profiles {
		statuses[i] = p.Health
		fn := probe(p)
		if fn == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := fn(pctx, p)
			elapsed := time.Since(start)
			switch {
			case err != nil:
				statuses[i], notes[i] = HealthUnhealthy, err.Error()
			case p.ResponseTimeEstimateMs > 0 && elapsed > 2*p.ResponseTimeEstimate():
				statuses[i], notes[i] = HealthDegraded, fmt.Sprintf("probe took %s", elapsed.Round(time.Millisecond))
			default:
				statuses[i], notes[i] = HealthHealthy, ""
			}
		}()
	}
	wg.Wait()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.Snapshot()
	next := cur.Profiles()
	out := make(map[string]HealthStatus, len(profiles))
	for i, p := range profiles {
		j, ok := cur.index[p.Key()]
		if !ok {
			continue
		}
		next[j].Health = statuses[i]
		next[j].HealthNote = notes[i]
		out[p.Key()] = statuses[i]
	}
	r.publish(next)

	smartchat.LogInfo(ctx, "provider health refreshed", "profiles", len(out))
	return out
}

// publish must be called with writeMu held.
func (r *Registry) publish(profiles []ProviderProfile) {
	index := make(map[string]int, len(profiles))
	for i, p := range profiles {
		index[p.Key()] = i
	}
	var version uint64 = 1
	if cur := r.current.Load(); cur != nil {
		version = cur.version + 1
	}
	r.current.Store(&Snapshot{profiles: profiles, index: index, version: version})
}

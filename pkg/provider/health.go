package provider

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

/*
HealthCache remembers which providers failed recently. Entries expire after
the TTL, after which the provider is treated as healthy again.
*/
type HealthCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewHealthCache(ttl time.Duration) (*HealthCache, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})

	if err != nil {
		return nil, err
	}

	return &HealthCache{cache: cache, ttl: ttl}, nil
}

func (health *HealthCache) MarkUnhealthy(id string, cause error) {
	reason := "unknown"

	if cause != nil {
		reason = cause.Error()
	}

	health.cache.SetWithTTL(id, reason, 1, health.ttl)
	health.cache.Wait()
}

func (health *HealthCache) MarkHealthy(id string) {
	health.cache.Del(id)
	health.cache.Wait()
}

func (health *HealthCache) Unhealthy(id string) bool {
	_, found := health.cache.Get(id)
	return found
}

/*
Reason returns the last failure recorded for an unhealthy provider.
*/
func (health *HealthCache) Reason(id string) (string, bool) {
	value, found := health.cache.Get(id)

	if !found {
		return "", false
	}

	reason, _ := value.(string)
	return reason, true
}

func (health *HealthCache) Invalidate() {
	health.cache.Clear()
}

func (health *HealthCache) Close() {
	health.cache.Close()
}

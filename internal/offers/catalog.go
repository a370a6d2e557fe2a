package offers

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/posapi"
	"golang.org/x/sync/singleflight"
)

// Remote fetches the offers of a profile.
type Remote interface {
	GetOffers(ctx context.Context, profile string) ([]models.Offer, error)
}

// Cache keeps offers for offline use.
type Cache interface {
	SaveOffers(ctx context.Context, profile string, offers []models.Offer) error
	GetOffers(ctx context.Context, profile string) []models.Offer
}

// OfflineChecker reports the connectivity state.
type OfflineChecker interface {
	IsOffline() bool
}

// Catalog holds the offers available to each profile. A profile is fetched
// lazily once; concurrent callers share the in-flight fetch.
type Catalog struct {
	mu      sync.RWMutex
	remote  Remote
	cache   Cache
	conn    OfflineChecker
	offers  map[string][]models.Offer
	fetched map[string]bool
	stale   map[string]bool
	group   singleflight.Group
}

// NewCatalog creates an offer catalog. conn may be nil.
func NewCatalog(remote Remote, cache Cache, conn OfflineChecker) *Catalog {
	return &Catalog{
		remote:  remote,
		cache:   cache,
		conn:    conn,
		offers:  make(map[string][]models.Offer),
		fetched: make(map[string]bool),
		stale:   make(map[string]bool),
	}
}

// HasFetched reports whether the offers of profile were loaded.
func (c *Catalog) HasFetched(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched[profile]
}

// EnsureFetched loads the offers of profile unless that already happened and
// reports whether this call completed the first load. Offline it serves the
// cached offers. A failed fetch also completes the load, with the cached
// offers, so that callers do not retry on every cart change. Such loads are
// stale until ResetStale.
func (c *Catalog) EnsureFetched(ctx context.Context, profile string) (bool, error) {
	if profile == "" {
		return false, errors.New("offers: profile is required")
	}
	if c.HasFetched(profile) {
		return false, nil
	}

	ch := c.group.DoChan(profile, func() (interface{}, error) {
		if c.HasFetched(profile) {
			return nil, nil
		}
		c.load(context.WithoutCancel(ctx), profile)
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-ch:
	}
	return true, nil
}

func (c *Catalog) load(ctx context.Context, profile string) {
	var list []models.Offer
	stale := true
	if c.conn != nil && c.conn.IsOffline() {
		list = c.cache.GetOffers(ctx, profile)
		log.Printf("📦 Offers: offline, using %d cached offers for %s", len(list), profile)
	} else {
		fetched, err := c.remote.GetOffers(ctx, profile)
		if err != nil {
			if !posapi.IsNetworkError(err) {
				log.Printf("⚠️ Offers: fetch failed for %s, using cache: %v", profile, err)
			}
			list = c.cache.GetOffers(ctx, profile)
		} else {
			list = fetched
			stale = false
			if len(list) > 0 {
				if err := c.cache.SaveOffers(ctx, profile, list); err != nil {
					log.Printf("⚠️ Offers: failed to cache offers for %s: %v", profile, err)
				}
			}
			log.Printf("📥 Offers: fetched %d offers for %s", len(list), profile)
		}
	}
	c.set(profile, list, stale)
}

// Set replaces the offers of profile and marks it fetched.
func (c *Catalog) Set(profile string, list []models.Offer) {
	c.set(profile, list, false)
}

func (c *Catalog) set(profile string, list []models.Offer, stale bool) {
	if list == nil {
		list = []models.Offer{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[profile] = list
	c.fetched[profile] = true
	c.stale[profile] = stale
}

// Offers returns the offers of profile.
func (c *Catalog) Offers(profile string) []models.Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Offer(nil), c.offers[profile]...)
}

// Find looks an offer up by code.
func (c *Catalog) Find(profile, code string) (models.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.offers[profile] {
		if o.Name == code {
			return o, true
		}
	}
	return models.Offer{}, false
}

// Reset forgets profile so that the next EnsureFetched loads it again.
func (c *Catalog) Reset(profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.offers, profile)
	delete(c.fetched, profile)
	delete(c.stale, profile)
}

// IsStale reports whether the offers of profile came from the offline cache
// instead of the server.
func (c *Catalog) IsStale(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale[profile]
}

// ResetStale forgets every profile whose offers came from the offline cache
// and returns their names. The cached offers stay readable until the next
// EnsureFetched replaces them.
func (c *Catalog) ResetStale() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var reset []string
	for profile, stale := range c.stale {
		if stale {
			delete(c.fetched, profile)
			delete(c.stale, profile)
			reset = append(reset, profile)
		}
	}
	if len(reset) > 0 {
		log.Printf("🔄 Offers: refetching %v from the server", reset)
	}
	return reset
}

package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultOfferCacheSize = 256
	defaultOfferCacheTTL  = 6 * time.Hour
)

type offerCacheEntry struct {
	offer    Offer
	storedAt time.Time
}

// offerCache remembers parsed offers keyed by the analyzed text.
type offerCache struct {
	cache *lru.Cache[string, offerCacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

func newOfferCache(size int, ttl time.Duration) *offerCache {
	if size <= 0 {
		size = defaultOfferCacheSize
	}
	if ttl <= 0 {
		ttl = defaultOfferCacheTTL
	}
	cache, err := lru.New[string, offerCacheEntry](size)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		return nil
	}
	return &offerCache{cache: cache, ttl: ttl, now: time.Now}
}

func offerCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *offerCache) get(key string) (Offer, bool) {
	if c == nil {
		return Offer{}, false
	}
	entry, ok := c.cache.Get(key)
	if !ok {
		return Offer{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.cache.Remove(key)
		return Offer{}, false
	}
	return cloneOffer(entry.offer), true
}

func (c *offerCache) put(key string, offer Offer) {
	if c == nil {
		return
	}
	c.cache.Add(key, offerCacheEntry{offer: cloneOffer(offer), storedAt: c.now()})
}

func (c *offerCache) len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

func cloneOffer(o Offer) Offer {
	o.CompetencesRequises = append([]string(nil), o.CompetencesRequises...)
	o.MotsClesATS = append([]string(nil), o.MotsClesATS...)
	o.Responsabilites = append([]string(nil), o.Responsabilites...)
	return normalizeOffer(o)
}

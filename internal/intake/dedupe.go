package intake

import "github.com/die-net/lrucache"

const (
	dedupeCacheBytes = 4 << 20 // 4MiB of delivery ids, plenty for any redelivery window
	dedupeMaxAgeSec  = 86400
)

var dedupeMarker = []byte{1}

// deliveryDedupe remembers recently seen webhook delivery ids so a host's
// at-least-once redelivery of the same event doesn't get applied twice
// (§8). Built on the same die-net/lrucache used for HTTP response
// caching in internal/ratelimit; its Cache interface (string key, []byte
// value) is exactly a set with eviction.
type deliveryDedupe struct {
	cache *lrucache.LruCache
}

func newDeliveryDedupe() *deliveryDedupe {
	return &deliveryDedupe{cache: lrucache.New(dedupeCacheBytes, dedupeMaxAgeSec)}
}

// seen reports whether id was already recorded, recording it if not.
func (d *deliveryDedupe) seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.cache.Get(id); ok {
		return true
	}
	d.cache.Set(id, dedupeMarker)
	return false
}

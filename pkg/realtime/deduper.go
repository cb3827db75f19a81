package realtime

import "sync"

// Deduper filters repeated message ids. A consumer's optimistic state and the
// realtime echo can both carry the same id; passing every candidate through
// Observe keeps each id in the rendered set exactly once.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper seeds the filter with ids already present in consumer state.
func NewDeduper(existing ...string) *Deduper {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	return &Deduper{seen: seen}
}

// Observe records the id and reports whether it was seen for the first time.
func (d *Deduper) Observe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[id]; dup {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

package store

import (
	"sync"

	"github.com/ibeckermayer/modwatch/internal/types"
)

// Results is the working set of content items for one monitoring session.
// Entries are keyed by URL and kept in first-seen order; there is no delete.
type Results struct {
	mu    sync.RWMutex
	index map[string]int
	items []types.ContentItem
}

// NewResults creates an empty result set
func NewResults() *Results {
	return &Results{index: make(map[string]int)}
}

// Merge upserts every item in batch by URL. Items not in the batch are left
// alone and a replaced item keeps its original position. Items without a URL
// cannot be keyed and are skipped.
func (r *Results) Merge(batch []types.ContentItem) (added, updated int) {
	if len(batch) == 0 {
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range batch {
		if item.URL == "" {
			continue
		}
		if pos, ok := r.index[item.URL]; ok {
			r.items[pos] = item.Clone()
			updated++
			continue
		}
		r.index[item.URL] = len(r.items)
		r.items = append(r.items, item.Clone())
		added++
	}
	return added, updated
}

// Snapshot returns a deep copy of the current items in insertion order
func (r *Results) Snapshot() []types.ContentItem {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ContentItem, len(r.items))
	for i, item := range r.items {
		out[i] = item.Clone()
	}
	return out
}

// Get returns the current value stored for url.
func (r *Results) Get(url string) (types.ContentItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[url]
	if !ok {
		return types.ContentItem{}, false
	}
	return r.items[pos].Clone(), true
}

// Len returns the number of distinct URLs held
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Package aggregate keeps the latest known record per item identity.
package aggregate

import "github.com/Sternrassler/itemsense-client/pkg/model"

// Store maps EPC to the most recently merged item.
//
// A Store is owned by a single coordinator run and is not safe for
// concurrent use.
type Store struct {
	items map[string]model.Item
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]model.Item)}
}

// Merge inserts unseen items and overwrites existing ones unconditionally.
// Within a single call, a later duplicate wins over an earlier one.
func (s *Store) Merge(items []model.Item) {
	for _, item := range items {
		s.items[item.EPC] = item
	}
}

// Snapshot returns a copy of all entries in unspecified order.
func (s *Store) Snapshot() []model.Item {
	out := make([]model.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

// Get returns the entry for epc.
func (s *Store) Get(epc string) (model.Item, bool) {
	item, ok := s.items[epc]
	return item, ok
}

// Len returns the number of distinct items.
func (s *Store) Len() int {
	return len(s.items)
}

// Package registry maps LMS item identifiers to course concepts.
//
// Lookups go through an immutable Snapshot. A Registry publishes snapshots
// atomically, so a reader that took a snapshot sees one consistent mapping
// for as long as it holds it, no matter how many reloads happen meanwhile.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ItemKind distinguishes identifier namespaces in the LMS.
type ItemKind string

// Item kinds.
const (
	KindQuestion ItemKind = "question"
	KindActivity ItemKind = "activity"
	KindContent  ItemKind = "content"
)

// DefaultImportance is used for concepts without an explicit importance.
const DefaultImportance = 1.0

// Mapping ties one item to the concepts it assesses.
type Mapping struct {
	ItemID   string
	Kind     ItemKind
	Concepts []string
}

type itemRef struct {
	kind ItemKind
	id   string
}

// Snapshot is an immutable item to concept mapping.
type Snapshot struct {
	items      map[itemRef][]string
	importance map[string]float64
	concepts   int
	source     string
	loadedAt   time.Time
}

// NewSnapshot builds a snapshot. Concept lists are de-duplicated and sorted;
// mappings for the same item are merged.
func NewSnapshot(source string, mappings []Mapping, importance map[string]float64) (*Snapshot, error) {
	s := &Snapshot{
		items:      make(map[itemRef][]string, len(mappings)),
		importance: make(map[string]float64, len(importance)),
		source:     source,
		loadedAt:   time.Now().UTC(),
	}
	seen := make(map[string]struct{})
	for i, m := range mappings {
		id := strings.TrimSpace(m.ItemID)
		if id == "" {
			return nil, fmt.Errorf("%w: mapping %d has no item id", ErrInvalidSource, i)
		}
		kind := m.Kind
		if kind == "" {
			kind = KindQuestion
		}
		ref := itemRef{kind: kind, id: id}
		for _, c := range m.Concepts {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			s.items[ref] = append(s.items[ref], c)
			seen[c] = struct{}{}
		}
	}
	for ref, cs := range s.items {
		slices.Sort(cs)
		s.items[ref] = slices.Compact(cs)
	}
	for c, w := range importance {
		if w < 0 {
			return nil, fmt.Errorf("%w: concept %q has negative importance %v", ErrInvalidSource, c, w)
		}
		s.importance[c] = w
		seen[c] = struct{}{}
	}
	s.concepts = len(seen)
	return s, nil
}

// Empty returns a snapshot that resolves nothing.
func Empty() *Snapshot {
	s, _ := NewSnapshot("empty", nil, nil)
	return s
}

// Resolve returns the concepts assessed by an item, or nil for unknown
// items. The returned slice is a copy.
func (s *Snapshot) Resolve(itemID string, kind ItemKind) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items[itemRef{kind: kind, id: strings.TrimSpace(itemID)}])
}

// Importance returns the configured importance of a concept.
func (s *Snapshot) Importance(conceptID string) float64 {
	if s != nil {
		if w, ok := s.importance[conceptID]; ok {
			return w
		}
	}
	return DefaultImportance
}

// Items returns the number of mapped items.
func (s *Snapshot) Items() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Concepts returns the number of distinct concepts referenced.
func (s *Snapshot) Concepts() int {
	if s == nil {
		return 0
	}
	return s.concepts
}

// Source names where the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

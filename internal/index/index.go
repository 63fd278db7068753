// Package index persists the identity registry: the set of content hashes
// already committed for each entity ("{work}_{name}").
//
// The document is a plain JSON object keyed by entity. Keys come out sorted
// because encoding/json orders map keys; hash lists are kept sorted and
// de-duplicated by Add.
package index

import (
	"context"
	"fmt"
	"sort"

	"animdb/internal/statefile"
)

// Index maps an entity key to its known content hashes.
type Index map[string][]string

// Known reports whether the entity has any registered hash.
func (ix Index) Known(entity string) bool {
	return len(ix[entity]) > 0
}

// Has reports whether hash is registered for entity.
func (ix Index) Has(entity, hash string) bool {
	hashes := ix[entity]
	i := sort.SearchStrings(hashes, hash)
	return i < len(hashes) && hashes[i] == hash
}

// Add registers hash for entity and reports whether it was new.
func (ix Index) Add(entity, hash string) bool {
	hashes := ix[entity]
	i := sort.SearchStrings(hashes, hash)
	if i < len(hashes) && hashes[i] == hash {
		return false
	}
	hashes = append(hashes, "")
	copy(hashes[i+1:], hashes[i:])
	hashes[i] = hash
	ix[entity] = hashes
	return true
}

// Merge adds every hash of other.
func (ix Index) Merge(other Index) {
	for entity, hashes := range other {
		for _, h := range hashes {
			ix.Add(entity, h)
		}
	}
}

// Size returns the number of registered hashes across all entities.
func (ix Index) Size() int {
	n := 0
	for _, hashes := range ix {
		n += len(hashes)
	}
	return n
}

// normalize restores the sorted, de-duplicated invariant on a loaded
// document that may have been edited by hand.
func (ix Index) normalize() Index {
	out := make(Index, len(ix))
	for entity, hashes := range ix {
		for _, h := range hashes {
			out.Add(entity, h)
		}
	}
	return out
}

// Store reads and writes the identity registry document.
type Store struct {
	doc *statefile.Store[Index]
}

// NewStore returns a store for the document at path.
func NewStore(path string) *Store {
	return &Store{doc: statefile.New(path, func() Index { return Index{} })}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.doc.Path()
}

// Load returns the registry, empty when the document does not exist.
func (s *Store) Load() (Index, error) {
	ix, _, err := s.doc.Load()
	if err != nil {
		return nil, fmt.Errorf("load identity registry: %w", err)
	}
	if ix == nil {
		return Index{}, nil
	}
	return ix.normalize(), nil
}

// Merge adds additions to the stored registry under the document lock.
func (s *Store) Merge(ctx context.Context, additions Index) (Index, error) {
	ix, err := s.doc.Update(ctx, func(doc *Index) error {
		merged := Index{}
		if *doc != nil {
			merged = doc.normalize()
		}
		merged.Merge(additions)
		*doc = merged
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge identity registry: %w", err)
	}
	return ix, nil
}

// Save replaces the stored registry with ix.
func (s *Store) Save(ctx context.Context, ix Index) error {
	if ix == nil {
		ix = Index{}
	}
	if _, err := s.doc.Replace(ctx, 0, ix.normalize()); err != nil {
		return fmt.Errorf("save identity registry: %w", err)
	}
	return nil
}

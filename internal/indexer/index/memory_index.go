// Package index implements the inverted index that maps normalised terms to
// the set of line numbers containing them.
//
// A Builder is the only mutable form. Build hands its postings over to a
// MemoryIndex, which exposes read operations only and is safe for concurrent
// use without locking.
package index

import "fmt"

// Builder accumulates postings while the corpus is read.
type Builder struct {
	postings map[string]*PostingSet
	built    bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		postings: make(map[string]*PostingSet),
	}
}

// Add records that every term in terms occurs on line. Adding the same term
// for the same line more than once has no further effect.
func (b *Builder) Add(line int, terms []string) error {
	if b.built {
		return fmt.Errorf("index already built")
	}
	if line < 0 || int64(line) > MaxLine {
		return fmt.Errorf("line number %d out of range", line)
	}
	for _, term := range terms {
		if term == "" {
			continue
		}
		set, ok := b.postings[term]
		if !ok {
			set = newPostingSet()
			b.postings[term] = set
		}
		set.add(line)
	}
	return nil
}

// Build freezes the accumulated postings into a MemoryIndex. The Builder
// cannot be used afterwards.
func (b *Builder) Build() *MemoryIndex {
	for _, set := range b.postings {
		set.bm.RunOptimize()
	}
	idx := &MemoryIndex{postings: b.postings}
	b.postings = nil
	b.built = true
	return idx
}

// MemoryIndex is an immutable term -> lines mapping.
type MemoryIndex struct {
	postings map[string]*PostingSet
}

// Postings returns the posting set for term.
func (m *MemoryIndex) Postings(term string) (*PostingSet, bool) {
	set, ok := m.postings[term]
	return set, ok
}

// Lines returns the ascending line numbers containing term, or an empty
// slice if the term is unknown.
func (m *MemoryIndex) Lines(term string) []int {
	set, ok := m.postings[term]
	if !ok {
		return []int{}
	}
	return set.Lines()
}

// Intersect returns the ascending line numbers that contain every term.
// An empty term list or any unknown term yields an empty result.
func (m *MemoryIndex) Intersect(terms []string) []int {
	if len(terms) == 0 {
		return []int{}
	}
	sets := make([]*PostingSet, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		set, ok := m.postings[term]
		if !ok {
			return []int{}
		}
		sets = append(sets, set)
	}
	return intersect(sets)
}

// Terms returns the number of distinct terms.
func (m *MemoryIndex) Terms() int {
	return len(m.postings)
}

package index

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// MaxLine is the largest line number a posting set can hold.
const MaxLine = math.MaxUint32

// PostingSet is the set of line numbers on which a term occurs.
type PostingSet struct {
	bm *roaring.Bitmap
}

func newPostingSet() *PostingSet {
	return &PostingSet{bm: roaring.New()}
}

func (p *PostingSet) add(line int) {
	p.bm.Add(uint32(line))
}

// Len returns the number of distinct lines in the set.
func (p *PostingSet) Len() int {
	return int(p.bm.GetCardinality())
}

// Contains reports whether line is in the set.
func (p *PostingSet) Contains(line int) bool {
	if line < 0 || int64(line) > MaxLine {
		return false
	}
	return p.bm.Contains(uint32(line))
}

// Lines returns the set as an ascending slice.
func (p *PostingSet) Lines() []int {
	return toInts(p.bm.ToArray())
}

// intersect returns the ascending line numbers present in every set. The
// smallest set is used as the seed so the working bitmap only ever shrinks.
// Stored bitmaps are never modified.
func intersect(sets []*PostingSet) []int {
	if len(sets) == 0 {
		return []int{}
	}
	ordered := make([]*PostingSet, len(sets))
	copy(ordered, sets)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].bm.GetCardinality() < ordered[j].bm.GetCardinality()
	})

	result := ordered[0].bm.Clone()
	for _, set := range ordered[1:] {
		if result.IsEmpty() {
			break
		}
		result.And(set.bm)
	}
	return toInts(result.ToArray())
}

func toInts(values []uint32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

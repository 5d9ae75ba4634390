package zarr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unlimited marks an open slice stop or an unbounded maximum dimension.
const Unlimited = -1

// Slice is a regular strided selection along one dimension, selecting
// Start, Start+Step, ... up to but excluding Stop. A Stop of Unlimited
// extends the slice to the current extent of the dimension.
type Slice struct {
	Start int
	Stop  int
	Step  int
}

// All selects an entire dimension.
func All() Slice { return Slice{Start: 0, Stop: Unlimited, Step: 1} }

// Range selects [start, stop).
func Range(start, stop int) Slice { return Slice{Start: start, Stop: stop, Step: 1} }

// StepRange selects start, start+step, ... below stop.
func StepRange(start, stop, step int) Slice { return Slice{Start: start, Stop: stop, Step: step} }

// Index selects the single position i.
func Index(i int) Slice { return Slice{Start: i, Stop: i + 1, Step: 1} }

// Open reports whether the slice extends to the current extent.
func (s Slice) Open() bool { return s.Stop == Unlimited }

// Len is the number of positions selected. Open slices have no length
// until resolved.
func (s Slice) Len() int {
	if s.Open() {
		return Unlimited
	}
	if s.Stop <= s.Start {
		return 0
	}
	step := s.step()
	return (s.Stop - s.Start + step - 1) / step
}

// At returns the coordinate of the i'th selected position.
func (s Slice) At(i int) int { return s.Start + i*s.step() }

// Last returns the coordinate of the final selected position of a
// resolved, non-empty slice.
func (s Slice) Last() int { return s.At(s.Len() - 1) }

// Validate checks that the slice is well formed independent of any extent.
func (s Slice) Validate() error {
	if s.Step < 1 {
		return fmt.Errorf("invalid slice %s: step must be positive", s)
	}
	if s.Start < 0 {
		return fmt.Errorf("invalid slice %s: negative start", s)
	}
	if !s.Open() && s.Stop < 0 {
		return fmt.Errorf("invalid slice %s: negative stop", s)
	}
	return nil
}

// Resolve clamps the slice to a dimension of extent n. The stop of the
// result is the coordinate just past the final selected position so that
// equal selections compare equal.
func (s Slice) Resolve(n int) Slice {
	r := Slice{Start: s.Start, Stop: s.Stop, Step: s.step()}
	if r.Open() || r.Stop > n {
		r.Stop = n
	}
	if r.Stop <= r.Start {
		r.Stop = r.Start
		return r
	}
	r.Stop = r.Last() + 1
	return r
}

func (s Slice) step() int {
	if s.Step < 1 {
		return 1
	}
	return s.Step
}

func (s Slice) String() string {
	stop := ""
	if !s.Open() {
		stop = fmt.Sprint(s.Stop)
	}
	if s.step() == 1 {
		return fmt.Sprintf("%d:%s", s.Start, stop)
	}
	return fmt.Sprintf("%d:%s:%d", s.Start, stop, s.Step)
}

// MarshalJSON encodes a slice as [start, stop, step], with an open stop
// written as -1.
func (s Slice) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{s.Start, s.Stop, s.step()})
}

func (s *Slice) UnmarshalJSON(d []byte) error {
	var v [3]int
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	sl := Slice{Start: v[0], Stop: v[1], Step: v[2]}
	if err := sl.Validate(); err != nil {
		return err
	}
	*s = sl
	return nil
}

// Selection is a per-dimension slice list addressing a rectangular, possibly
// strided, region of an array.
type Selection []Slice

// SelectAll selects every element of an array of the given rank.
func SelectAll(rank int) Selection {
	sel := make(Selection, rank)
	for i := range sel {
		sel[i] = All()
	}
	return sel
}

// Resolve clamps every slice to shape. A non-empty slice starting past the
// end of its dimension is an error.
func (sel Selection) Resolve(shape []int) (Selection, error) {
	if len(sel) != len(shape) {
		return nil, fmt.Errorf("%w: selection rank %d does not match array rank %d", ErrOutOfBounds, len(sel), len(shape))
	}
	out := make(Selection, len(sel))
	for d, s := range sel {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Start >= shape[d] && (s.Open() || s.Stop > s.Start) && !(s.Start == 0 && shape[d] == 0) {
			return nil, fmt.Errorf("%w: %s in dimension %d of extent %d", ErrOutOfBounds, s, d, shape[d])
		}
		out[d] = s.Resolve(shape[d])
	}
	return out, nil
}

// Shape returns the per-dimension counts of a resolved selection.
func (sel Selection) Shape() []int {
	shape := make([]int, len(sel))
	for d, s := range sel {
		shape[d] = s.Len()
	}
	return shape
}

// Size is the number of elements a resolved selection addresses.
func (sel Selection) Size() int {
	return product(sel.Shape())
}

func (sel Selection) String() string {
	parts := make([]string, len(sel))
	for i, s := range sel {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// DimProjection relates the positions of a mapped slice to the positions
// of a request along one dimension. Out holds positions in the request's
// output space; Pair holds the matching ordinals within the mapped slice.
type DimProjection struct {
	Out  Slice
	Pair Slice
}

// Project intersects the resolved request req with the first n positions
// of the resolved slice mapped. Both results are regular because the
// solutions of the underlying linear congruence form an arithmetic
// progression. ok is false when nothing intersects.
func Project(req, mapped Slice, n int) (p DimProjection, ok bool) {
	count, first, last, firstOut, lastOut, pairStep, outStep := 0, 0, 0, 0, 0, 1, 1
	reqStep := req.step()
	for i := 0; i < n; i++ {
		t := mapped.At(i)
		if t >= req.Stop {
			break
		}
		if t < req.Start || (t-req.Start)%reqStep != 0 {
			continue
		}
		j := (t - req.Start) / reqStep
		switch count {
		case 0:
			first, firstOut = i, j
		case 1:
			pairStep, outStep = i-first, j-firstOut
		}
		last, lastOut = i, j
		count++
	}
	if count == 0 {
		return p, false
	}
	p.Pair = Slice{Start: first, Stop: last + 1, Step: pairStep}
	p.Out = Slice{Start: firstOut, Stop: lastOut + 1, Step: outStep}
	return p, true
}

// Compose maps ordinals of the slice through s: ordinal i of pair becomes
// coordinate s.At(pair.At(i)).
func (s Slice) Compose(pair Slice) Slice {
	if pair.Len() == 0 {
		return Slice{Start: s.At(pair.Start), Stop: s.At(pair.Start), Step: 1}
	}
	return Slice{Start: s.At(pair.Start), Stop: s.At(pair.Last()) + 1, Step: pair.step() * s.step()}
}

type chunkDimProjection struct {
	// Index of chunk.
	DimChunkIX int
	// Selection of items from chunk array.
	DimChunkSel int
	// Selection of items in target (output) array.
	DimOutSel int
}

// dimProjections lists, for each selected position along one dimension,
// the chunk holding it and its offset within that chunk.
func dimProjections(s Slice, chunk int) []chunkDimProjection {
	n := s.Len()
	out := make([]chunkDimProjection, n)
	for j := 0; j < n; j++ {
		c := s.At(j)
		out[j] = chunkDimProjection{DimChunkIX: c / chunk, DimChunkSel: c % chunk, DimOutSel: j}
	}
	return out
}

// forEachIndex visits every index of shape in C order. The idx slice is
// reused between calls.
func forEachIndex(shape []int, fn func(idx []int) error) error {
	if product(shape) == 0 {
		return nil
	}
	idx := make([]int, len(shape))
	for {
		if err := fn(idx); err != nil {
			return err
		}
		d := len(shape) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// strides returns C-order element strides for shape.
func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = acc
		acc *= shape[d]
	}
	return st
}

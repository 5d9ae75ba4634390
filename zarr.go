package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// Version is the current version of this library.
	Version = 2
	// DefaultChunkExtent caps each dimension of a default chunk shape.
	DefaultChunkExtent = 64
)

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
	dtype Dtype
	fill  float64
}

// Create writes array metadata at path and returns the array. If an array
// already exists there, ModeWrite replaces it and its chunks, ModeWriteFail
// fails with ErrExists and ModeReadWriteCreate returns the existing array.
func Create(store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	switch mode {
	case ModeWrite, ModeWriteFail, ModeReadWriteCreate:
	default:
		return nil, fmt.Errorf("cannot create array with mode %q", mode)
	}
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	meta := *m
	if meta.ZarrFormat == 0 {
		meta.ZarrFormat = ZarrFormat
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	if meta.Chunks == nil {
		meta.Chunks = DefaultChunks(meta.Shape)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	if prev, err := Open(store, path, mode); err == nil {
		switch mode {
		case ModeReadWriteCreate:
			return prev, nil
		case ModeWriteFail:
			return nil, fmt.Errorf("%w: array %q", ErrExists, p)
		}
		if err := prev.deleteChunks(nil); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNotfound) {
		return nil, err
	}

	if err := PutMeta(store, p.String(), &meta); err != nil {
		return nil, err
	}
	return newArray(store, p, mode, &meta)
}

// Zeros creates an array whose unwritten elements read as zero.
func Zeros(store Store, path string, m *ArrayMeta) (*Array, error) {
	meta := *m
	meta.FillValue = 0.0
	return Create(store, path, &meta, ModeWriteFail)
}

// Ones creates an array whose unwritten elements read as one.
func Ones(store Store, path string, m *ArrayMeta) (*Array, error) {
	meta := *m
	meta.FillValue = 1.0
	return Create(store, path, &meta, ModeWriteFail)
}

// DefaultChunks returns a chunk shape covering shape in blocks of at most
// DefaultChunkExtent along each dimension.
func DefaultChunks(shape []int) []int {
	chunks := make([]int, len(shape))
	for d, n := range shape {
		switch {
		case n < 1:
			chunks[d] = 1
		case n > DefaultChunkExtent:
			chunks[d] = DefaultChunkExtent
		default:
			chunks[d] = n
		}
	}
	return chunks
}

// Open opens the array stored at path. A path holding no array metadata is
// reported as ErrNotfound.
func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	meta := &ArrayMeta{}
	if err := GetMeta(store, p.String(), MTArray, meta); err != nil {
		return nil, fmt.Errorf("opening array %q: %w", p, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %q: %w", p, err)
	}
	return newArray(store, p, mode, meta)
}

func newArray(store Store, p Path, mode PersistenceMode, meta *ArrayMeta) (*Array, error) {
	dt, err := meta.Dtype.Basic()
	if err != nil {
		return nil, err
	}
	fill, err := ParseFillValue(meta.FillValue)
	if err != nil {
		return nil, err
	}
	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  meta,
		dtype: dt,
		fill:  fill,
	}, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr-go.Array %q shape=%v dtype=%s>", a.path, a.meta.Shape, a.dtype)
}

func (a *Array) Path() string {
	return a.path.String()
}

// Shape returns the current extent of each dimension.
func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

// MaxShape returns the maximum extents, or nil if the shape is fixed.
func (a *Array) MaxShape() []int { return append([]int(nil), a.meta.MaxShape...) }

// Dtype returns the element type.
func (a *Array) Dtype() Dtype { return a.dtype }

// FillValue returns the value unwritten elements read as.
func (a *Array) FillValue() float64 { return a.fill }

// Meta returns a copy of the array metadata.
func (a *Array) Meta() ArrayMeta { return *a.meta }

// Slice reads elements [start, stop) of a one-dimensional array.
func (a *Array) Slice(start, stop int) ([]float64, error) {
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("slice requires a one-dimensional array, have rank %d", len(a.meta.Shape))
	}
	b, err := a.Read(Selection{Range(start, stop)})
	if err != nil {
		return nil, err
	}
	return b.Float64s(), nil
}

// ReadAll reads the whole array into a slice of the Go type matching the
// array's dtype, e.g. []float64 for "<f8" or []uint16 for "<u2".
func (a *Array) ReadAll() (interface{}, error) {
	b, err := a.Read(SelectAll(len(a.meta.Shape)))
	if err != nil {
		return nil, err
	}
	bo, fac := a.newValueFunc(b.Len())
	v := fac()
	if err := binary.Read(bytes.NewReader(b.Data), bo, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (a *Array) newValueFunc(size int) (binary.ByteOrder, func() interface{}) {
	var order binary.ByteOrder
	switch a.dtype.ByteOrder {
	case BOBigEndian, BONotRelevant:
		order = binary.BigEndian
	case BOLittleEndian:
		order = binary.LittleEndian
	}

	var factory func() interface{}
	switch a.dtype.BasicType {
	case BTBoolean:
		factory = func() interface{} { return make([]bool, size) }
	case BTInteger:
		switch a.dtype.ByteSize {
		case 1:
			factory = func() interface{} { return make([]int8, size) }
		case 2:
			factory = func() interface{} { return make([]int16, size) }
		case 4:
			factory = func() interface{} { return make([]int32, size) }
		default:
			factory = func() interface{} { return make([]int64, size) }
		}
	case BTUnsigned:
		switch a.dtype.ByteSize {
		case 1:
			factory = func() interface{} { return make([]uint8, size) }
		case 2:
			factory = func() interface{} { return make([]uint16, size) }
		case 4:
			factory = func() interface{} { return make([]uint32, size) }
		default:
			factory = func() interface{} { return make([]uint64, size) }
		}
	case BTFloatingPoint:
		switch a.dtype.ByteSize {
		case 4:
			factory = func() interface{} { return make([]float32, size) }
		default:
			factory = func() interface{} { return make([]float64, size) }
		}
	default:
		// Open rejects non-numeric dtypes
		panic("unsupported decoding type")
	}

	return order, factory
}

// chunk is one decoded chunk and its position in the chunk grid.
type chunk struct {
	coords []int
	data   []byte
}

func (a *Array) chunkSize() int { return product(a.meta.Chunks) * a.dtype.ItemSize() }

// loadChunk returns the decoded chunk at coords, or nil data if it was never
// written.
func (a *Array) loadChunk(coords []int) (*chunk, error) {
	c := &chunk{coords: append([]int(nil), coords...)}
	enc, err := getBytes(a.store, a.chunkPath(coords).String())
	if errors.Is(err, ErrNotfound) {
		return c, nil
	} else if err != nil {
		return nil, err
	}
	raw, err := a.meta.Compressor.decode(enc)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s of %q: %w", a.chunkKey(coords), a.path, err)
	}
	if len(raw) != a.chunkSize() {
		return nil, fmt.Errorf("chunk %s of %q has %d bytes, want %d", a.chunkKey(coords), a.path, len(raw), a.chunkSize())
	}
	c.data = raw
	return c, nil
}

func (a *Array) storeChunk(c *chunk) error {
	enc, err := a.meta.Compressor.encode(c.data)
	if err != nil {
		return err
	}
	return a.store.Put(a.chunkPath(c.coords).String(), bytes.NewReader(enc))
}

// visit walks every element of a resolved selection, passing the chunk that
// holds it, the element's byte offset in that chunk and its byte offset in a
// dense buffer shaped like sel. load decides how chunks are materialised.
func (a *Array) visit(sel Selection, load func(coords []int) (*chunk, error), fn func(c *chunk, chunkOff, outOff int) error) error {
	rank := len(sel)
	dims := make([][]chunkDimProjection, rank)
	for d, s := range sel {
		dims[d] = dimProjections(s, a.meta.Chunks[d])
	}
	grid := a.chunkGrid(a.meta.Shape)
	gridStrides := strides(grid)
	chunkStrides := strides(a.meta.Chunks)
	size := a.dtype.ItemSize()

	cache := map[int]*chunk{}
	coords := make([]int, rank)
	outOff := 0
	return forEachIndex(sel.Shape(), func(idx []int) error {
		id, within := 0, 0
		for d, j := range idx {
			p := dims[d][j]
			coords[d] = p.DimChunkIX
			id += p.DimChunkIX * gridStrides[d]
			within += p.DimChunkSel * chunkStrides[d]
		}
		c, ok := cache[id]
		if !ok {
			var err error
			if c, err = load(coords); err != nil {
				return err
			}
			cache[id] = c
		}
		err := fn(c, within*size, outOff)
		outOff += size
		return err
	})
}

// Read returns the elements addressed by sel as a dense buffer. Elements in
// chunks that were never written read as the fill value.
func (a *Array) Read(sel Selection) (*Buffer, error) {
	sel, err := sel.Resolve(a.meta.Shape)
	if err != nil {
		return nil, err
	}
	out := NewBuffer(a.dtype, sel.Shape())
	out.Fill(a.fill)
	size := a.dtype.ItemSize()
	err = a.visit(sel, a.loadChunk, func(c *chunk, chunkOff, outOff int) error {
		if c.data != nil {
			copy(out.Data[outOff:outOff+size], c.data[chunkOff:chunkOff+size])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write stores buf into the positions addressed by sel. buf must have the
// selection's shape; its elements are converted to the array's dtype.
func (a *Array) Write(sel Selection, buf *Buffer) error {
	if a.mode == ModeRead {
		return fmt.Errorf("%w: %q", ErrReadOnly, a.path)
	}
	sel, err := sel.Resolve(a.meta.Shape)
	if err != nil {
		return err
	}
	if !equalInts(sel.Shape(), buf.Shape) {
		return fmt.Errorf("%w: buffer shape %v does not match selection %s", ErrOutOfBounds, buf.Shape, sel)
	}
	if buf, err = buf.Convert(a.dtype); err != nil {
		return err
	}

	dirty := map[string]*chunk{}
	load := func(coords []int) (*chunk, error) {
		c, err := a.loadChunk(coords)
		if err != nil {
			return nil, err
		}
		if c.data == nil {
			fresh := NewBuffer(a.dtype, a.meta.Chunks)
			fresh.Fill(a.fill)
			c.data = fresh.Data
		}
		dirty[a.chunkKey(coords)] = c
		return c, nil
	}
	size := a.dtype.ItemSize()
	err = a.visit(sel, load, func(c *chunk, chunkOff, outOff int) error {
		copy(c.data[chunkOff:chunkOff+size], buf.Data[outOff:outOff+size])
		return nil
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(dirty))
	for k := range dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := a.storeChunk(dirty[k]); err != nil {
			return err
		}
	}
	return nil
}

// Resize changes the array's extent within its maximum shape. Chunks that
// fall entirely outside the new extent are deleted.
func (a *Array) Resize(shape []int) error {
	if a.mode == ModeRead {
		return fmt.Errorf("%w: %q", ErrReadOnly, a.path)
	}
	if len(shape) != len(a.meta.Shape) {
		return fmt.Errorf("%w: resize to rank %d, array has rank %d", ErrOutOfBounds, len(shape), len(a.meta.Shape))
	}
	maxShape := a.meta.MaxShape
	if maxShape == nil {
		maxShape = a.meta.Shape
	}
	if err := checkMaxShape(shape, maxShape); err != nil {
		return err
	}
	if err := a.deleteChunks(shape); err != nil {
		return err
	}
	meta := *a.meta
	meta.Shape = append([]int(nil), shape...)
	if err := PutMeta(a.store, a.path.String(), &meta); err != nil {
		return err
	}
	a.meta = &meta
	return nil
}

// deleteChunks removes chunks of the current grid lying outside keep. A nil
// keep removes every chunk.
func (a *Array) deleteChunks(keep []int) error {
	var keepGrid []int
	if keep != nil {
		keepGrid = a.chunkGrid(keep)
	}
	return forEachIndex(a.chunkGrid(a.meta.Shape), func(coords []int) error {
		if keepGrid != nil {
			inside := true
			for d, c := range coords {
				if c >= keepGrid[d] {
					inside = false
					break
				}
			}
			if inside {
				return nil
			}
		}
		return a.store.Delete(a.chunkPath(coords).String())
	})
}

func (a *Array) chunkGrid(shape []int) []int {
	grid := make([]int, len(shape))
	for d, n := range shape {
		grid[d] = (n + a.meta.Chunks[d] - 1) / a.meta.Chunks[d]
	}
	return grid
}

func (a *Array) chunkKey(coords []int) string {
	sep := a.meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}

func (a *Array) chunkPath(coords []int) Path {
	return a.path.Join(a.chunkKey(coords))
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

type Path []string

// NewPath normalizes a logical path so that keys are consistent across
// storage systems: backslashes become forward slashes, leading and trailing
// slashes are stripped and repeated slashes collapse. "." and ".." segments
// are rejected.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, "\\", "/")
	var p Path
	for _, seg := range strings.Split(posix, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path %q: relative segment %q", posix, seg)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}

// Remove deletes the array stored at path together with its chunks. Removing
// a path that holds no array is not an error.
func Remove(store Store, path string) error {
	a, err := Open(store, path, ModeWrite)
	if errors.Is(err, ErrNotfound) {
		return nil
	} else if err != nil {
		return err
	}
	if err := a.deleteChunks(nil); err != nil {
		return err
	}
	return store.Delete(a.path.Join(string(MTArray)).String())
}

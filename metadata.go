package zarr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTVirtual is the key for a virtual dataset's mapping document
	MTVirtual MetaType = ".zvmaps"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

const (
	// ZarrFormat is the storage specification version arrays are written with.
	ZarrFormat = 2
	// VirtualFormat is the version of the virtual dataset document.
	VirtualFormat = 1
)

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
	MTVirtual:    {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consoldated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := Group{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		case MTVirtual:
			vm := &VirtualMeta{}
			if err := json.Unmarshal(data, vm); err != nil {
				return fmt.Errorf("reading %q virtual dataset: %w", key, err)
			}
			cm.Metadata[key] = vm
		}
	}

	*m = cm
	return nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string or list defining a valid data type for the array. See also the
	// subsection below on data type encoding.
	Dtype StructuredType `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	// If an array has a fixed length byte string data type (e.g., "|S12"), or a
	// structured data type, and if the fill value is not null, then the fill
	// value MUST be encoded as an ASCII string using the standard Base64
	// alphabet.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. “C” means row-major order, i.e., the last dimension varies fastest;
	// “F” means column-major order, i.e., the first dimension varies fastest.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Each codec configuration object MUST contain a
	// "id" key identifying the codec to be used.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	// Arrays defined with "/" as the dimension separator can be considered to
	// have nested, or hierarchical, keys of the form “0/0” that SHOULD where
	// possible produce a directory-like structure.
	DimensionSeparator string `json:"dimension_separator,omitempty"`

	// Extension: the largest extent each dimension may be resized to, with
	// Unlimited marking an unbounded dimension. Absent means Shape is fixed.
	MaxShape []int `json:"max_shape,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the metadata describes an array this package can read and
// write.
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("array shape must have at least one dimension")
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("chunks rank %d does not match shape rank %d", len(a.Chunks), len(a.Shape))
	}
	for d, n := range a.Shape {
		if n < 0 {
			return fmt.Errorf("negative extent %d in dimension %d", n, d)
		}
		if a.Chunks[d] < 1 {
			return fmt.Errorf("chunk extent must be positive in dimension %d", d)
		}
	}
	if err := checkMaxShape(a.Shape, a.MaxShape); err != nil {
		return err
	}
	if _, err := a.Dtype.Basic(); err != nil {
		return err
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("unsupported memory order %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("filters are not supported")
	}
	if _, err := ParseFillValue(a.FillValue); err != nil {
		return err
	}
	return nil
}

func checkMaxShape(shape, maxShape []int) error {
	if maxShape == nil {
		return nil
	}
	if len(maxShape) != len(shape) {
		return fmt.Errorf("max shape rank %d does not match shape rank %d", len(maxShape), len(shape))
	}
	for d, m := range maxShape {
		if m != Unlimited && m < shape[d] {
			return fmt.Errorf("%w: extent %d exceeds max %d in dimension %d", ErrOutOfBounds, shape[d], m, d)
		}
	}
	return nil
}

type Filter struct {
	ID     string `json:"ID"`
	Delta  string `json:"Delta"`
	Dtype  string `json:"Dtype"`
	AsType string `json:"AsType"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// ParseFillValue interprets a decoded JSON fill value. A null fill value
// reads as zero.
func ParseFillValue(v interface{}) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return x.Float64()
	case string:
		switch x {
		case FillValueNaN:
			return math.NaN(), nil
		case FillValueInfinity:
			return math.Inf(1), nil
		case FillValueNegativeInfinity:
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill value %#v", v)
}

// EncodeFillValue returns the JSON representation of a fill value, spelling
// out non-finite values as strings.
func EncodeFillValue(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return FillValueNaN
	case math.IsInf(f, 1):
		return FillValueInfinity
	case math.IsInf(f, -1):
		return FillValueNegativeInfinity
	}
	return f
}

// ErrChecksum is returned when a virtual dataset document's mapping records
// do not match their recorded checksum.
var ErrChecksum = errors.New("checksum mismatch")

// VirtualMeta is the persisted form of a virtual dataset: its shape, element
// type, fill value and ordered mapping records. It is stored as a single
// JSON document under the “.zvmaps” key so that it is committed in one write.
type VirtualMeta struct {
	VirtualFormat int             `json:"zarr_virtual_format"`
	Shape         []int           `json:"shape"`
	MaxShape      []int           `json:"max_shape,omitempty"`
	Dtype         Dtype           `json:"dtype"`
	FillValue     interface{}     `json:"fill_value"`
	Mappings      []MappingRecord `json:"mappings"`
	// xxhash of the JSON encoding of Mappings
	Checksum uint64 `json:"checksum"`
}

func (VirtualMeta) MetaType() MetaType { return MTVirtual }

// MappingRecord is one persisted mapping: a region of a source array filling
// a region of the virtual dataset.
type MappingRecord struct {
	SourcePath      string    `json:"source_path"`
	SourceKey       string    `json:"source_key"`
	SourceShape     []int     `json:"source_shape"`
	SourceMaxShape  []int     `json:"source_max_shape,omitempty"`
	SourceSelection Selection `json:"source_selection"`
	TargetSelection Selection `json:"target_selection"`
	Dtype           Dtype     `json:"dtype"`
}

func (m *VirtualMeta) mappingsChecksum() (uint64, error) {
	d, err := json.Marshal(m.Mappings)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(d), nil
}

// Seal stamps the document with the checksum of its mapping records.
func (m *VirtualMeta) Seal() error {
	sum, err := m.mappingsChecksum()
	if err != nil {
		return err
	}
	m.Checksum = sum
	return nil
}

// Verify checks the mapping records against the recorded checksum.
func (m *VirtualMeta) Verify() error {
	sum, err := m.mappingsChecksum()
	if err != nil {
		return err
	}
	if sum != m.Checksum {
		return fmt.Errorf("%w: virtual dataset mappings", ErrChecksum)
	}
	return nil
}

// PutMeta writes v as JSON under the metadata key of its type below path.
func PutMeta(s Store, path string, v MetaTyper) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(p.Join(string(v.MetaType())).String(), bytes.NewReader(d))
}

// GetMeta decodes the metadata document of type mt below path into v. Store
// errors are returned as is; a document that does not decode is reported as
// ErrMalformedMeta.
func GetMeta(s Store, path string, mt MetaType, v interface{}) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	key := p.Join(string(mt)).String()
	d, err := getBytes(s, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(d, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMeta, key, err)
	}
	return nil
}

package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is the set of all zarr data types
// Simple data types as a string following the NumPy array protocol type string
// (typestr) format. The format consists of 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant)
//  * One character code giving the basic type of the array:
//    * "b": Boolean (integer type where all values are only True or False)
//    * "i": integer;
//    * "u": unsigned integer
//    * "f": floating point
//    * "c": complex floating point
//    * "m": timedelta;
//    * "M": datetime
//    * "S": string (fixed-length sequence of char)
//    * "U": unicode (fixed-length sequence of Py_UNICODE)
//    * "V": other (void * – each item is a fixed-size chunk of memory))
//  * An integer specifying the number of bytes the type uses.
//
// The byte order is optional in some circumstances, within the zarr format
// byte order MUST be specified
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializaing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("%w: %q is too short", ErrUnsupportedDtype, s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	var sizeStr, unitStr string
	for i, b := range s {
		if b == '[' {
			unitStr = s[i:]
			break
		}
		sizeStr += string(b)
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, err
	}
	dt.ByteSize = int(size)

	// TODO(b5): validate unit string
	dt.Units = unitStr

	return dt, nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// Element types the array layer can store and convert.
var (
	Bool    = MustParseDtype("|b1")
	Int8    = MustParseDtype("|i1")
	Int16   = MustParseDtype("<i2")
	Int32   = MustParseDtype("<i4")
	Int64   = MustParseDtype("<i8")
	Uint8   = MustParseDtype("|u1")
	Uint16  = MustParseDtype("<u2")
	Uint32  = MustParseDtype("<u4")
	Uint64  = MustParseDtype("<u8")
	Float32 = MustParseDtype("<f4")
	Float64 = MustParseDtype("<f8")
)

// MustParseDtype is ParseDtype that panics on malformed input. Intended for
// package-level declarations.
func MustParseDtype(s string) Dtype {
	dt, err := ParseDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// ItemSize is the number of bytes one element occupies.
func (dt Dtype) ItemSize() int { return dt.ByteSize }

// Numeric reports whether elements of dt can be read and written as numbers.
func (dt Dtype) Numeric() bool {
	switch dt.BasicType {
	case BTBoolean:
		return dt.ByteSize == 1
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return true
		}
	case BTFloatingPoint:
		return dt.ByteSize == 4 || dt.ByteSize == 8
	}
	return false
}

// Coercible reports whether elements of a can be converted to b.
func Coercible(a, b Dtype) bool {
	return a.Numeric() && b.Numeric()
}

func (dt Dtype) order() binary.ByteOrder {
	if dt.ByteOrder == BOLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode writes v into dst as one element of dt. dst must hold at least
// ItemSize bytes.
func (dt Dtype) Encode(dst []byte, v float64) {
	bo := dt.order()
	switch dt.BasicType {
	case BTBoolean:
		if v != 0 {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	case BTInteger:
		putUint(bo, dst, dt.ByteSize, uint64(clampInt(v, dt.ByteSize)))
	case BTUnsigned:
		putUint(bo, dst, dt.ByteSize, clampUint(v, dt.ByteSize))
	case BTFloatingPoint:
		if dt.ByteSize == 4 {
			bo.PutUint32(dst, math.Float32bits(float32(v)))
		} else {
			bo.PutUint64(dst, math.Float64bits(v))
		}
	}
}

// clampInt converts v to a signed integer of size bytes, saturating at the
// type's limits. NaN encodes as zero.
func clampInt(v float64, size int) int64 {
	bits := 8 * uint(size)
	lo, hi := int64(-1)<<(bits-1), int64(math.MaxInt64)>>(64-bits)
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}

// clampUint is clampInt for unsigned integers. Negative values encode as
// zero.
func clampUint(v float64, size int) uint64 {
	hi := uint64(math.MaxUint64) >> (64 - 8*uint(size))
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= float64(hi):
		return hi
	}
	return uint64(v)
}

// Representable reports whether v survives encoding as dt unchanged.
// Integer types hold only whole numbers within their range; floating point
// types hold anything, NaN and infinities included.
func (dt Dtype) Representable(v float64) bool {
	switch dt.BasicType {
	case BTBoolean:
		return v == 0 || v == 1
	case BTInteger, BTUnsigned:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return false
		}
		b := make([]byte, dt.ByteSize)
		dt.Encode(b, v)
		return dt.Decode(b) == v
	case BTFloatingPoint:
		if dt.ByteSize == 4 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			return math.Abs(v) <= math.MaxFloat32
		}
		return true
	}
	return false
}

// Decode reads one element of dt from src.
func (dt Dtype) Decode(src []byte) float64 {
	bo := dt.order()
	switch dt.BasicType {
	case BTBoolean:
		if src[0] != 0 {
			return 1
		}
		return 0
	case BTInteger:
		u := getUint(bo, src, dt.ByteSize)
		shift := 64 - 8*uint(dt.ByteSize)
		return float64(int64(u<<shift) >> shift)
	case BTUnsigned:
		return float64(getUint(bo, src, dt.ByteSize))
	case BTFloatingPoint:
		if dt.ByteSize == 4 {
			return float64(math.Float32frombits(bo.Uint32(src)))
		}
		return math.Float64frombits(bo.Uint64(src))
	}
	return 0
}

func putUint(bo binary.ByteOrder, dst []byte, size int, u uint64) {
	switch size {
	case 1:
		dst[0] = byte(u)
	case 2:
		bo.PutUint16(dst, uint16(u))
	case 4:
		bo.PutUint32(dst, uint32(u))
	case 8:
		bo.PutUint64(dst, u)
	}
}

func getUint(bo binary.ByteOrder, src []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(src[0])
	case 2:
		return uint64(bo.Uint16(src))
	case 4:
		return uint64(bo.Uint32(src))
	default:
		return bo.Uint64(src)
	}
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("%w: byte order %q", ErrUnsupportedDtype, r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("%w: basic type %q", ErrUnsupportedDtype, r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

// TODO(b5): human names need to be matched to the python implementation?
var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}

type StructuredType struct {
	Fieldname string
	Dtype     Dtype
	Shape     interface{}
	Children  []StructuredType
}

var (
	_ json.Unmarshaler = (*StructuredType)(nil)
	_ json.Marshaler   = (*StructuredType)(nil)
)

func ParseStructuredType(d interface{}) (StructuredType, error) {
	switch v := d.(type) {
	case string:
		// string is a Dtype literal
		dt, err := ParseDtype(v)
		if err != nil {
			return StructuredType{}, err
		}
		return StructuredType{Dtype: dt}, nil
	case []interface{}:
		return parseStructuredTypeSlice(v)
	default:
		return StructuredType{}, fmt.Errorf("unexpected type %T", d)
	}
}

func parseStructuredTypeSlice(d []interface{}) (StructuredType, error) {
	if len(d) == 1 {
		childSlice, ok := d[0].([]interface{})
		if !ok {
			return StructuredType{}, fmt.Errorf("expected single element array to contain an array of structure types")
		}
		parent := StructuredType{}
		for i, el := range childSlice {
			ch, err := ParseStructuredType(el)
			if err != nil {
				return StructuredType{}, fmt.Errorf("element %d: %w", i, err)
			}
			parent.Children = append(parent.Children, ch)
		}
		// return StructuredType{}, fmt.Errorf("invalid structured Dtype: %q is too short", string(d))
		return parent, nil
	} else if len(d) < 2 {
		return StructuredType{}, fmt.Errorf("invalid structured Dtype: %d elements is too short", len(d))
	}

	t := StructuredType{}
	fieldName, ok := d[0].(string)
	if !ok {
		return StructuredType{}, fmt.Errorf("invalid structured Dtype: field name must be a string. got %T", d[0])
	}
	t.Fieldname = fieldName

	switch x := d[1].(type) {
	case string:
		dtype, err := ParseDtype(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Dtype = dtype
	case []interface{}:
		ch, err := ParseStructuredType(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Children = append(t.Children, ch)
	default:
		return t, fmt.Errorf("invalid structured Dtype: want either string or Structured Type. got %T", d[1])
	}

	// TODO (b5): shape parsing
	if len(d) > 2 {
		t.Shape = d[2]
	}

	return t, nil
}

// Basic returns the scalar element type of st. Structured records are not
// supported as array elements.
func (st StructuredType) Basic() (Dtype, error) {
	if !st.IsBasic() || len(st.Children) > 0 {
		return Dtype{}, fmt.Errorf("%w: structured type %q", ErrUnsupportedDtype, st.Fieldname)
	}
	if !st.Dtype.Numeric() {
		return Dtype{}, fmt.Errorf("%w: %s", ErrUnsupportedDtype, st.Dtype)
	}
	return st.Dtype, nil
}

func (st *StructuredType) IsBasic() bool {
	return st.Fieldname == "" && st.Shape == nil
}

func (st *StructuredType) Human() string {
	if st.IsBasic() {
		return st.Dtype.BasicType.Human()
	}
	return "struct"
}

func (st StructuredType) MarshalJSON() ([]byte, error) {
	if st.IsBasic() {
		return st.Dtype.MarshalJSON()
	}

	d := []interface{}{
		st.Fieldname,
		st.Dtype,
	}
	if st.Shape != nil {
		d = append(d, st.Shape)
	}

	return json.Marshal(d)
}

func (st *StructuredType) UnmarshalJSON(d []byte) error {
	var v interface{}
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}

	t, err := ParseStructuredType(v)
	if err != nil {
		return err
	}

	*st = t
	return nil
}

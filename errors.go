package zarr

import "errors"

var (
	// ErrExists is returned when creating an array or virtual dataset at a
	// path that already holds one.
	ErrExists = errors.New("already exists")
	// ErrReadOnly is returned for writes through an array opened with ModeRead.
	ErrReadOnly = errors.New("array is read only")
	// ErrOutOfBounds is returned when a selection addresses positions outside
	// an array's shape or maximum shape.
	ErrOutOfBounds = errors.New("selection out of bounds")
	// ErrUnsupportedDtype is returned for element types the array layer
	// cannot encode.
	ErrUnsupportedDtype = errors.New("unsupported dtype")
	// ErrMalformedMeta is returned when a metadata document cannot be
	// decoded.
	ErrMalformedMeta = errors.New("malformed metadata")
	// ErrUnsupportedCodec is returned for compressor ids with no codec.
	ErrUnsupportedCodec = errors.New("unsupported compressor")
)

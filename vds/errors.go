package vds

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidShape matches every *InvalidShapeError.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrShapeMismatch matches every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNoEntries is returned when creating a virtual dataset without mappings.
	ErrNoEntries = errors.New("virtual dataset has no mappings")
	// ErrTargetConflict is returned when mappings name different virtual
	// datasets.
	ErrTargetConflict = errors.New("mappings target different datasets")
	// ErrDtypeMismatch is returned when a mapping's element type cannot be
	// converted to the virtual dataset's.
	ErrDtypeMismatch = errors.New("dtype mismatch")
	// ErrMissingSource matches every *MissingSourceError.
	ErrMissingSource = errors.New("missing source")
	// ErrInvalidFill is returned when the fill value cannot be stored in the
	// dataset's element type.
	ErrInvalidFill = errors.New("fill value not representable")
	// ErrCorruptMetadata is returned when a persisted virtual dataset document
	// cannot be decoded into a valid descriptor.
	ErrCorruptMetadata = errors.New("corrupt virtual dataset metadata")
)

// InvalidShapeError reports a malformed shape, maximum shape or selection on
// a source or target descriptor.
type InvalidShapeError struct {
	Shape    []int
	MaxShape []int
	Reason   string
}

func (e *InvalidShapeError) Error() string {
	if e.MaxShape != nil {
		return fmt.Sprintf("invalid shape %v (max %v): %s", e.Shape, e.MaxShape, e.Reason)
	}
	return fmt.Sprintf("invalid shape %v: %s", e.Shape, e.Reason)
}

func (e *InvalidShapeError) Is(target error) bool { return target == ErrInvalidShape }

// ShapeMismatchError reports a source and target region that select a
// different number of elements along a dimension.
type ShapeMismatchError struct {
	Dim    int
	Source int
	Target int
}

func (e *ShapeMismatchError) Error() string {
	if e.Dim < 0 {
		return fmt.Sprintf("shape mismatch: source rank %d, target rank %d", e.Source, e.Target)
	}
	return fmt.Sprintf("shape mismatch in dimension %d: source selects %d, target selects %d", e.Dim, e.Source, e.Target)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// MissingSourceError reports a mapping whose source could not supply the
// requested elements.
//
// The underlying error can be accessed via errors.Unwrap.
type MissingSourceError struct {
	Entry int
	Path  string
	Key   string
	cause error
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("mapping %d: source %s:%s unavailable: %v", e.Entry, e.Path, e.Key, e.cause)
}

func (e *MissingSourceError) Is(target error) bool { return target == ErrMissingSource }

func (e *MissingSourceError) Unwrap() error { return e.cause }

package vds

import (
	"log/slog"

	"github.com/qri-io/zarr-vds"
)

// MissingPolicy decides what a read does when a mapping's source cannot be
// opened or cannot supply the elements the mapping names.
type MissingPolicy int

const (
	// FillMissing leaves the mapping's elements at the fill value, or at
	// whatever an earlier mapping supplied, and logs a warning.
	FillMissing MissingPolicy = iota
	// FailMissing aborts the read with a *MissingSourceError.
	FailMissing
)

func (p MissingPolicy) String() string {
	switch p {
	case FillMissing:
		return "fill"
	case FailMissing:
		return "fail"
	}
	return "unknown"
}

type options struct {
	dtype       *zarr.Dtype
	overwrite   bool
	resolver    SourceResolver
	policy      MissingPolicy
	logger      *slog.Logger
	concurrency int
}

// Option configures Create and Open.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		policy:      FillMissing,
		logger:      slog.New(slog.DiscardHandler),
		concurrency: 1,
	}
}

// WithDtype sets the element type of a new virtual dataset. By default the
// first mapping's type is used. Ignored by Open.
func WithDtype(dt zarr.Dtype) Option {
	return func(o *options) {
		o.dtype = &dt
	}
}

// WithOverwrite lets Create replace an existing array or virtual dataset at
// the target key. Ignored by Open.
func WithOverwrite() Option {
	return func(o *options) {
		o.overwrite = true
	}
}

// WithResolver sets how source paths are turned into containers. The default
// resolves paths as LocalStore directories relative to the parent directory
// of a LocalStore container, and resolves nothing for other stores.
func WithResolver(r SourceResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithMissingPolicy sets how reads treat unavailable sources.
func WithMissingPolicy(p MissingPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLogger sets the logger reads report on. If nil is passed, logging is
// discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = slog.New(slog.DiscardHandler)
		}
		o.logger = l
	}
}

// WithConcurrency sets how many sources a read fetches at once. Values below
// one fetch sequentially. Results are always applied in mapping order.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

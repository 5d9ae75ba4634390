package zarr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// Compressor ids zarr-go can read and write.
const (
	CodecZstd = "zstd"
	CodecGzip = "gzip"
	CodecLZ4  = "lz4"
	CodecZlib = "zlib"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// datasetFormat maps a zarr compressor id onto the qri dataset compression
// format that implements it.
func datasetFormat(id string) (string, bool) {
	switch id {
	case CodecZstd:
		return "zst", true
	case CodecGzip:
		return "gzip", true
	}
	return "", false
}

// Compressor wraps w so that bytes written are compressed. A nil
// CompressionMeta writes bytes unchanged. Callers must Close the writer to
// flush it; closing does not close w.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil || m.ID == "" {
		return nopWriteCloser{w}, nil
	}
	switch m.ID {
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZlib:
		if m.Clevel > 0 {
			return zlib.NewWriterLevel(w, m.Clevel)
		}
		return zlib.NewWriter(w), nil
	}
	if f, ok := datasetFormat(m.ID); ok {
		return compression.Compressor(f, w)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, m.ID)
}

// Decompressor wraps a reader of compressed data. Callers must Close the
// returned reader.
func (m *CompressionMeta) Decompressor(r io.Reader) (io.ReadCloser, error) {
	if m == nil || m.ID == "" {
		return io.NopCloser(r), nil
	}
	switch m.ID {
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZlib:
		return zlib.NewReader(r)
	}
	if f, ok := datasetFormat(m.ID); ok {
		return compression.Decompressor(f, r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, m.ID)
}

func (m *CompressionMeta) encode(raw []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := m.Compressor(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *CompressionMeta) decode(enc []byte) ([]byte, error) {
	r, err := m.Decompressor(bytes.NewReader(enc))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// value.go -- value payload codec: cumulative-offset table + blob.
//
// (c) Sudhi Herle 2018 (teacher attribution retained for derived parts)
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package phash

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	lru "github.com/opencoff/golang-lru"
)

// ValueWriter serializes a dense vector of T value slices into the value
// region: an 8-byte count header, T little-endian cumulative end-offsets,
// then the T payloads concatenated in slot order (spec.md §4.4).
type ValueWriter interface {
	WriteAll(w io.Writer, values [][]byte) (int64, error)
}

// ValueReader reads back a value region produced by a matching ValueWriter.
// Get(i) is defined for every i in [0, T).
type ValueReader interface {
	Load(b []byte) error
	Get(i uint32) []byte
}

const valueHeaderSize = 8

// DefaultValueCodec implements the literal spec.md §4.4 layout: the bytes
// handed to WriteAll are stored verbatim.
type DefaultValueCodec struct{}

func (DefaultValueCodec) WriteAll(w io.Writer, values [][]byte) (int64, error) {
	return writeValueRegion(w, values)
}

func writeValueRegion(w io.Writer, values [][]byte) (int64, error) {
	var hdr [valueHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(values)))
	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	total := int64(n)

	offsets := make([]uint32, len(values))
	var sum uint64
	for i, v := range values {
		sum += uint64(len(v))
		if sum >= uint64(1)<<32 {
			return total, ErrValueTooLarge
		}
		offsets[i] = uint32(sum)
	}

	bs := u32sToByteSlice(offsets)
	m, err := w.Write(bs)
	total += int64(m)
	if err != nil {
		return total, err
	}

	for _, v := range values {
		if len(v) == 0 {
			continue
		}
		k, err := w.Write(v)
		total += int64(k)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DefaultValueReader is the read-side counterpart of DefaultValueCodec. It
// holds non-owning spans into the mmap'd value region; Get's returned
// slices are valid for as long as the backing region is.
type DefaultValueReader struct {
	count   uint64
	offsets []uint32
	content []byte
}

func (r *DefaultValueReader) Load(b []byte) error {
	if len(b) < valueHeaderSize {
		return fmt.Errorf("phash: value region too small (%d bytes)", len(b))
	}
	r.count = binary.LittleEndian.Uint64(b[:valueHeaderSize])

	offTblSize := int(r.count) * 4
	want := valueHeaderSize + offTblSize
	if len(b) < want {
		return fmt.Errorf("phash: value offset table truncated (have %d, want %d)", len(b), want)
	}

	r.offsets = bsToUint32Slice(b[valueHeaderSize:want])
	r.content = b[want:]
	return nil
}

func (r *DefaultValueReader) Get(i uint32) []byte {
	if uint64(i) >= r.count {
		return nil
	}
	end := r.offsets[i]
	if i == 0 {
		return r.content[:end]
	}
	start := r.offsets[i-1]
	return r.content[start:end]
}

// GetChecked is the bounds-checked counterpart of Get, for fuzzing or any
// caller that cannot trust the container's invariants (spec.md §9's
// "checked mode" design note).
func (r *DefaultValueReader) GetChecked(i uint32) ([]byte, error) {
	if uint64(i) >= r.count {
		return nil, fmt.Errorf("phash: slot %d out of range [0, %d)", i, r.count)
	}
	end := r.offsets[i]
	var start uint32
	if i > 0 {
		start = r.offsets[i-1]
	}
	if start > end || int(end) > len(r.content) {
		return nil, fmt.Errorf("phash: corrupt offset table at slot %d", i)
	}
	return r.content[start:end], nil
}

// CompressedValueCodec wraps the same cumulative-offset envelope as
// DefaultValueCodec, but flate-compresses each value independently before
// it is handed to the envelope writer. This is additive: the on-disk shape
// of the value region is unchanged, only the bytes stored per slot differ,
// so spec.md §3's invariants hold unmodified. Grounded in Design Notes §9's
// explicit suggestion that "the codec for a compressed variant" should be
// swappable without touching the container.
type CompressedValueCodec struct {
	// Level is the flate compression level (flate.DefaultCompression if 0).
	Level int
}

func (c CompressedValueCodec) WriteAll(w io.Writer, values [][]byte) (int64, error) {
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	compressed := make([][]byte, len(values))
	var buf bytes.Buffer
	for i, v := range values {
		if len(v) == 0 {
			compressed[i] = nil
			continue
		}
		buf.Reset()
		fw, err := flate.NewWriter(&buf, level)
		if err != nil {
			return 0, err
		}
		if _, err := fw.Write(v); err != nil {
			return 0, err
		}
		if err := fw.Close(); err != nil {
			return 0, err
		}
		compressed[i] = append([]byte(nil), buf.Bytes()...)
	}
	return writeValueRegion(w, compressed)
}

// CompressedValueReader decompresses values on demand and caches the
// decompressed result in an ARC cache (github.com/opencoff/golang-lru), the
// teacher's own caching dependency, retargeted here from disk-record
// caching to decompression-result caching.
type CompressedValueReader struct {
	inner DefaultValueReader
	cache *lru.ARCCache
}

// NewCompressedValueReader returns a reader that caches up to 'cacheSize'
// decompressed values (default 128 if cacheSize <= 0).
func NewCompressedValueReader(cacheSize int) *CompressedValueReader {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	c, _ := lru.NewARC(cacheSize)
	return &CompressedValueReader{cache: c}
}

func (r *CompressedValueReader) Load(b []byte) error {
	return r.inner.Load(b)
}

func (r *CompressedValueReader) Get(i uint32) []byte {
	if v, ok := r.cache.Get(i); ok {
		return v.([]byte)
	}

	raw := r.inner.Get(i)
	if len(raw) == 0 {
		return raw
	}

	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil
	}

	r.cache.Add(i, out)
	return out
}

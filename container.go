// container.go -- binds a CHD index and a value payload into one file,
// queryable via mmap. Layout is spec.md §6, byte-for-byte.
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
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"
)

// containerHeader is the 24-byte fixed header preceding the index region:
//
//	endian (1) | version (1) | reserved (2) | flag (4) | index_size (8) | value_size (8)
const containerHeaderSize = 24

const currentVersion = 0

type containerHeader struct {
	endian    byte
	version   byte
	flag      uint32
	indexSize uint64
	valueSize uint64
}

func nativeEndianByte() byte {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	if buf[0] == 1 {
		return 0 // little
	}
	return 1 // big
}

func (h containerHeader) marshal() []byte {
	var b [containerHeaderSize]byte
	b[0] = h.endian
	b[1] = h.version
	// b[2], b[3] reserved, left zero
	le := binary.LittleEndian
	le.PutUint32(b[4:8], h.flag)
	le.PutUint64(b[8:16], h.indexSize)
	le.PutUint64(b[16:24], h.valueSize)
	return b[:]
}

func (h *containerHeader) unmarshal(b []byte) error {
	if len(b) < containerHeaderSize {
		return fmt.Errorf("phash: container header too small (%d bytes)", len(b))
	}
	h.endian = b[0]
	h.version = b[1]
	le := binary.LittleEndian
	h.flag = le.Uint32(b[4:8])
	h.indexSize = le.Uint64(b[8:16])
	h.valueSize = le.Uint64(b[16:24])
	if h.version != currentVersion {
		return fmt.Errorf("phash: unsupported container version %d", h.version)
	}
	return nil
}

// entry is the bookkeeping Writer keeps per added key while accumulating
// the build set.
type entry struct {
	val []byte
}

// Writer accumulates distinct key/value pairs and, on Freeze, builds the
// CHD index over the keys and writes the complete container file: CHD
// header, displacement table, value header, offset table, value bytes,
// then the finalized container header patched in at offset 0 (spec.md §5's
// "Ordering" rule).
type Writer struct {
	fd     *os.File
	hf     HasherFactory
	codec  ValueWriter
	keymap map[string]*entry
	order  []string // preserves first-seen key order for Build's input

	fntmp  string
	fn     string
	frozen bool
}

// WriterOption configures optional aspects of a Writer at construction time.
type WriterOption func(*Writer)

// WithHasher selects the hash family used for this Writer's CHD index.
// Defaults to NewFastHasher().
func WithHasher(hf HasherFactory) WriterOption {
	return func(w *Writer) { w.hf = hf }
}

// WithValueCodec selects the value payload codec. Defaults to
// DefaultValueCodec{}.
func WithValueCodec(codec ValueWriter) WriterOption {
	return func(w *Writer) { w.codec = codec }
}

// NewWriter prepares file 'fn' to hold a container built from a CHD
// perfect-hash index. The file is written to a temp path and renamed into
// place only on a successful Freeze, per the teacher's own build-then-
// rename discipline (dbwriter.go).
func NewWriter(fn string, opts ...WriterOption) (*Writer, error) {
	tmp := fmt.Sprintf("%s.tmp.%d", fn, rand32())
	fd, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		fd:     fd,
		hf:     NewFastHasher(),
		codec:  DefaultValueCodec{},
		keymap: make(map[string]*entry),
		fn:     fn,
		fntmp:  tmp,
	}
	for _, o := range opts {
		o(w)
	}

	var z [containerHeaderSize]byte
	if _, err := writeAll(fd, z[:]); err != nil {
		fd.Close()
		os.Remove(tmp)
		return nil, err
	}

	return w, nil
}

// Len returns the number of distinct keys added so far.
func (w *Writer) Len() int { return len(w.keymap) }

// Add adds a single key/value pair. Duplicate keys return ErrExists.
func (w *Writer) Add(key, val []byte) error {
	if w.frozen {
		return ErrFrozen
	}
	if uint64(len(val)) >= uint64(1)<<32 {
		return ErrValueTooLarge
	}

	k := string(key)
	if _, ok := w.keymap[k]; ok {
		return ErrExists
	}

	w.keymap[k] = &entry{val: val}
	w.order = append(w.order, k)
	return nil
}

// Freeze builds the CHD perfect-hash index over the accumulated keys
// (spec.md §4.2, via Build), assembles the dense value vector in slot
// order, writes the value payload, patches the container header, and
// renames the temp file into place.
func (w *Writer) Freeze(cfg Config) (err error) {
	defer func() {
		if err != nil {
			w.fd.Close()
			os.Remove(w.fntmp)
		}
	}()

	if w.frozen {
		return ErrFrozen
	}

	keys := make([][]byte, len(w.order))
	for i, k := range w.order {
		keys[i] = []byte(k)
	}

	idx, err := Build(keys, w.hf, cfg)
	if err != nil {
		return err
	}

	nIdx, err := idx.MarshalBinary(w.fd)
	if err != nil {
		return err
	}
	indexSize := nIdx

	tableSize := idx.TableSize()
	values := make([][]byte, tableSize)
	used := make([]bool, tableSize)
	for _, k := range w.order {
		slot := idx.Pick([]byte(k))
		if used[slot] {
			panic(fmt.Sprintf("phash: slot %d already assigned (CHD invariant violated)", slot))
		}
		used[slot] = true
		values[slot] = w.keymap[k].val
	}

	nVal, err := w.codec.WriteAll(w.fd, values)
	if err != nil {
		return err
	}
	valueSize := nVal

	hdr := containerHeader{
		endian:    nativeEndianByte(),
		version:   currentVersion,
		flag:      0,
		indexSize: uint64(indexSize),
		valueSize: uint64(valueSize),
	}
	if _, err := w.fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := writeAll(w.fd, hdr.marshal()); err != nil {
		return err
	}

	w.frozen = true
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}

	return os.Rename(w.fntmp, w.fn)
}

// Abort discards the in-progress container, removing the temp file.
func (w *Writer) Abort() {
	w.fd.Close()
	os.Remove(w.fntmp)
}

// Reader memory-maps a previously-written container and serves Get(key)
// queries in O(1). The only per-query allocation is the Hasher obtained
// from the HasherFactory to hash the key. A Reader is safe for
// concurrent use by any number of goroutines once Open returns.
type Reader struct {
	mmap  []byte
	fd    *os.File
	index *IndexReader
	value ValueReader
}

// ReaderOption configures optional aspects of a Reader at open time.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	hf    HasherFactory
	value ValueReader
}

// WithReaderHasher selects the hash family used to resolve queries. Must
// match the Hasher the container was built with. Defaults to
// NewFastHasher().
func WithReaderHasher(hf HasherFactory) ReaderOption {
	return func(c *readerConfig) { c.hf = hf }
}

// WithReaderValueCodec selects the ValueReader used to decode the value
// region. Must match the ValueWriter the container was built with.
// Defaults to &DefaultValueReader{}.
func WithReaderValueCodec(vr ValueReader) ReaderOption {
	return func(c *readerConfig) { c.value = vr }
}

// Open memory-maps 'fn' and parses its container, index, and value
// headers. The mmap outlives both the index and value readers and is only
// released on Close.
func Open(fn string, opts ...ReaderOption) (*Reader, error) {
	cfg := &readerConfig{hf: NewFastHasher(), value: &DefaultValueReader{}}
	for _, o := range opts {
		o(cfg)
	}

	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}

	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("%s: can't stat: %w", fn, err)
	}
	if st.Size() < containerHeaderSize {
		fd.Close()
		return nil, fmt.Errorf("%s: file too small to be a valid container", fn)
	}

	mmap, err := syscall.Mmap(int(fd.Fd()), 0, int(st.Size()), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("%s: mmap failed: %w", fn, err)
	}

	var hdr containerHeader
	if err := hdr.unmarshal(mmap[:containerHeaderSize]); err != nil {
		syscall.Munmap(mmap)
		fd.Close()
		return nil, fmt.Errorf("%s: %w", fn, err)
	}

	indexStart := containerHeaderSize
	indexEnd := indexStart + int(hdr.indexSize)
	valueEnd := indexEnd + int(hdr.valueSize)
	if hdr.valueSize == 0 || valueEnd > len(mmap) {
		syscall.Munmap(mmap)
		fd.Close()
		return nil, fmt.Errorf("%s: corrupt or partial container (header/region size mismatch)", fn)
	}

	idx, err := NewIndexReader(mmap[indexStart:indexEnd], cfg.hf)
	if err != nil {
		syscall.Munmap(mmap)
		fd.Close()
		return nil, fmt.Errorf("%s: %w", fn, err)
	}

	if err := cfg.value.Load(mmap[indexEnd:valueEnd]); err != nil {
		syscall.Munmap(mmap)
		fd.Close()
		return nil, fmt.Errorf("%s: %w", fn, err)
	}

	return &Reader{
		mmap:  mmap,
		fd:    fd,
		index: idx,
		value: cfg.value,
	}, nil
}

// Get composes index resolution with payload lookup (spec.md §4.6).
// Undefined for keys that were not in the build set: never crashes, never
// returns a distinguished "missing" value, per spec.md's perfect-hash
// trade-off.
func (r *Reader) Get(key []byte) []byte {
	slot := r.index.Resolve(key)
	return r.value.Get(slot)
}

// TableSize returns T, the number of slots in the underlying CHD table.
func (r *Reader) TableSize() uint32 { return r.index.TableSize() }

// Close unmaps the file and releases the underlying descriptor.
func (r *Reader) Close() error {
	if err := syscall.Munmap(r.mmap); err != nil {
		return err
	}
	return r.fd.Close()
}

func writeAll(w io.Writer, buf []byte) (int, error) {
	n, err := w.Write(buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return n, errShortWrite(n, len(buf))
	}
	return n, nil
}

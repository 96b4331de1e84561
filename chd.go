// chd.go - CHD (Compress-Hash-Displace) perfect-hash index: build + read.
//
// This is an implementation of CHD in http://cmph.sourceforge.net/papers/esa09.pdf,
// following the bucket/displacement-pair variant used by kadds/phash rather
// than the single-seed-per-bucket variant of the original go-chd.
//
// (c) Sudhi Herle 2018 (teacher attribution retained for derived parts)
//
// License GPLv2

package phash

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Config controls the CHD construction. See spec.md §6 for domains and
// defaults.
type Config struct {
	// BucketElement is the target number of keys per bucket. Domain [1, 1000].
	BucketElement uint32

	// LoadFactor is N/T when Minimal is false. Domain [0.05, 1.0].
	LoadFactor float32

	// Minimal starts the table at T = N, ignoring LoadFactor. Each retry
	// still adds one slot, so T = N only when the first attempt succeeds;
	// the Retry budget is the same as for non-minimal builds.
	Minimal bool

	// Retry is the number of T-increments allowed before giving up.
	Retry uint32
}

// DefaultConfig returns the documented defaults: bucket_element=5,
// load_factor=0.99, minimal=false, retry=3.
func DefaultConfig() Config {
	return Config{
		BucketElement: 5,
		LoadFactor:    0.99,
		Minimal:       false,
		Retry:         3,
	}
}

func (c Config) validate() error {
	if c.BucketElement < 1 || c.BucketElement > 1000 {
		return fmt.Errorf("%w: bucket_element %d outside [1, 1000]", ErrConfigInvalid, c.BucketElement)
	}
	if c.LoadFactor < 0.05 || c.LoadFactor > 1.0 {
		return fmt.Errorf("%w: load_factor %f outside [0.05, 1.0]", ErrConfigInvalid, c.LoadFactor)
	}
	if c.Retry < 1 {
		return fmt.Errorf("%w: retry must be >= 1", ErrConfigInvalid)
	}
	return nil
}

// keyHash is the (h, h0, h1) triple derived from a key's 128-bit digest,
// per spec.md §3.
type keyHash struct {
	h, h0, h1 uint32
}

func hashKey(hf HasherFactory, key []byte, bucketSize, tableSize uint32) keyHash {
	hi, lo := digest128(hf, key)
	return keyHash{
		h:  uint32(hi) % bucketSize,
		h0: uint32(lo>>32) % tableSize,
		h1: uint32(lo) % tableSize,
	}
}

// displace computes the candidate slot for a bucket member under
// displacement pair (d0, d1), using wrapping 32-bit arithmetic throughout;
// only the final mod table_size reduction is semantically meaningful.
func displace(h0, h1, d0, d1 uint32) uint32 {
	return h0 + h1*d1 + d0
}

// bucket is a group of keys sharing the same primary hash h. index records
// the bucket's position before the descending-size sort so that the
// displacement table (indexed by original bucket number) can be recovered
// after reordering. This field is load-bearing, not optional (spec.md §9).
type bucket struct {
	index  uint32
	hashes []keyHash
}

type buckets []bucket

func (b buckets) Len() int           { return len(b) }
func (b buckets) Less(i, j int) bool { return len(b[i].hashes) > len(b[j].hashes) }
func (b buckets) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// chdHeader is the 12-byte CHD header prefixing the displacement table:
// flag (reserved, 0), table_size T, bucket_size B.
type chdHeader struct {
	flag       uint32
	tableSize  uint32
	bucketSize uint32
}

const chdHeaderSize = 12

func (h chdHeader) marshal() []byte {
	var b [chdHeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(b[0:4], h.flag)
	le.PutUint32(b[4:8], h.tableSize)
	le.PutUint32(b[8:12], h.bucketSize)
	return b[:]
}

func (h *chdHeader) unmarshal(b []byte) {
	le := binary.LittleEndian
	h.flag = le.Uint32(b[0:4])
	h.tableSize = le.Uint32(b[4:8])
	h.bucketSize = le.Uint32(b[8:12])
}

// Index is the build-side (RAM-resident) CHD index, produced by Build.
type Index struct {
	header chdHeader
	table  []uint32
	hf     HasherFactory
}

// TableSize returns T, the number of slots in the perfect-hash table.
func (idx *Index) TableSize() uint32 { return idx.header.tableSize }

// Build runs the CHD construction (spec.md §4.2) over the given distinct
// keys and returns a build-side Index. keys must be distinct: duplicate
// keys always land on the same slot, so no displacement can place them and
// Build fails with ErrConstructionExhausted (Writer rejects duplicates
// before they reach this layer).
func Build(keys [][]byte, hf HasherFactory, cfg Config) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n := uint32(len(keys))
	tableSize := uint32(float32(n) / cfg.LoadFactor)
	if cfg.Minimal {
		tableSize = n
	}
	if tableSize < n {
		tableSize = n
	}
	bucketSize := (n + cfg.BucketElement - 1) / cfg.BucketElement
	if bucketSize == 0 {
		bucketSize = 1
	}

	retry := cfg.Retry
	for {
		header, table, err := tryGenerate(keys, hf, tableSize, bucketSize)
		if err == nil {
			return &Index{header: header, table: table, hf: hf}, nil
		}
		if retry == 0 {
			return nil, fmt.Errorf("%w: %s", ErrConstructionExhausted, err)
		}
		retry--
		tableSize++
	}
}

// tryGenerate is a single attempt at the CHD construction for a fixed
// (table_size, bucket_size) pair. Grounded directly on
// original_source/src/chd.rs's try_generate.
func tryGenerate(keys [][]byte, hf HasherFactory, tableSize, bucketSize uint32) (chdHeader, []uint32, error) {
	bs := make(buckets, bucketSize)
	for i := range bs {
		bs[i].index = uint32(i)
	}
	for _, key := range keys {
		kh := hashKey(hf, key, bucketSize, tableSize)
		b := &bs[kh.h]
		b.hashes = append(b.hashes, kh)
	}

	sort.Sort(bs)

	used := newOccupancy(tableSize)
	result := make([]uint32, bucketSize)

	maxHashFunc := tableSize * tableSize
	if maxHashFunc == 0 || maxHashFunc > 1<<24 {
		maxHashFunc = 1 << 24
	}

	var pushed []uint32

	for i := range bs {
		b := &bs[i]
		if len(b.hashes) == 0 {
			continue
		}

		var hashFunc, d0, d1 uint32
		for {
			ok := true
			pushed = pushed[:0]
			for _, kh := range b.hashes {
				slot := displace(kh.h0, kh.h1, d0, d1) % tableSize
				if used.isSet(slot) {
					for _, p := range pushed {
						used.clear(p)
					}
					ok = false
					break
				}
				used.set(slot)
				pushed = append(pushed, slot)
			}
			if ok {
				result[b.index] = hashFunc
				break
			}

			hashFunc++
			d1++
			if d1 >= tableSize {
				d1 = 0
				d0++
			}
			if hashFunc >= maxHashFunc {
				return chdHeader{}, nil, fmt.Errorf("chd: no placement after %d displacement attempts", maxHashFunc)
			}
		}
	}

	header := chdHeader{flag: 0, tableSize: tableSize, bucketSize: bucketSize}
	return header, result, nil
}

// Pick resolves the slot for a key using the build-side (RAM) table. Used
// by Writer while assembling the value vector.
func (idx *Index) Pick(key []byte) uint32 {
	return resolve(idx.hf, idx.table, idx.header.tableSize, idx.header.bucketSize, key)
}

// MarshalBinary writes the CHD header followed by the B-entry displacement
// table, in bucket-index order, per spec.md §4.2.
func (idx *Index) MarshalBinary(w io.Writer) (int64, error) {
	n, err := w.Write(idx.header.marshal())
	if err != nil {
		return int64(n), err
	}
	bs := u32sToByteSlice(idx.table)
	m, err := w.Write(bs)
	return int64(n + m), err
}

// IndexReader is the read-side CHD index: a parsed header plus a
// displacement table backed by a memory-mapped byte span. Resolve runs in
// three arithmetic steps per spec.md §4.3; hashing the key obtains a fresh
// Hasher from the HasherFactory, which allocates one per query.
type IndexReader struct {
	header chdHeader
	table  []uint32
	hf     HasherFactory
}

// NewIndexReader parses the CHD header from 'b' (the index region of a
// container) and returns a ready-to-query IndexReader. 'b' must outlive
// the returned reader.
func NewIndexReader(b []byte, hf HasherFactory) (*IndexReader, error) {
	if len(b) < chdHeaderSize {
		return nil, fmt.Errorf("chd: index region too small (%d bytes)", len(b))
	}
	var hdr chdHeader
	hdr.unmarshal(b[:chdHeaderSize])

	want := chdHeaderSize + int(hdr.bucketSize)*4
	if len(b) < want {
		return nil, fmt.Errorf("chd: index region truncated (have %d, want %d)", len(b), want)
	}

	table := bsToUint32Slice(b[chdHeaderSize:want])
	return &IndexReader{header: hdr, table: table, hf: hf}, nil
}

// TableSize returns T.
func (r *IndexReader) TableSize() uint32 { return r.header.tableSize }

// Resolve returns the slot for 'key'. Undefined (but never out of bounds)
// for keys not in the original build set, per spec.md §4.6.
func (r *IndexReader) Resolve(key []byte) uint32 {
	return resolve(r.hf, r.table, r.header.tableSize, r.header.bucketSize, key)
}

func resolve(hf HasherFactory, table []uint32, tableSize, bucketSize uint32, key []byte) uint32 {
	kh := hashKey(hf, key, bucketSize, tableSize)
	hashFunc := table[kh.h]
	d0 := hashFunc / tableSize
	d1 := hashFunc % tableSize
	return displace(kh.h0, kh.h1, d0, d1) % tableSize
}

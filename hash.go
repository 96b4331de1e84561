// hash.go - 128-bit streaming hash family for the CHD perfect-hash index
//
// (c) Sudhi Herle 2018 (teacher attribution retained for derived parts)
//
// License GPLv2

package phash

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/opencoff/go-fasthash"
)

// Hasher produces a 128-bit digest of a key by streaming it through Write
// calls and folding each chunk into a running accumulator:
//
//	acc = (acc << 1) XOR chunkHash(data)
//
// This mirrors the reference implementation's use of CityHash128 folded
// incrementally across writes. Go has no CityHash128 in this module's
// dependency set, so each 128-bit chunk hash is itself assembled from two
// independent 64-bit hashes (two seeds in FastHasher, the plain and the
// bit-rotated input in XXHasher). Any type satisfying this interface
// can stand in for the index's hash family.
type Hasher interface {
	// Write folds 'p' into the running digest. Never returns an error.
	Write(p []byte) (int, error)

	// Sum128 returns the current 128-bit digest as (hi, lo).
	Sum128() (hi, lo uint64)

	// Reset clears the accumulator so the Hasher can be reused.
	Reset()
}

// HasherFactory constructs a fresh, zeroed Hasher. The CHD index calls this
// once per key hashed.
type HasherFactory func() Hasher

// fold128 advances the streaming accumulator by one chunk, per the
// CityHash-folding contract in spec.md: acc = (acc<<1) XOR chunk.
func fold128(accHi, accLo, chunkHi, chunkLo uint64) (hi, lo uint64) {
	hi = (accHi << 1) | (accLo >> 63)
	lo = accLo << 1
	return hi ^ chunkHi, lo ^ chunkLo
}

const golden64 = 0x9E3779B97F4A7C15

// FastHasher is the default Hasher, built on the teacher's own
// fasthash dependency (github.com/opencoff/go-fasthash), used the same way
// the teacher's tests already use it: fasthash.Hash64(seed, data).
type FastHasher struct {
	hi, lo uint64
}

// NewFastHasher returns a HasherFactory producing FastHasher instances.
func NewFastHasher() HasherFactory {
	return func() Hasher { return &FastHasher{} }
}

func (h *FastHasher) Write(p []byte) (int, error) {
	chunkHi := fasthash.Hash64(golden64, p)
	chunkLo := fasthash.Hash64(0, p)
	h.hi, h.lo = fold128(h.hi, h.lo, chunkHi, chunkLo)
	return len(p), nil
}

func (h *FastHasher) Sum128() (uint64, uint64) { return h.hi, h.lo }

func (h *FastHasher) Reset() { h.hi, h.lo = 0, 0 }

// XXHasher is an alternate Hasher built on github.com/cespare/xxhash/v2,
// the hash family used throughout the rest of the retrieval pack. It exists
// to demonstrate that the index's hash family is a swappable policy, as
// called for in spec.md's design notes.
type XXHasher struct {
	hi, lo uint64
}

// NewXXHasher returns a HasherFactory producing XXHasher instances.
func NewXXHasher() HasherFactory {
	return func() Hasher { return &XXHasher{} }
}

func (h *XXHasher) Write(p []byte) (int, error) {
	chunkHi := xxhash.Sum64(p)
	chunkLo := xxhash.Sum64String(string(rotl(p)))
	h.hi, h.lo = fold128(h.hi, h.lo, chunkHi, chunkLo)
	return len(p), nil
}

func (h *XXHasher) Sum128() (uint64, uint64) { return h.hi, h.lo }

func (h *XXHasher) Reset() { h.hi, h.lo = 0, 0 }

// rotl perturbs the input bytes so the "lo" sub-hash is independent of the
// "hi" sub-hash without needing a second, seeded hasher instance.
func rotl(p []byte) []byte {
	if len(p) == 0 {
		return p
	}
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = bits.RotateLeft8(b, 3)
	}
	return out
}

// digest128 runs a single key through a fresh Hasher and returns the
// completed 128-bit digest in one call.
func digest128(hf HasherFactory, key []byte) (hi, lo uint64) {
	h := hf()
	h.Write(key)
	return h.Sum128()
}

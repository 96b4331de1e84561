// chd_test.go -- test suite for the CHD index builder and reader
//
// (c) Sudhi Herle 2018 (teacher attribution retained; contents adapted)
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package phash

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

var keyw = []string{
	"expectoration",
	"mizzenmastman",
	"stockfather",
	"pictorialness",
	"villainous",
	"unquality",
	"sized",
	"Tarahumari",
	"endocrinotherapy",
	"quicksandy",
	"heretics",
	"pediment",
	"spleen's",
	"Shepard's",
	"paralyzed",
	"megahertzes",
	"Richardson's",
	"mechanics's",
	"Springfield",
	"burlesques",
}

func byteKeys(ss []string) [][]byte {
	keys := make([][]byte, len(ss))
	for i, s := range ss {
		keys[i] = []byte(s)
	}
	return keys
}

func TestCHDBuildAndPick(t *testing.T) {
	assert := newAsserter(t)

	keys := byteKeys(keyw)
	idx, err := Build(keys, NewFastHasher(), DefaultConfig())
	assert(err == nil, "build failed: %s", err)

	seen := make(map[uint32]string)
	for _, k := range keys {
		slot := idx.Pick(k)
		assert(slot < idx.TableSize(), "key %s mapped to out-of-range slot %d (T=%d)", k, slot, idx.TableSize())

		if other, ok := seen[slot]; ok {
			t.Fatalf("slot %d claimed by both %q and %q: not a perfect hash", slot, other, k)
		}
		seen[slot] = string(k)
	}
}

func TestCHDMinimal(t *testing.T) {
	assert := newAsserter(t)

	keys := byteKeys(keyw)
	cfg := DefaultConfig()
	cfg.Minimal = true

	idx, err := Build(keys, NewFastHasher(), cfg)
	assert(err == nil, "minimal build failed: %s", err)
	assert(idx.TableSize() == uint32(len(keys)), "minimal table size %d != N %d", idx.TableSize(), len(keys))
}

func TestCHDMarshalRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	keys := byteKeys(keyw)
	idx, err := Build(keys, NewFastHasher(), DefaultConfig())
	assert(err == nil, "build failed: %s", err)

	var buf bytes.Buffer
	n, err := idx.MarshalBinary(&buf)
	assert(err == nil, "marshal failed: %s", err)
	t.Logf("marshal size: %d bytes", n)

	rd, err := NewIndexReader(buf.Bytes(), NewFastHasher())
	assert(err == nil, "unmarshal failed: %s", err)
	assert(rd.TableSize() == idx.TableSize(), "table size mismatch: %d vs %d", rd.TableSize(), idx.TableSize())

	for _, k := range keys {
		a := idx.Pick(k)
		b := rd.Resolve(k)
		assert(a == b, "build-side and read-side resolved %q differently: %d vs %d", k, a, b)
	}
}

func TestCHDLargeRandomSet(t *testing.T) {
	assert := newAsserter(t)

	n := 5000
	keys := make([][]byte, n)
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		for {
			k := []byte(fmt.Sprintf("key-%d-%d", i, rand.Int()))
			if !seen[string(k)] {
				seen[string(k)] = true
				keys[i] = k
				break
			}
		}
	}

	cfg := DefaultConfig()
	cfg.LoadFactor = 0.5

	idx, err := Build(keys, NewFastHasher(), cfg)
	assert(err == nil, "build failed: %s", err)

	slots := make(map[uint32]bool, n)
	for _, k := range keys {
		slot := idx.Pick(k)
		assert(!slots[slot], "collision at slot %d", slot)
		slots[slot] = true
	}
}

func TestCHDConfigValidation(t *testing.T) {
	assert := newAsserter(t)

	cfg := DefaultConfig()
	cfg.LoadFactor = 1.5
	_, err := Build(byteKeys(keyw), NewFastHasher(), cfg)
	assert(err != nil, "expected error for out-of-range load factor")

	cfg = DefaultConfig()
	cfg.BucketElement = 0
	_, err = Build(byteKeys(keyw), NewFastHasher(), cfg)
	assert(err != nil, "expected error for zero bucket_element")
}

// TestCHDRetryExhaustion forces every key into a single CHD bucket (via a
// BucketElement equal to N) and pins the table at N (Minimal) with a tight
// retry budget, per spec.md §8's "force retry=1, many colliding h-bucket
// keys" scenario. A single bucket holding all N keys must find one
// displacement pair (d0, d1) that maps every key to a distinct slot in a
// table of size N; for N this large the odds of such a pair existing within
// the bounded search are vanishingly small, so construction should exhaust
// its retry budget and surface ErrConstructionExhausted.
func TestCHDRetryExhaustion(t *testing.T) {
	assert := newAsserter(t)

	n := 200
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("exhaust-key-%d", i))
	}

	cfg := DefaultConfig()
	cfg.Minimal = true
	cfg.BucketElement = uint32(n)
	cfg.Retry = 1

	_, err := Build(keys, NewFastHasher(), cfg)
	assert(err != nil, "expected construction to exhaust its retry budget")
	assert(errors.Is(err, ErrConstructionExhausted), "expected ErrConstructionExhausted, got %s", err)
}

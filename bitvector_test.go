// bitvector_test.go -- test suite for occupancy
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
	"testing"
)

func TestOccupancySimple(t *testing.T) {
	assert := newAsserter(t)

	bv := newOccupancy(100)

	for i := uint32(0); i < 100; i++ {
		if 1 == (i & 1) {
			bv.set(i)
		}
	}

	for i := uint32(0); i < 100; i++ {
		if 1 == (i & 1) {
			assert(bv.isSet(i), "%d not set", i)
		} else {
			assert(!bv.isSet(i), "%d is set", i)
		}
	}
}

func TestOccupancyClear(t *testing.T) {
	assert := newAsserter(t)

	bv := newOccupancy(64)
	for i := uint32(0); i < 64; i++ {
		bv.set(i)
	}
	for i := uint32(0); i < 64; i++ {
		if i&1 == 0 {
			bv.clear(i)
		}
	}

	for i := uint32(0); i < 64; i++ {
		if i&1 == 0 {
			assert(!bv.isSet(i), "%d should be cleared", i)
		} else {
			assert(bv.isSet(i), "%d should still be set", i)
		}
	}
}

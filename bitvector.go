// bitvector.go -- occupancy bitmap for the CHD displacement search
//
// (c) Sudhi Herle 2018 (teacher attribution retained; contents adapted)
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package phash

import "github.com/bits-and-blooms/bitset"

// occupancy tracks which of the T slots in a CHD table are already claimed
// during the displacement search (spec.md §4.2 step 3-4). Unlike the
// original go-chd's two-bitmap (global + per-bucket-scratch) design, this
// variant rolls back a failed attempt by clearing exactly the slots it
// placed (tracked by the caller in a plain []uint32), so only one bitmap
// is needed.
type occupancy struct {
	bits *bitset.BitSet
}

// newOccupancy creates an occupancy bitmap sized to hold at least 'size' bits.
func newOccupancy(size uint32) *occupancy {
	return &occupancy{bits: bitset.New(uint(size))}
}

// set marks slot 'i' occupied.
func (o *occupancy) set(i uint32) {
	o.bits.Set(uint(i))
}

// clear unmarks slot 'i', used to undo a failed displacement attempt.
func (o *occupancy) clear(i uint32) {
	o.bits.Clear(uint(i))
}

// isSet reports whether slot 'i' is already occupied.
func (o *occupancy) isSet(i uint32) bool {
	return o.bits.Test(uint(i))
}

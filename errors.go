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
	"errors"
	"fmt"
)

func errShortWrite(n, want int) error {
	return fmt.Errorf("phash: incomplete write; exp %d, saw %d", want, n)
}

var (
	// ErrConfigInvalid is returned when a Config field is outside its
	// documented domain.
	ErrConfigInvalid = errors.New("phash: invalid config")

	// ErrConstructionExhausted is returned when the CHD construction could
	// not place all buckets within Config.Retry table-size increments.
	ErrConstructionExhausted = errors.New("phash: CHD construction exhausted retry budget")

	// ErrFrozen is returned when attempting to add new records to an
	// already-frozen Writer, or to freeze one that's already frozen.
	ErrFrozen = errors.New("phash: writer already frozen")

	// ErrValueTooLarge is returned if a single value is >= 2^32 bytes, or
	// if the cumulative value length would overflow the 32-bit offset
	// counter.
	ErrValueTooLarge = errors.New("phash: value payload too large")

	// ErrExists is returned if a duplicate key is added to a Writer.
	ErrExists = errors.New("phash: key already added")

	// ErrNoKey means a key isn't present. Nothing in this package or the
	// example CLI returns it: the core Reader.Get has no membership test.
	ErrNoKey = errors.New("phash: no such key")
)

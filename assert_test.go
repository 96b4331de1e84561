// assert_test.go -- minimal assertion helper shared by this package's tests
//
// (c) Sudhi Herle 2018 (teacher attribution retained; contents adapted)
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package phash

import "testing"

// newAsserter returns a closure that fails the current test with a
// formatted message when 'cond' is false. Kept deliberately tiny so every
// test file in this package can call assert(cond, fmt, args...) without a
// third-party assertion library.
func newAsserter(t *testing.T) func(cond bool, f string, v ...interface{}) {
	return func(cond bool, f string, v ...interface{}) {
		if !cond {
			t.Helper()
			t.Fatalf(f, v...)
		}
	}
}

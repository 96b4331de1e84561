// container_test.go -- test suite for Writer/Reader (the mmap container)
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
	"flag"
	"fmt"
	"math/rand"
	"os"
	"testing"
)

var keep bool

func init() {
	flag.BoolVar(&keep, "keep", false, "Keep test container files")
}

func tmpContainerName(t *testing.T) string {
	return fmt.Sprintf("%s/phash-%s-%d.db", os.TempDir(), t.Name(), rand.Int())
}

func cleanupContainer(t *testing.T, fn string) {
	if keep {
		t.Logf("container retained at %s", fn)
		return
	}
	os.Remove(fn)
}

func TestContainerSmallDeterministicSet(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	kv := map[string]string{
		"apple":  "red",
		"banana": "yellow",
		"cherry": "also red",
	}

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)

	for k, v := range kv {
		assert(w.Add([]byte(k), []byte(v)) == nil, "add %q failed", k)
	}

	assert(w.Freeze(DefaultConfig()) == nil, "freeze failed")

	r, err := Open(fn)
	assert(err == nil, "open failed: %s", err)
	defer r.Close()

	for k, v := range kv {
		got := r.Get([]byte(k))
		assert(bytes.Equal(got, []byte(v)), "key %q: got %q want %q", k, got, v)
	}
}

func TestContainerLargeRandomSet(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	n := 50000
	kv := make(map[string]string, n)
	for len(kv) < n {
		k := fmt.Sprintf("k-%d", rand.Int())
		kv[k] = fmt.Sprintf("v-%d", rand.Int())
	}

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)

	for k, v := range kv {
		assert(w.Add([]byte(k), []byte(v)) == nil, "add %q failed", k)
	}

	cfg := DefaultConfig()
	cfg.LoadFactor = 0.5
	assert(w.Freeze(cfg) == nil, "freeze failed")

	r, err := Open(fn)
	assert(err == nil, "open failed: %s", err)
	defer r.Close()

	for k, v := range kv {
		got := r.Get([]byte(k))
		assert(bytes.Equal(got, []byte(v)), "key %q: got %q want %q", k, got, v)
	}
}

func TestContainerSingleKey(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)
	assert(w.Add([]byte("only"), []byte("value")) == nil, "add failed")
	assert(w.Freeze(DefaultConfig()) == nil, "freeze failed")

	r, err := Open(fn)
	assert(err == nil, "open failed: %s", err)
	defer r.Close()

	assert(r.TableSize() >= 1, "table size should be >= 1")
	got := r.Get([]byte("only"))
	assert(bytes.Equal(got, []byte("value")), "got %q want %q", got, "value")
}

func TestContainerEmptyValue(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)
	assert(w.Add([]byte("k1"), []byte("")) == nil, "add failed")
	assert(w.Add([]byte("k2"), []byte("nonempty")) == nil, "add failed")
	assert(w.Freeze(DefaultConfig()) == nil, "freeze failed")

	r, err := Open(fn)
	assert(err == nil, "open failed: %s", err)
	defer r.Close()

	got := r.Get([]byte("k1"))
	assert(len(got) == 0, "expected empty value, got %q", got)
}

func TestContainerDuplicateKeyRejected(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)
	assert(w.Add([]byte("k"), []byte("v1")) == nil, "first add failed")
	err = w.Add([]byte("k"), []byte("v2"))
	assert(err == ErrExists, "expected ErrExists, got %v", err)
	w.Abort()
}

func TestContainerCrashBetweenRegions(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	w, err := NewWriter(fn)
	assert(err == nil, "can't create writer: %s", err)
	assert(w.Add([]byte("k"), []byte("v")) == nil, "add failed")
	assert(w.Freeze(DefaultConfig()) == nil, "freeze failed")

	st, err := os.Stat(fn)
	assert(err == nil, "stat failed: %s", err)
	assert(st.Size() > containerHeaderSize, "container unexpectedly small")

	truncated := fn + ".trunc"
	defer os.Remove(truncated)
	full, err := os.ReadFile(fn)
	assert(err == nil, "read failed: %s", err)

	cut := st.Size() - 1
	assert(os.WriteFile(truncated, full[:cut], 0600) == nil, "write truncated copy failed")

	_, err = Open(truncated)
	assert(err != nil, "expected Open to reject a truncated container")
}

func TestContainerWithCompressedCodec(t *testing.T) {
	assert := newAsserter(t)

	fn := tmpContainerName(t)
	defer cleanupContainer(t, fn)

	w, err := NewWriter(fn, WithValueCodec(CompressedValueCodec{}))
	assert(err == nil, "can't create writer: %s", err)

	vals := map[string]string{
		"one": "the quick brown fox jumps over the lazy dog, repeatedly, over and over",
		"two": "another fairly repetitive string value for compression to chew on chew on",
	}
	for k, v := range vals {
		assert(w.Add([]byte(k), []byte(v)) == nil, "add %q failed", k)
	}
	assert(w.Freeze(DefaultConfig()) == nil, "freeze failed")

	r, err := Open(fn, WithReaderValueCodec(NewCompressedValueReader(16)))
	assert(err == nil, "open failed: %s", err)
	defer r.Close()

	for k, v := range vals {
		got := r.Get([]byte(k))
		assert(bytes.Equal(got, []byte(v)), "key %q: got %q want %q", k, got, v)
	}
}

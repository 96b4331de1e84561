// mphdb.go -- build, verify, and query a phash container from text or CSV
// input.
//
// phashdb builds an on-disk perfect-hash container (see phash.Writer) out of
// whitespace-delimited text or CSV files, and can verify or query an
// existing one. On build, it writes a detached sidecar file "<out>.sum"
// holding a random 128-bit siphash key and the siphash-2-4 MAC of the
// container bytes under that key; "verify" recomputes the MAC and compares.
// This catches bit-rot and truncation without growing the container format
// itself (the container's own 24-byte header has no room for a checksum
// field, see SPEC_FULL.md §6).

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/dchest/siphash"
	"github.com/kadds/phash"

	flag "github.com/opencoff/pflag"
)

const sumFileSize = 32 // 2x uint64 key + 8 zero bytes + 1x uint64 mac, little-endian

func main() {
	var load float64
	var bucketElement uint
	var minimal bool
	var verify bool
	var query string
	var compress bool
	var retry uint

	usage := fmt.Sprintf("%s [options] OUTPUT [INPUT ...]", os.Args[0])

	flag.Float64VarP(&load, "load", "l", 0.99, "Use `L` as the hash table load factor")
	flag.UintVarP(&bucketElement, "bucket", "b", 5, "Target `N` keys per CHD bucket")
	flag.UintVarP(&retry, "retry", "r", 3, "Allow `N` table-size bump retries during construction")
	flag.BoolVarP(&minimal, "minimal", "m", false, "Build a minimal perfect-hash (T == N)")
	flag.BoolVarP(&compress, "compress", "z", false, "Compress stored values with flate")
	flag.BoolVarP(&verify, "verify", "V", false, "Verify a container against its .sum sidecar")
	flag.StringVarP(&query, "query", "q", "", "Look up `KEY` in an existing container and print its value")
	flag.Usage = func() {
		fmt.Printf("phashdb - build, verify or query a CHD perfect-hash container\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		die("No container file name!\nUsage: %s\n", usage)
	}

	fn := args[0]
	args = args[1:]

	switch {
	case verify:
		doVerify(fn)
	case query != "":
		doQuery(fn, query)
	default:
		doBuild(fn, args, phash.Config{
			BucketElement: uint32(bucketElement),
			LoadFactor:    float32(load),
			Minimal:       minimal,
			Retry:         uint32(retry),
		}, compress)
	}
}

func doBuild(fn string, inputs []string, cfg phash.Config, compress bool) {
	var opts []phash.WriterOption
	if compress {
		opts = append(opts, phash.WithValueCodec(phash.CompressedValueCodec{}))
	}

	w, err := phash.NewWriter(fn, opts...)
	if err != nil {
		die("can't create container: %s", err)
	}

	var n uint64
	if len(inputs) > 0 {
		for _, f := range inputs {
			var m uint64
			switch {
			case strings.HasSuffix(f, ".txt"):
				m, err = AddTextFile(w, f, " \t")
			case strings.HasSuffix(f, ".csv"):
				m, err = AddCSVFile(w, f, ',', '#', 0, 1)
			default:
				warn("don't know how to add %s", f)
				continue
			}

			if err != nil {
				warn("can't add %s: %s", f, err)
				continue
			}

			fmt.Printf("+ %s: %d records\n", f, m)
			n += m
		}
	} else {
		n, err = AddTextStream(w, os.Stdin, " \t")
		if err != nil {
			w.Abort()
			die("can't add <STDIN>: %s", err)
		}
		fmt.Printf("+ <STDIN>: %d records\n", n)
	}

	if err := w.Freeze(cfg); err != nil {
		w.Abort()
		die("can't write container %s: %s", fn, err)
	}

	if err := writeSumFile(fn); err != nil {
		die("container written but sidecar stamp failed: %s", err)
	}

	fmt.Printf("%s: %d records\n", fn, n)
}

func doVerify(fn string) {
	ok, err := verifySumFile(fn)
	if err != nil {
		die("can't verify %s: %s", fn, err)
	}
	if !ok {
		die("%s: FAILED integrity check", fn)
	}

	r, err := phash.Open(fn)
	if err != nil {
		die("can't open %s: %s", fn, err)
	}
	defer r.Close()

	fmt.Printf("%s: OK, %d slots\n", fn, r.TableSize())
}

func doQuery(fn, key string) {
	r, err := phash.Open(fn)
	if err != nil {
		die("can't open %s: %s", fn, err)
	}
	defer r.Close()

	v := r.Get([]byte(key))
	os.Stdout.Write(v)
	os.Stdout.WriteString("\n")
}

// writeSumFile generates a random 128-bit siphash key, MACs the full
// container file under it, and writes "<fn>.sum" as key||8 zero bytes||mac.
func writeSumFile(fn string) error {
	key := phash.RandBytes(16)
	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])

	data, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	mac := siphash.Hash(k0, k1, data)

	var buf [sumFileSize]byte
	copy(buf[0:16], key[:])
	binary.LittleEndian.PutUint64(buf[24:32], mac)
	return os.WriteFile(fn+".sum", buf[:], 0600)
}

// verifySumFile recomputes the siphash MAC of 'fn' under the key stored in
// "<fn>.sum" and compares it against the stored MAC.
func verifySumFile(fn string) (bool, error) {
	sum, err := os.ReadFile(fn + ".sum")
	if err != nil {
		return false, err
	}
	if len(sum) != sumFileSize {
		return false, fmt.Errorf("malformed sidecar %s.sum", fn)
	}

	k0 := binary.LittleEndian.Uint64(sum[0:8])
	k1 := binary.LittleEndian.Uint64(sum[8:16])
	want := binary.LittleEndian.Uint64(sum[24:32])

	data, err := os.ReadFile(fn)
	if err != nil {
		return false, err
	}
	got := siphash.Hash(k0, k1, data)
	return got == want, nil
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	z := fmt.Sprintf("%s: %s", os.Args[0], f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}

	os.Stderr.WriteString(s)
	os.Stderr.Sync()
}

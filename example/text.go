// text.go -- read from a variety of text files and populate a phash.Writer

package main

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/kadds/phash"
)

type record struct {
	key []byte
	val []byte
}

// AddTextFile adds contents from text file 'fn' where key and value are
// separated by one of the characters in 'delim'. Empty lines and comment
// lines ('#') are skipped; a line with no delimiter is added as a key with
// an empty value. Returns the number of records added.
func AddTextFile(w *phash.Writer, fn string, delim string) (uint64, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	if len(delim) == 0 {
		delim = " \t"
	}

	return AddTextStream(w, fd, delim)
}

// AddTextStream is the stream-based counterpart of AddTextFile.
func AddTextStream(w *phash.Writer, fd io.Reader, delim string) (uint64, error) {
	rd := bufio.NewReader(fd)
	sc := bufio.NewScanner(rd)
	ch := make(chan *record, 10)

	go func(sc *bufio.Scanner, ch chan *record) {
		var empty string

		for sc.Scan() {
			s := strings.TrimSpace(sc.Text())
			if len(s) == 0 || s[0] == '#' {
				continue
			}

			var k, v string
			i := strings.IndexAny(s, delim)
			if i > 0 {
				k = s[:i]
				v = strings.TrimSpace(s[i:])
			} else {
				k = s
				v = empty
			}

			if len(v) >= 4294967295 {
				continue
			}

			ch <- &record{key: []byte(k), val: []byte(v)}
		}

		close(ch)
	}(sc, ch)

	return addFromChan(w, ch)
}

// AddCSVFile adds contents from CSV file 'fn'. 'kwfield' and 'valfield'
// select the key and value columns (default 0 and 1). 'comma' and 'comment'
// configure the CSV dialect; a zero rune picks the package default for
// 'comma' and disables comment-stripping for 'comment'.
func AddCSVFile(w *phash.Writer, fn string, comma, comment rune, kwfield, valfield int) (uint64, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	return AddCSVStream(w, fd, comma, comment, kwfield, valfield)
}

// AddCSVStream is the stream-based counterpart of AddCSVFile.
func AddCSVStream(w *phash.Writer, fd io.Reader, comma, comment rune, kwfield, valfield int) (uint64, error) {
	if kwfield < 0 {
		kwfield = 0
	}
	if valfield < 0 {
		valfield = 1
	}

	max := valfield
	if kwfield > valfield {
		max = kwfield
	}
	max++

	ch := make(chan *record, 10)
	cr := csv.NewReader(fd)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.Comment = comment
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	go func(cr *csv.Reader, ch chan *record) {
		for {
			v, err := cr.Read()
			if err != nil {
				break
			}
			if len(v) < max {
				continue
			}
			ch <- &record{key: []byte(v[kwfield]), val: []byte(v[valfield])}
		}
		close(ch)
	}(cr, ch)

	return addFromChan(w, ch)
}

// addFromChan drains partial records from the channel and adds each to w,
// skipping duplicates rather than aborting the whole load.
func addFromChan(w *phash.Writer, ch chan *record) (uint64, error) {
	var n uint64
	for r := range ch {
		if err := w.Add(r.key, r.val); err != nil {
			if err == phash.ErrExists {
				continue
			}
			return n, err
		}
		n++
	}

	return n, nil
}

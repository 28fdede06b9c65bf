// Package corpus streams records out of the DBLP XML dump.
package corpus

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Scanner yields the elements whose names were passed to NewScanner, one at
// a time and in document order. Only the current record is held in memory.
//
//	s := corpus.NewScanner(r, "article", "www")
//	for s.Scan() {
//		rec := s.Record()
//		...
//		rec.Release()
//	}
//	if err := s.Err(); err != nil { ... }
type Scanner struct {
	dec  *xml.Decoder
	tags map[string]bool
	rec  *Record
	err  error
	done bool
	n    int64
	text strings.Builder
}

// NewScanner reads r as ISO-8859-1, the encoding DBLP declares for its dump.
// Named character entities from the DBLP DTD are resolved without loading
// the DTD.
func NewScanner(r io.Reader, tags ...string) *Scanner {
	dec := xml.NewDecoder(charmap.ISO8859_1.NewDecoder().Reader(r))
	// Input is already UTF-8 at this point.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return &Scanner{dec: dec, tags: set}
}

// Scan advances to the next matching record. It returns false at the end of
// the input or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.done {
		return false
	}
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("corpus: offset %d: %w", s.dec.InputOffset(), err)
			return false
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !s.tags[se.Name.Local] {
			continue
		}
		rec, err := s.readRecord(se)
		if err != nil {
			s.err = fmt.Errorf("corpus: %s record at offset %d: %w", se.Name.Local, s.dec.InputOffset(), err)
			return false
		}
		s.rec = rec
		s.n++
		return true
	}
}

// Record returns the record found by the last call to Scan.
func (s *Scanner) Record() *Record {
	return s.rec
}

// Err returns the first non-EOF error.
func (s *Scanner) Err() error {
	return s.err
}

// Count returns the number of records yielded so far.
func (s *Scanner) Count() int64 {
	return s.n
}

func (s *Scanner) readRecord(start xml.StartElement) (*Record, error) {
	rec := newRecord()
	rec.Tag = start.Name.Local
	rec.Attrs = append(rec.Attrs, copyAttrs(start.Attr)...)

	depth := 0
	var field Field
	for {
		tok, err := s.dec.Token()
		if err != nil {
			rec.Release()
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				field = Field{Name: t.Name.Local, Attrs: copyAttrs(t.Attr)}
				s.text.Reset()
			}
			depth++
		case xml.CharData:
			if depth > 0 {
				s.text.Write(t)
			}
		case xml.EndElement:
			if depth == 0 {
				return rec, nil
			}
			depth--
			if depth == 0 {
				field.Text = strings.TrimSpace(s.text.String())
				rec.Fields = append(rec.Fields, field)
			}
		}
	}
}

func copyAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, len(attrs))
	copy(out, attrs)
	return out
}

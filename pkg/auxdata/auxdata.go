// Package auxdata parses the auxiliary datasets joined into the DBLP graph:
// the institution list, the conference title table and the per-publication
// satellite files.
package auxdata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/schenql/dbbuilder/pkg/db"
)

// Institution is an institution entry with all its name variants.
type Institution struct {
	db.Institution
	Names []string
}

type institutionXML struct {
	Key      string   `xml:"key,attr"`
	Names    []string `xml:"name"`
	Location *struct {
		Text    string `xml:",chardata"`
		Country string `xml:"country"`
		City    string `xml:"city"`
		Lat     string `xml:"lat"`
		Lon     string `xml:"lon"`
	} `xml:"location"`
}

// ParseInstitutions reads an <institutions> document. Entries without a key
// are skipped.
func ParseInstitutions(r io.Reader) ([]Institution, error) {
	var out []Institution
	err := decodeEach(r, "institution", func(dec *xml.Decoder, se xml.StartElement) error {
		var raw institutionXML
		if err := dec.DecodeElement(&raw, &se); err != nil {
			return err
		}
		key := strings.TrimSpace(raw.Key)
		if key == "" {
			return nil
		}
		inst := Institution{Institution: db.Institution{Key: key}}
		for _, n := range raw.Names {
			if n = strings.TrimSpace(n); n != "" {
				inst.Names = append(inst.Names, n)
			}
		}
		if len(inst.Names) > 0 {
			inst.Name = inst.Names[0]
		}
		if loc := raw.Location; loc != nil {
			inst.Country = strings.TrimSpace(loc.Country)
			inst.City = strings.TrimSpace(loc.City)
			inst.Lat = parseCoord(loc.Lat)
			inst.Lon = parseCoord(loc.Lon)
			inst.Location = strings.Join(strings.Fields(loc.Text), " ")
			if inst.Location == "" {
				inst.Location = joinNonEmpty(", ", inst.City, inst.Country)
			}
		}
		out = append(out, inst)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse institutions: %w", err)
	}
	return out, nil
}

// ConferenceName maps a conference acronym to its display title.
type ConferenceName struct {
	Acronym string `xml:"acronym"`
	Title   string `xml:"title"`
}

// ParseConferenceNames reads a <conferences> document in document order.
func ParseConferenceNames(r io.Reader) ([]ConferenceName, error) {
	var out []ConferenceName
	err := decodeEach(r, "conference", func(dec *xml.Decoder, se xml.StartElement) error {
		var c ConferenceName
		if err := dec.DecodeElement(&c, &se); err != nil {
			return err
		}
		c.Acronym = strings.TrimSpace(c.Acronym)
		c.Title = strings.TrimSpace(c.Title)
		if c.Acronym != "" && c.Title != "" {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse conference names: %w", err)
	}
	return out, nil
}

// decodeEach calls fn for every element named tag, at any depth.
func decodeEach(r io.Reader, tag string, fn func(*xml.Decoder, xml.StartElement) error) error {
	dec := newDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == tag {
			if err := fn(dec, se); err != nil {
				return err
			}
		}
	}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	dec.Entity = xml.HTMLEntity
	return dec
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

func parseCoord(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func joinNonEmpty(sep string, parts ...string) string {
	var keep []string
	for _, p := range parts {
		if p != "" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, sep)
}

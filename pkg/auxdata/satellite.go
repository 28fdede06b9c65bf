package auxdata

import (
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Categories are the top-level folders of the satellite tree. They mirror the
// first segment of DBLP publication keys.
var Categories = []string{"journals", "conf", "books", "phd", "series", "reference", "tr"}

// SatelliteFile locates the satellite document of one publication.
type SatelliteFile struct {
	Path string
	Key  string
}

// Satellite is the content of one satellite document.
type Satellite struct {
	Key      string
	Abstract string
	Cited    []string
	Keywords []string
}

// FindSatellites walks root and returns the .xml files below a category
// folder in lexical order. The publication key is the path relative to root
// without its extension, e.g. conf/x/1.xml belongs to conf/x/1.
func FindSatellites(root string) ([]SatelliteFile, error) {
	cats := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		cats[c] = true
	}
	var out []SatelliteFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && !strings.Contains(rel, "/") && !cats[rel] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".xml") || !strings.Contains(rel, "/") {
			return nil
		}
		out = append(out, SatelliteFile{Path: path, Key: strings.TrimSuffix(rel, filepath.Ext(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find satellites in %s: %w", root, err)
	}
	return out, nil
}

type satelliteXML struct {
	XMLName   xml.Name `xml:"publication"`
	Abstracts []string `xml:"abstract"`
	Citations []string `xml:"citations>citation"`
	Keywords  []string `xml:"keywords>keyword"`
}

// ParseSatellite reads the satellite file f.
func ParseSatellite(f SatelliteFile) (Satellite, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return Satellite{}, err
	}
	defer fh.Close()
	s, err := DecodeSatellite(fh, f.Key)
	if err != nil {
		return Satellite{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	return s, nil
}

// DecodeSatellite parses a <publication> satellite document. Only the first
// non-empty abstract is kept; citations and keywords are deduplicated in
// first-seen order.
func DecodeSatellite(r io.Reader, key string) (Satellite, error) {
	var raw satelliteXML
	if err := newDecoder(r).Decode(&raw); err != nil {
		return Satellite{}, err
	}
	s := Satellite{Key: key}
	for _, a := range raw.Abstracts {
		if a = strings.TrimSpace(a); a != "" {
			s.Abstract = a
			break
		}
	}
	s.Cited = uniq(raw.Citations)
	s.Keywords = uniq(raw.Keywords)
	return s, nil
}

func uniq(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	var out []string
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

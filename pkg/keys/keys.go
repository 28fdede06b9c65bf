// Package keys derives the natural keys DBLP records are joined on.
//
// Every function in this package is pure: the same input always yields the
// same output and nothing is remembered between calls.
package keys

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Kind selects the container a key is derived for.
type Kind int

const (
	Journal Kind = iota
	Conference
)

func (k Kind) String() string {
	if k == Conference {
		return "conference"
	}
	return "journal"
}

// urlPrefix and keyPrefix are the path conventions DBLP uses for each kind.
func (k Kind) urlPrefix() string {
	if k == Conference {
		return "db/conf/"
	}
	return "db/journals/"
}

func (k Kind) keyPrefix() string {
	if k == Conference {
		return "conf/"
	}
	return "journals/"
}

// Outcome tags the result of a derivation.
type Outcome int

const (
	// NotAttempted is the zero value; the record had no container of this kind.
	NotAttempted Outcome = iota
	Derived
	Missing
	// Ambiguous means URL and identifier both produced keys that disagree.
	// The URL key is used.
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Derived:
		return "derived"
	case Missing:
		return "missing"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not-attempted"
	}
}

// Source names the input a key came from.
type Source int

const (
	NoSource Source = iota
	FromURL
	FromIdentifier
)

// ContainerKey is the result of DeriveContainerKey.
type ContainerKey struct {
	Key     string
	Acronym string
	Outcome Outcome
	Source  Source
}

// OK reports whether a key was derived (possibly ambiguously).
func (c ContainerKey) OK() bool {
	return c.Outcome == Derived || c.Outcome == Ambiguous
}

// HasAcronym is false when the key has no "/" to split an acronym off.
func (c ContainerKey) HasAcronym() bool {
	return c.Acronym != ""
}

// DeriveContainerKey maps a record identifier and its optional URL to the key
// of its journal or conference.
//
// A URL such as "db/journals/tods/tods45.html#X" yields "journals/tods"; when
// no such URL exists an identifier such as "journals/tods/Foo21" yields the
// same key by dropping its last segment. Anything else yields Missing.
func DeriveContainerKey(identifier, url string, kind Kind) ContainerKey {
	fromURL, urlOK := keyFromURL(url, kind)
	fromID, idOK := keyFromIdentifier(identifier, kind)

	var out ContainerKey
	switch {
	case urlOK:
		out = ContainerKey{Key: fromURL, Outcome: Derived, Source: FromURL}
		if idOK && fromID != fromURL {
			out.Outcome = Ambiguous
		}
	case idOK:
		out = ContainerKey{Key: fromID, Outcome: Derived, Source: FromIdentifier}
	default:
		return ContainerKey{Outcome: Missing}
	}
	out.Acronym = Acronym(out.Key)
	return out
}

// Acronym returns the last "/"-delimited segment of key, or "" when key has
// a single segment.
func Acronym(key string) string {
	i := strings.LastIndexByte(key, '/')
	if i < 0 || i == len(key)-1 {
		return ""
	}
	return key[i+1:]
}

func keyFromURL(url string, kind Kind) (string, bool) {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	prefix := kind.urlPrefix()
	start := -1
	if strings.HasPrefix(url, prefix) {
		start = 0
	} else if i := strings.Index(url, "/"+prefix); i >= 0 {
		start = i + 1
	}
	if start < 0 {
		return "", false
	}
	// rest starts with the key prefix, so it always holds a "/".
	rest := url[start+len("db/"):]
	return rest[:strings.LastIndexByte(rest, '/')], true
}

func keyFromIdentifier(identifier string, kind Kind) (string, bool) {
	if !strings.HasPrefix(identifier, kind.keyPrefix()) {
		return "", false
	}
	return identifier[:strings.LastIndexByte(identifier, '/')], true
}

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// ValidateORCID normalizes raw to the bare "0000-0002-1825-0097" form. URL
// forms are accepted. Invalid input yields ("", false).
func ValidateORCID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	for _, p := range []string{"https://orcid.org/", "http://orcid.org/", "orcid.org/"} {
		if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if !orcidPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// NormalizeTitleEncoding repairs text whose UTF-8 bytes were decoded as
// ISO-8859-1, e.g. "GÃ¶del" becomes "Gödel". Text that cannot be such a
// misreading is returned unchanged.
func NormalizeTitleEncoding(s string) string {
	if s == "" {
		return s
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil || raw == s || !utf8.ValidString(raw) {
		return s
	}
	return raw
}

// Element names of publication records.
const (
	TagArticle       = "article"
	TagInproceedings = "inproceedings"
	TagMastersThesis = "mastersthesis"
	// TagMasterThesis is the misspelling older dumps use.
	TagMasterThesis = "masterthesis"
	TagPhDThesis    = "phdthesis"
	TagBook         = "book"
	TagPerson       = "www"
)

var publicationTypes = map[string]string{
	TagArticle:       "article",
	TagInproceedings: "conference-paper",
	TagMastersThesis: "masters-thesis",
	TagMasterThesis:  "masters-thesis",
	TagPhDThesis:     "doctoral-thesis",
	TagBook:          "book",
}

// PublicationType maps a record element name to its publication type tag.
func PublicationType(tag string) (string, bool) {
	t, ok := publicationTypes[tag]
	return t, ok
}

// PublicationTags lists the element names PublicationType accepts.
func PublicationTags() []string {
	return []string{TagArticle, TagInproceedings, TagMastersThesis, TagMasterThesis, TagPhDThesis, TagBook}
}

// IsPersonKey reports whether identifier names a DBLP person record.
func IsPersonKey(identifier string) bool {
	return strings.HasPrefix(identifier, "homepages/")
}

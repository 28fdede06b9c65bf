package db

// Row is a single insertable row. Values returns the column values in the
// order of the owning Table's Columns.
type Row interface {
	Values() []any
}

// Table describes a target table for bulk inserts.
type Table struct {
	Name    string
	Columns []string
}

var (
	InstitutionTable        = Table{"institution", []string{"institution_key", "name", "location", "country", "city", "lat", "lon"}}
	InstitutionNameTable    = Table{"institution_name", []string{"name", "institution_key"}}
	PersonTable             = Table{"person", []string{"dblp_key", "orcid", "primary_name"}}
	PersonNameTable         = Table{"person_name", []string{"name", "person_key"}}
	JournalTable            = Table{"journal", []string{"dblp_key", "acronym"}}
	JournalNameTable        = Table{"journal_name", []string{"name", "journal_key"}}
	ConferenceTable         = Table{"conference", []string{"dblp_key", "acronym", "name"}}
	PublicationTable        = Table{"publication", []string{"dblp_key", "title", "abstract", "ee", "url", "year", "volume", "type", "conference_key", "journal_key"}}
	AuthorshipTable         = Table{"person_authored_publication", []string{"person_key", "publication_key"}}
	EditorshipTable         = Table{"person_edited_publication", []string{"person_key", "publication_key"}}
	AffiliationTable        = Table{"person_works_for_institution", []string{"person_key", "institution_key"}}
	KeywordTable            = Table{"keyword", []string{"keyword"}}
	PublicationKeywordTable = Table{"publication_has_keyword", []string{"publication_key", "keyword"}}
	CitationTable           = Table{"publication_references", []string{"publication_key", "cited_key"}}
)

// LoadOrder lists every table parents first, so that foreign keys point at
// rows written earlier.
var LoadOrder = []Table{
	InstitutionTable,
	InstitutionNameTable,
	PersonTable,
	PersonNameTable,
	JournalTable,
	JournalNameTable,
	ConferenceTable,
	PublicationTable,
	AuthorshipTable,
	EditorshipTable,
	AffiliationTable,
	KeywordTable,
	PublicationKeywordTable,
	CitationTable,
}

// Institution comes from the auxiliary institution dataset only.
type Institution struct {
	Key      string
	Name     string
	Location string
	Country  string
	City     string
	Lat      *float64
	Lon      *float64
}

func (i Institution) Values() []any {
	return []any{i.Key, nullString(i.Name), nullString(i.Location), nullString(i.Country), nullString(i.City), nullFloat(i.Lat), nullFloat(i.Lon)}
}

type InstitutionName struct {
	Name           string
	InstitutionKey string
}

func (n InstitutionName) Values() []any { return []any{n.Name, n.InstitutionKey} }

// Person is identified by the key of its DBLP person record (homepages/...).
type Person struct {
	Key         string
	ORCID       string
	PrimaryName string
}

func (p Person) Values() []any {
	return []any{p.Key, nullString(p.ORCID), nullString(p.PrimaryName)}
}

// PersonName maps one name variant to its person.
type PersonName struct {
	Name      string
	PersonKey string
}

func (n PersonName) Values() []any { return []any{n.Name, n.PersonKey} }

type Journal struct {
	Key     string
	Acronym string
}

func (j Journal) Values() []any { return []any{j.Key, nullString(j.Acronym)} }

type JournalName struct {
	Name       string
	JournalKey string
}

func (n JournalName) Values() []any { return []any{n.Name, n.JournalKey} }

type Conference struct {
	Key     string
	Acronym string
	Name    string
}

func (c Conference) Values() []any {
	return []any{c.Key, nullString(c.Acronym), nullString(c.Name)}
}

// Publication type tags.
const (
	TypeArticle         = "article"
	TypeConferencePaper = "conference-paper"
	TypeMastersThesis   = "masters-thesis"
	TypeDoctoralThesis  = "doctoral-thesis"
	TypeBook            = "book"
)

type Publication struct {
	Key           string
	Title         string
	Abstract      string
	EE            string
	URL           string
	Year          int // 0 means unknown
	Volume        string
	Type          string
	ConferenceKey string
	JournalKey    string
}

func (p Publication) Values() []any {
	return []any{
		p.Key,
		nullString(p.Title),
		nullString(p.Abstract),
		nullString(p.EE),
		nullString(p.URL),
		nullInt(p.Year),
		nullString(p.Volume),
		p.Type,
		nullString(p.ConferenceKey),
		nullString(p.JournalKey),
	}
}

type Authorship struct {
	PersonKey      string
	PublicationKey string
}

func (a Authorship) Values() []any { return []any{a.PersonKey, a.PublicationKey} }

type Editorship struct {
	PersonKey      string
	PublicationKey string
}

func (e Editorship) Values() []any { return []any{e.PersonKey, e.PublicationKey} }

type Affiliation struct {
	PersonKey      string
	InstitutionKey string
}

func (a Affiliation) Values() []any { return []any{a.PersonKey, a.InstitutionKey} }

type Keyword struct {
	Text string
}

func (k Keyword) Values() []any { return []any{k.Text} }

type PublicationKeyword struct {
	PublicationKey string
	Keyword        string
}

func (k PublicationKeyword) Values() []any { return []any{k.PublicationKey, k.Keyword} }

// Citation is a directed edge from the citing to the cited publication.
type Citation struct {
	PublicationKey string
	CitedKey       string
}

func (c Citation) Values() []any { return []any{c.PublicationKey, c.CitedKey} }

// Rows converts a typed slice into rows for the sink.
func Rows[T Row](xs []T) []Row {
	out := make([]Row, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// nullString returns nil for "" (meaning absent) else the value.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

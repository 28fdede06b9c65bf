// Package resolve holds the in-memory index that deduplicates DBLP entities
// during the corpus pass and resolves name references once it is complete.
package resolve

import (
	"errors"
	"strings"

	"github.com/schenql/dbbuilder/pkg/db"
)

// ErrResolved is returned when Resolve is called more than once.
var ErrResolved = errors.New("resolve: index already resolved")

// Role distinguishes authorship from editorship references.
type Role int

const (
	Author Role = iota
	Editor
)

func (r Role) String() string {
	if r == Editor {
		return "editor"
	}
	return "author"
}

type reference struct {
	name string
	pub  string
	role Role
}

type affiliationNote struct {
	person string
	note   string
}

type pair struct{ a, b string }

// Index is the resolution context of one run. It is not safe for concurrent
// use; the pipeline feeds it from a single goroutine.
type Index struct {
	institutions []db.Institution
	instKeys     map[string]struct{}
	instNames    map[string]string
	instNameRows []db.InstitutionName

	confTitles     map[string]string
	confTitlesFold map[string]string

	journals        []db.Journal
	journalKeys     map[string]struct{}
	journalNames    map[string]string
	journalNameRows []db.JournalName

	conferences []db.Conference
	confKeys    map[string]struct{}

	pubs     []db.Publication
	pubIndex map[string]int

	persons     []db.Person
	personIndex map[string]int
	personNames map[string][]string
	names       map[string]string
	nameRows    []db.PersonName

	refs        []reference
	orcidByName map[string]string
	affNotes    []affiliationNote

	abstracts   map[string]string
	citations   []db.Citation
	citationSet map[pair]struct{}
	keywords    []db.Keyword
	keywordSet  map[string]struct{}
	pubKeywords []db.PublicationKeyword
	pubKwSet    map[pair]struct{}

	drops    Drops
	resolved bool
}

// New returns an empty index.
func New() *Index {
	return &Index{
		instKeys:       make(map[string]struct{}),
		instNames:      make(map[string]string),
		confTitles:     make(map[string]string),
		confTitlesFold: make(map[string]string),
		journalKeys:    make(map[string]struct{}),
		journalNames:   make(map[string]string),
		confKeys:       make(map[string]struct{}),
		pubIndex:       make(map[string]int),
		personIndex:    make(map[string]int),
		personNames:    make(map[string][]string),
		names:          make(map[string]string),
		orcidByName:    make(map[string]string),
		abstracts:      make(map[string]string),
		citationSet:    make(map[pair]struct{}),
		keywordSet:     make(map[string]struct{}),
		pubKwSet:       make(map[pair]struct{}),
	}
}

// AddInstitution records an institution and its name variants. The first
// institution to claim a name keeps it.
func (ix *Index) AddInstitution(inst db.Institution, names []string) bool {
	if _, ok := ix.instKeys[inst.Key]; ok {
		return false
	}
	ix.instKeys[inst.Key] = struct{}{}
	if inst.Name == "" && len(names) > 0 {
		inst.Name = names[0]
	}
	ix.institutions = append(ix.institutions, inst)
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, taken := ix.instNames[n]; taken {
			continue
		}
		ix.instNames[n] = inst.Key
		ix.instNameRows = append(ix.instNameRows, db.InstitutionName{Name: n, InstitutionKey: inst.Key})
	}
	return true
}

// InstitutionKey looks up an institution by exact name.
func (ix *Index) InstitutionKey(name string) (string, bool) {
	k, ok := ix.instNames[name]
	return k, ok
}

// AddConferenceTitle registers the display title for a conference acronym.
func (ix *Index) AddConferenceTitle(acronym, title string) {
	if acronym == "" || title == "" {
		return
	}
	if _, ok := ix.confTitles[acronym]; !ok {
		ix.confTitles[acronym] = title
	}
	fold := strings.ToLower(acronym)
	if _, ok := ix.confTitlesFold[fold]; !ok {
		ix.confTitlesFold[fold] = title
	}
}

func (ix *Index) conferenceTitle(acronym string) string {
	if acronym == "" {
		return ""
	}
	if t, ok := ix.confTitles[acronym]; ok {
		return t
	}
	return ix.confTitlesFold[strings.ToLower(acronym)]
}

// AddJournal records a journal key; the first acronym seen is kept. name is
// the free-text journal field and becomes an alias of the key unless another
// journal already claimed it.
func (ix *Index) AddJournal(key, acronym, name string) bool {
	added := false
	if _, ok := ix.journalKeys[key]; !ok {
		ix.journalKeys[key] = struct{}{}
		ix.journals = append(ix.journals, db.Journal{Key: key, Acronym: acronym})
		added = true
	}
	if name != "" {
		if _, ok := ix.journalNames[name]; !ok {
			ix.journalNames[name] = key
			ix.journalNameRows = append(ix.journalNameRows, db.JournalName{Name: name, JournalKey: key})
		}
	}
	return added
}

// AddConference records a conference key. Its display name comes from the
// conference titles registered before.
func (ix *Index) AddConference(key, acronym string) bool {
	if _, ok := ix.confKeys[key]; ok {
		return false
	}
	ix.confKeys[key] = struct{}{}
	ix.conferences = append(ix.conferences, db.Conference{Key: key, Acronym: acronym, Name: ix.conferenceTitle(acronym)})
	return true
}

// AddPublication records a publication. A repeated key is counted and
// ignored.
func (ix *Index) AddPublication(p db.Publication) bool {
	if _, ok := ix.pubIndex[p.Key]; ok {
		ix.drops.DuplicatePublications++
		return false
	}
	ix.pubIndex[p.Key] = len(ix.pubs)
	ix.pubs = append(ix.pubs, p)
	return true
}

// AddPerson records a person record with its name variants, its ORCID and
// the free-text affiliation notes to match against institutions.
//
// Names are the only join between publications and persons. When two
// person records declare the same name, the first keeps it and the
// collision is counted; no attempt is made to tell the two apart.
func (ix *Index) AddPerson(key string, names []string, orcid string, affiliations []string) bool {
	if _, ok := ix.personIndex[key]; ok {
		ix.drops.DuplicatePersons++
		return false
	}
	p := db.Person{Key: key, ORCID: orcid}
	if len(names) > 0 {
		p.PrimaryName = names[0]
	}
	ix.personIndex[key] = len(ix.persons)
	ix.persons = append(ix.persons, p)

	for _, n := range names {
		if n == "" {
			continue
		}
		owner, taken := ix.names[n]
		switch {
		case !taken:
			ix.names[n] = key
			ix.nameRows = append(ix.nameRows, db.PersonName{Name: n, PersonKey: key})
			ix.personNames[key] = append(ix.personNames[key], n)
		case owner != key:
			ix.drops.NameCollisions++
		}
	}
	for _, note := range affiliations {
		if note != "" {
			ix.affNotes = append(ix.affNotes, affiliationNote{person: key, note: note})
		}
	}
	return true
}

// ReferencePerson buffers an author or editor name on a publication. It is
// matched against person names in Resolve, so the person record may appear
// before or after the publication. An ORCID given on the reference is
// remembered for the name.
func (ix *Index) ReferencePerson(name, publicationKey string, role Role, orcid string) {
	if name == "" {
		return
	}
	ix.refs = append(ix.refs, reference{name: name, pub: publicationKey, role: role})
	if orcid != "" {
		if _, ok := ix.orcidByName[name]; !ok {
			ix.orcidByName[name] = orcid
		}
	}
}

// AddSatellite merges the contents of a satellite file. The first abstract
// per publication wins; citations and keywords are deduplicated per
// publication. The publication does not need to exist.
func (ix *Index) AddSatellite(publicationKey, abstract string, cited, keywords []string) {
	if abstract != "" {
		if _, ok := ix.abstracts[publicationKey]; !ok {
			ix.abstracts[publicationKey] = abstract
		}
	}
	for _, c := range cited {
		if c == "" {
			continue
		}
		p := pair{publicationKey, c}
		if _, ok := ix.citationSet[p]; ok {
			continue
		}
		ix.citationSet[p] = struct{}{}
		ix.citations = append(ix.citations, db.Citation{PublicationKey: publicationKey, CitedKey: c})
	}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, ok := ix.keywordSet[kw]; !ok {
			ix.keywordSet[kw] = struct{}{}
			ix.keywords = append(ix.keywords, db.Keyword{Text: kw})
		}
		p := pair{publicationKey, kw}
		if _, ok := ix.pubKwSet[p]; ok {
			continue
		}
		ix.pubKwSet[p] = struct{}{}
		ix.pubKeywords = append(ix.pubKeywords, db.PublicationKeyword{PublicationKey: publicationKey, Keyword: kw})
	}
}

// Counts reports the sizes of the entity collections gathered so far.
func (ix *Index) Counts() map[string]int {
	return map[string]int{
		db.InstitutionTable.Name: len(ix.institutions),
		db.PersonTable.Name:      len(ix.persons),
		db.PersonNameTable.Name:  len(ix.nameRows),
		db.JournalTable.Name:     len(ix.journals),
		db.ConferenceTable.Name:  len(ix.conferences),
		db.PublicationTable.Name: len(ix.pubs),
		"references":             len(ix.refs),
	}
}

// Resolve closes all buffered references and returns the entity graph. The
// index cannot be used afterwards.
func (ix *Index) Resolve() (*Graph, Drops, error) {
	if ix.resolved {
		return nil, Drops{}, ErrResolved
	}
	ix.resolved = true
	drops := ix.drops

	for key, abstract := range ix.abstracts {
		i, ok := ix.pubIndex[key]
		if !ok {
			drops.OrphanAbstracts++
			continue
		}
		ix.pubs[i].Abstract = abstract
	}

	g := &Graph{
		Institutions:        ix.institutions,
		InstitutionNames:    ix.instNameRows,
		PersonNames:         ix.nameRows,
		Journals:            ix.journals,
		JournalNames:        ix.journalNameRows,
		Conferences:         ix.conferences,
		Publications:        ix.pubs,
		Keywords:            ix.keywords,
		PublicationKeywords: ix.pubKeywords,
		Citations:           ix.citations,
	}

	seen := make(map[Role]map[pair]struct{}, 2)
	seen[Author] = make(map[pair]struct{})
	seen[Editor] = make(map[pair]struct{})
	for _, ref := range ix.refs {
		person, ok := ix.names[ref.name]
		if !ok {
			if ref.role == Editor {
				drops.UnresolvedEditors++
			} else {
				drops.UnresolvedAuthors++
			}
			continue
		}
		p := pair{person, ref.pub}
		if _, dup := seen[ref.role][p]; dup {
			continue
		}
		seen[ref.role][p] = struct{}{}
		if ref.role == Editor {
			g.Editorships = append(g.Editorships, db.Editorship{PersonKey: person, PublicationKey: ref.pub})
		} else {
			g.Authorships = append(g.Authorships, db.Authorship{PersonKey: person, PublicationKey: ref.pub})
		}
	}

	for i := range ix.persons {
		p := &ix.persons[i]
		if p.ORCID != "" {
			continue
		}
		for _, n := range ix.personNames[p.Key] {
			if o, ok := ix.orcidByName[n]; ok {
				p.ORCID = o
				break
			}
		}
	}
	g.Persons = ix.persons

	affSeen := make(map[pair]struct{})
	for _, a := range ix.affNotes {
		inst, ok := ix.InstitutionKey(a.note)
		if !ok {
			drops.UnmatchedAffiliations++
			continue
		}
		p := pair{a.person, inst}
		if _, dup := affSeen[p]; dup {
			continue
		}
		affSeen[p] = struct{}{}
		g.Affiliations = append(g.Affiliations, db.Affiliation{PersonKey: a.person, InstitutionKey: inst})
	}

	ix.refs = nil
	ix.affNotes = nil
	return g, drops, nil
}

package resolve

import "github.com/schenql/dbbuilder/pkg/db"

// Graph is the resolved entity graph, ready to load. Every slice is in the
// order its entries were first seen.
type Graph struct {
	Institutions        []db.Institution
	InstitutionNames    []db.InstitutionName
	Persons             []db.Person
	PersonNames         []db.PersonName
	Journals            []db.Journal
	JournalNames        []db.JournalName
	Conferences         []db.Conference
	Publications        []db.Publication
	Authorships         []db.Authorship
	Editorships         []db.Editorship
	Affiliations        []db.Affiliation
	Keywords            []db.Keyword
	PublicationKeywords []db.PublicationKeyword
	// Citations may name publications missing from the corpus. The loader
	// drops those.
	Citations []db.Citation
}

// Drops counts references that were discarded while building the graph.
type Drops struct {
	UnresolvedAuthors     int `json:"unresolved_authors"`
	UnresolvedEditors     int `json:"unresolved_editors"`
	UnmatchedAffiliations int `json:"unmatched_affiliations"`
	DuplicatePublications int `json:"duplicate_publications"`
	DuplicatePersons      int `json:"duplicate_persons"`
	NameCollisions        int `json:"name_collisions"`
	OrphanAbstracts       int `json:"orphan_abstracts"`
}

// ByReason returns the counts keyed by a short reason label.
func (d Drops) ByReason() map[string]int {
	return map[string]int{
		"unresolved_author":     d.UnresolvedAuthors,
		"unresolved_editor":     d.UnresolvedEditors,
		"unmatched_affiliation": d.UnmatchedAffiliations,
		"duplicate_publication": d.DuplicatePublications,
		"duplicate_person":      d.DuplicatePersons,
		"name_collision":        d.NameCollisions,
		"orphan_abstract":       d.OrphanAbstracts,
	}
}

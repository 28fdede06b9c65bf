package ingest

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/schenql/dbbuilder/pkg/corpus"
	"github.com/schenql/dbbuilder/pkg/db"
	"github.com/schenql/dbbuilder/pkg/keys"
	"github.com/schenql/dbbuilder/pkg/metrics"
	"github.com/schenql/dbbuilder/pkg/resolve"
)

// CorpusTags are the element names read from the dump.
func CorpusTags() []string {
	return append(keys.PublicationTags(), keys.TagPerson)
}

// extractor turns corpus records into index entries.
type extractor struct {
	index   *resolve.Index
	logger  *zap.Logger
	metrics *metrics.Metrics

	parsed      map[string]int64
	derivations map[string]int
	skipped     int
}

func newExtractor(ix *resolve.Index, logger *zap.Logger, m *metrics.Metrics) *extractor {
	return &extractor{
		index:       ix,
		logger:      logger,
		metrics:     m,
		parsed:      make(map[string]int64),
		derivations: make(map[string]int),
	}
}

func (e *extractor) add(rec *corpus.Record) {
	e.parsed[rec.Tag]++
	e.metrics.RecordsParsed.WithLabelValues(rec.Tag).Inc()

	if rec.Tag == keys.TagPerson {
		e.addPerson(rec)
		return
	}
	typ, ok := keys.PublicationType(rec.Tag)
	if !ok {
		return
	}
	e.addPublication(rec, typ)
}

func (e *extractor) addPublication(rec *corpus.Record, typ string) {
	key := rec.Key()
	if key == "" {
		e.skipped++
		return
	}
	pub := db.Publication{
		Key:    key,
		Title:  keys.NormalizeTitleEncoding(text(rec, "title")),
		EE:     text(rec, "ee"),
		URL:    text(rec, "url"),
		Volume: text(rec, "volume"),
		Type:   typ,
	}
	if y, err := strconv.Atoi(text(rec, "year")); err == nil {
		pub.Year = y
	}

	if journal, ok := rec.First("journal"); ok {
		if ck := e.derive(key, pub.URL, keys.Journal); ck.OK() {
			e.index.AddJournal(ck.Key, ck.Acronym, keys.NormalizeTitleEncoding(journal))
			pub.JournalKey = ck.Key
		}
	} else if rec.Tag == keys.TagInproceedings {
		if ck := e.derive(key, pub.URL, keys.Conference); ck.OK() {
			e.index.AddConference(ck.Key, ck.Acronym)
			pub.ConferenceKey = ck.Key
		}
	}

	if !e.index.AddPublication(pub) {
		return
	}
	for _, f := range rec.All("author") {
		e.reference(f, key, resolve.Author)
	}
	for _, f := range rec.All("editor") {
		e.reference(f, key, resolve.Editor)
	}
}

func (e *extractor) reference(f corpus.Field, pubKey string, role resolve.Role) {
	orcid, _ := keys.ValidateORCID(f.Attr("orcid"))
	e.index.ReferencePerson(keys.NormalizeTitleEncoding(f.Text), pubKey, role, orcid)
}

func (e *extractor) derive(identifier, url string, kind keys.Kind) keys.ContainerKey {
	ck := keys.DeriveContainerKey(identifier, url, kind)
	e.derivations[kind.String()+"/"+ck.Outcome.String()]++
	e.metrics.DerivationOutcomes.WithLabelValues(kind.String(), ck.Outcome.String()).Inc()
	if ck.OK() && !ck.HasAcronym() {
		e.logger.Warn("no acronym in container key",
			zap.String("kind", kind.String()),
			zap.String("key", ck.Key),
			zap.String("record", identifier))
	}
	return ck
}

// addPerson handles a www record. Only homepages/ records describe persons;
// other www records are link collections.
func (e *extractor) addPerson(rec *corpus.Record) {
	key := rec.Key()
	if !keys.IsPersonKey(key) {
		return
	}
	var (
		names []string
		orcid string
		notes []string
	)
	for _, f := range rec.All("author") {
		names = append(names, keys.NormalizeTitleEncoding(f.Text))
		if orcid == "" {
			orcid, _ = keys.ValidateORCID(f.Attr("orcid"))
		}
	}
	if orcid == "" {
		for _, f := range rec.All("url") {
			if strings.Contains(f.Text, "orcid.org/") {
				if o, ok := keys.ValidateORCID(f.Text); ok {
					orcid = o
					break
				}
			}
		}
	}
	for _, f := range rec.All("note") {
		if f.Attr("type") == "affiliation" && f.Text != "" {
			notes = append(notes, keys.NormalizeTitleEncoding(f.Text))
		}
	}
	e.index.AddPerson(key, names, orcid, notes)
}

func text(rec *corpus.Record, name string) string {
	s, _ := rec.First(name)
	return s
}

package corpus

import (
	"encoding/xml"
	"sync"
)

// Field is one direct child element of a record. Text holds the text of the
// whole subtree, so inline markup such as <i> or <sup> in titles is kept as
// plain text.
type Field struct {
	Name  string
	Attrs []xml.Attr
	Text  string
}

// Attr returns the value of the named attribute or "".
func (f Field) Attr(name string) string {
	return attr(f.Attrs, name)
}

// Record is a matched element with its children flattened into fields.
// Records come from a pool; call Release once done and do not keep
// references to it afterwards.
type Record struct {
	Tag    string
	Attrs  []xml.Attr
	Fields []Field
}

// Key returns the record's key attribute.
func (r *Record) Key() string {
	return attr(r.Attrs, "key")
}

func (r *Record) Attr(name string) string {
	return attr(r.Attrs, name)
}

// First returns the text of the first field called name.
func (r *Record) First(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Text, true
		}
	}
	return "", false
}

// All returns every field called name in document order.
func (r *Record) All(name string) []Field {
	var out []Field
	for _, f := range r.Fields {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// Release returns the record to the pool.
func (r *Record) Release() {
	r.Tag = ""
	r.Attrs = r.Attrs[:0]
	clear(r.Fields)
	r.Fields = r.Fields[:0]
	recordPool.Put(r)
}

var recordPool = sync.Pool{
	New: func() any { return &Record{Fields: make([]Field, 0, 16)} },
}

func newRecord() *Record {
	return recordPool.Get().(*Record)
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

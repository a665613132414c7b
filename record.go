package builddb

import (
	"context"
	"fmt"
)

// Document is a decoded JSON document as stored in the database
type Document = map[string]interface{}

// keyField is the field every stored document carries its key in
const keyField = "key_"

// record is the part Build and Commit share: the key, the raw document and
// the Database that produced it.
type record struct {
	db   *Database
	key  string
	data Document
}

func newRecord(db *Database, doc Document) (record, error) {
	raw, ok := doc[keyField]
	if !ok || raw == nil {
		return record{}, fmt.Errorf("%w: missing %q field", ErrInvalidDocument, keyField)
	}
	return record{db: db, key: fmt.Sprint(raw), data: doc}, nil
}

// Key returns the document key
func (r *record) Key() string {
	return r.key
}

// Get returns a top-level field. "key" always resolves to Key(). The
// second result is false when the document has no such field.
func (r *record) Get(field string) (interface{}, bool) {
	if field == "key" {
		return r.key, true
	}
	v, ok := r.data[field]
	return v, ok
}

// GetString returns a top-level string field
func (r *record) GetString(field string) (string, bool) {
	v, ok := r.Get(field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Document returns a deep copy of the underlying document
func (r *record) Document() Document {
	return copyDocument(r.data)
}

// Build is a build document, keyed "{product}-{version}-{build_number}"
type Build struct {
	record
}

func newBuild(db *Database, doc Document) (*Build, error) {
	r, err := newRecord(db, doc)
	if err != nil {
		return nil, err
	}
	return &Build{record: r}, nil
}

// Metadata returns the build's metadata map, or nil when it has none
func (b *Build) Metadata() map[string]interface{} {
	md, _ := b.data["metadata"].(map[string]interface{})
	return md
}

// SetMetadata sets metadata[name] = value and writes the whole document
// back under Key(). The record only takes the new value once the write
// succeeds. Concurrent writers to the same build race; the last write wins.
func (b *Build) SetMetadata(ctx context.Context, name string, value interface{}) error {
	if b.db == nil {
		return ErrNotConnected
	}

	updated := copyDocument(b.data)
	md, ok := updated["metadata"].(map[string]interface{})
	if !ok {
		md = make(map[string]interface{})
		updated["metadata"] = md
	}
	md[name] = value

	if err := b.db.UpsertDocuments(ctx, map[string]Document{b.key: updated}); err != nil {
		return err
	}
	b.data = updated
	return nil
}

// Commit is a source commit document, keyed "{project}-{sha}". Commits are
// read-only here.
type Commit struct {
	record
	project string
	sha     string
}

func newCommit(db *Database, doc Document) (*Commit, error) {
	r, err := newRecord(db, doc)
	if err != nil {
		return nil, err
	}
	project, sha := SplitCommitKey(r.key)
	return &Commit{record: r, project: project, sha: sha}, nil
}

// Project returns everything before the last hyphen of the key
func (c *Commit) Project() string {
	return c.project
}

// Sha returns the last hyphen-delimited segment of the key
func (c *Commit) Sha() string {
	return c.sha
}

// Get returns the derived project and sha ahead of document fields of the
// same name.
func (c *Commit) Get(field string) (interface{}, bool) {
	switch field {
	case "project":
		return c.project, true
	case "sha":
		return c.sha, true
	}
	return c.record.Get(field)
}

// GetString is Get restricted to string values
func (c *Commit) GetString(field string) (string, bool) {
	v, ok := c.Get(field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyDocument(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

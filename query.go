package builddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cbbuild/builddb/internal/filter"
)

// DocumentType is the value of the "type" discriminator on stored documents
type DocumentType string

const (
	TypeBuild  DocumentType = "build"
	TypeCommit DocumentType = "commit"
)

// TypeField is the discriminator field every build and commit document carries
const TypeField = "type"

// Query is a filter scoped to one document type. The where fragment is
// trusted text and is spliced into the statement; parameter values are
// only ever bound, never spliced.
type Query struct {
	docType DocumentType
	where   string
	params  map[string]interface{}
}

// NewQuery creates a query for documents of docType matching where.
// Reference parameters in where as $name.
func NewQuery(docType DocumentType, where string, params map[string]interface{}) *Query {
	return &Query{docType: docType, where: where, params: params}
}

// Type returns the discriminator the query is restricted to
func (q *Query) Type() DocumentType {
	return q.docType
}

// Params returns the named parameter bindings
func (q *Query) Params() map[string]interface{} {
	return q.params
}

// Statement renders the full statement against keyspace:
//
//	SELECT * FROM `build_info` WHERE `type` = 'build' AND (<where>)
//
// The fragment is parenthesised so an OR inside it cannot widen the
// result beyond the query's type.
func (q *Query) Statement(keyspace string) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(quoteIdent(keyspace))
	b.WriteString(" WHERE ")
	b.WriteString(quoteIdent(TypeField))
	b.WriteString(" = '")
	b.WriteString(strings.ReplaceAll(string(q.docType), "'", "''"))
	b.WriteString("'")
	if where := strings.TrimSpace(q.where); where != "" {
		b.WriteString(" AND (")
		b.WriteString(where)
		b.WriteString(")")
	}
	return b.String()
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// executeQuery runs q and returns result rows shaped {keyspace: document}
func (db *Database) executeQuery(ctx context.Context, q *Query) ([]Document, error) {
	start := time.Now()
	typeTag := string(q.docType)

	stmt := q.Statement(db.keyspace)
	compiled, err := filter.Compile(stmt)
	if err != nil {
		db.metrics.Increment(MetricQueryError, "type", typeTag)
		return nil, WithContext(fmt.Errorf("%w: %v", ErrInvalidQuery, err), map[string]interface{}{
			"statement": stmt,
		})
	}

	keys, fromIndex, err := db.candidateKeys(ctx, q.docType)
	if err != nil {
		db.metrics.Increment(MetricQueryError, "type", typeTag)
		return nil, err
	}

	rows := make([]Document, 0)
	scanned := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if key == ProductVersionIndexKey {
			continue
		}

		data, err := db.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if fromIndex {
					db.pruneTypeIndex(ctx, q.docType, key)
				}
				continue
			}
			db.metrics.Increment(MetricQueryError, "type", typeTag)
			return nil, err
		}
		scanned++

		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			db.logger.Warn("skipping undecodable document", "key", key, "error", err)
			continue
		}

		matched, err := compiled.Match(doc, q.params)
		if err != nil {
			db.metrics.Increment(MetricQueryError, "type", typeTag)
			return nil, WithContext(fmt.Errorf("%w: %v", ErrInvalidQuery, err), map[string]interface{}{
				"statement": stmt,
			})
		}
		if matched {
			rows = append(rows, Document{compiled.Keyspace(): doc})
		}
	}

	duration := time.Since(start)
	db.metrics.Timing(MetricQueryDuration, duration, "type", typeTag)
	db.metrics.Histogram(MetricQueryResults, float64(len(rows)), "type", typeTag)
	db.metrics.Histogram(MetricQueryScanned, float64(scanned), "type", typeTag)
	if db.slowQueryThreshold > 0 && duration > db.slowQueryThreshold {
		db.logger.Warn("slow query",
			"statement", stmt,
			"scanned", scanned,
			"duration_ms", duration.Milliseconds(),
		)
	}
	db.logger.Debug("query executed",
		"statement", stmt,
		"scanned", scanned,
		"results", len(rows),
		"duration_ms", duration.Milliseconds(),
	)

	return rows, nil
}

// candidateKeys lists the keys that may hold documents of docType and
// reports whether they came from the type index. With an index attached
// only indexed keys are read; otherwise, or when Redis fails, every key is.
func (db *Database) candidateKeys(ctx context.Context, docType DocumentType) ([]string, bool, error) {
	if db.typeIndex != nil {
		keys, err := db.typeIndex.Keys(ctx, docType)
		if err == nil {
			db.metrics.Increment(MetricTypeIndexHits, "type", string(docType))
			return keys, true, nil
		}
		db.metrics.Increment(MetricTypeIndexMisses, "type", string(docType))
		db.logger.Warn("type index unavailable, falling back to full listing",
			"type", docType,
			"error", err,
		)
	}
	keys, err := db.backend.List(ctx, "")
	return keys, false, err
}

// pruneTypeIndex drops an indexed key whose document no longer exists
func (db *Database) pruneTypeIndex(ctx context.Context, docType DocumentType, key string) {
	if err := db.typeIndex.Remove(ctx, docType, key); err != nil {
		db.metrics.Increment(MetricTypeIndexErrors, "operation", "remove")
		db.logger.Warn("failed to prune type index", "key", key, "type", docType, "error", err)
		return
	}
	db.logger.Debug("pruned stale type index entry", "key", key, "type", docType)
}

package builddb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// BatchOperation is the outcome of writing one document in a bulk upsert
type BatchOperation struct {
	Key   string
	Error error
}

// UpsertDocuments inserts or replaces every document in docs, keyed by map
// key, in parallel. Each failed write is logged and the set of failures is
// returned as *UpsertError; documents not listed there were written.
func (db *Database) UpsertDocuments(ctx context.Context, docs map[string]Document) error {
	if err := db.ready(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	start := time.Now()
	results := db.batchPut(ctx, docs)
	db.metrics.Timing(MetricUpsertDuration, time.Since(start))

	var failed []BatchOperation
	for _, op := range results {
		if op.Error != nil {
			db.metrics.Increment(MetricUpsertError)
			db.logger.Error("unable to insert/update document", "key", op.Key, "error", op.Error)
			failed = append(failed, op)
			continue
		}
		db.metrics.Increment(MetricUpsertSuccess)
		db.indexDocument(ctx, op.Key, docs[op.Key])
	}

	if len(failed) > 0 {
		return &UpsertError{Total: len(docs), Failed: failed}
	}
	return nil
}

// batchPut writes each document in its own goroutine and returns one
// result per key
func (db *Database) batchPut(ctx context.Context, docs map[string]Document) []BatchOperation {
	results := make([]BatchOperation, 0, len(docs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(key string, err error) {
		mu.Lock()
		results = append(results, BatchOperation{Key: key, Error: err})
		mu.Unlock()
	}

	for key, doc := range docs {
		if err := ctx.Err(); err != nil {
			record(key, err)
			continue
		}

		wg.Add(1)
		go func(k string, d Document) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				record(k, err)
				return
			}

			data, err := json.Marshal(d)
			if err != nil {
				record(k, fmt.Errorf("marshal error: %w", err))
				return
			}

			record(k, db.backend.Put(ctx, k, data))
		}(key, doc)
	}

	wg.Wait()
	return results
}

// indexDocument records a written document in the type index. Index
// failures are logged and counted but never fail the write.
func (db *Database) indexDocument(ctx context.Context, key string, doc Document) {
	if db.typeIndex == nil {
		return
	}
	docType, _ := doc[TypeField].(string)
	if docType == "" {
		return
	}
	if err := db.typeIndex.Add(ctx, DocumentType(docType), key); err != nil {
		db.metrics.Increment(MetricTypeIndexErrors, "operation", "add")
		db.logger.Warn("failed to update type index", "key", key, "type", docType, "error", err)
	}
}

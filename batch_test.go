package builddb

import (
	"context"
	"fmt"
	"testing"
)

func TestUpsertDocuments_ManyInParallel(t *testing.T) {
	ctx := context.Background()
	metrics := NewInMemoryMetrics()
	db := NewDatabaseWithObservability(NewFilesystemBackend(t.TempDir()), &NoOpLogger{}, metrics)

	docs := make(map[string]Document, 200)
	for i := 0; i < 200; i++ {
		doc := buildDoc("couchbase-server", "7.0.0", i)
		docs[fmt.Sprint(doc[keyField])] = doc
	}

	if err := db.UpsertDocuments(ctx, docs); err != nil {
		t.Fatalf("UpsertDocuments failed: %v", err)
	}
	if metrics.Count(MetricUpsertSuccess) != 200 {
		t.Errorf("upsert success = %d, want 200", metrics.Count(MetricUpsertSuccess))
	}
	if len(metrics.Timings[MetricUpsertDuration]) != 1 {
		t.Errorf("expected one duration sample per batch, got %d", len(metrics.Timings[MetricUpsertDuration]))
	}

	builds, err := db.QueryBuilds(ctx, "version = '7.0.0'", nil)
	if err != nil {
		t.Fatalf("QueryBuilds failed: %v", err)
	}
	if len(builds) != 200 {
		t.Errorf("expected 200 builds, got %d", len(builds))
	}
}

func TestUpsertDocuments_AllFail(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{
		Backend: NewFilesystemBackend(t.TempDir()),
		failPut: map[string]error{
			"tlm-a": ErrBackendUnavailable,
			"tlm-b": ErrBackendUnavailable,
		},
	}
	db := NewDatabase(backend)

	err := db.UpsertDocuments(ctx, map[string]Document{
		"tlm-a": commitDoc("tlm", "a"),
		"tlm-b": commitDoc("tlm", "b"),
	})
	upsertErr, ok := err.(*UpsertError)
	if !ok {
		t.Fatalf("expected *UpsertError, got %T", err)
	}
	if len(upsertErr.Failed) != 2 || upsertErr.Total != 2 {
		t.Errorf("Failed = %d, Total = %d", len(upsertErr.Failed), upsertErr.Total)
	}
}

func TestUpsertDocuments_UnencodableDocument(t *testing.T) {
	db := newTestDatabase(t)

	err := db.UpsertDocuments(context.Background(), map[string]Document{
		"tlm-a": {keyField: "tlm-a", "bad": make(chan int)},
	})
	if !IsUpsertFailure(err) {
		t.Errorf("expected upsert failure, got %v", err)
	}
	if exists, _ := db.KeyExists(context.Background(), "tlm-a"); exists {
		t.Error("unencodable document must not be written")
	}
}

package builddb

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTypeIndex(t *testing.T) (*TypeIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTypeIndex(client), mr
}

func TestTypeIndex_AddRemoveKeys(t *testing.T) {
	ctx := context.Background()
	ti, mr := setupTypeIndex(t)

	if err := ti.Add(ctx, TypeBuild, "couchbase-server-7.0.0-1"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ti.Add(ctx, TypeBuild, "couchbase-server-7.0.0-2"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// Idempotent
	if err := ti.Add(ctx, TypeBuild, "couchbase-server-7.0.0-2"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ti.Add(ctx, TypeCommit, "tlm-abc"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	count, err := ti.Count(ctx, TypeBuild)
	if err != nil || count != 2 {
		t.Errorf("Count(build) = %d, %v", count, err)
	}
	if !mr.Exists("builddb:type:commit") {
		t.Error("expected redis set builddb:type:commit")
	}

	if err := ti.Remove(ctx, TypeBuild, "couchbase-server-7.0.0-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	keys, err := ti.Keys(ctx, TypeBuild)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "couchbase-server-7.0.0-2" {
		t.Errorf("Keys(build) = %v", keys)
	}

	empty, err := ti.Keys(ctx, DocumentType("unknown"))
	if err != nil || len(empty) != 0 {
		t.Errorf("Keys(unknown) = %v, %v", empty, err)
	}
}

func TestTypeIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	ti, _ := setupTypeIndex(t)
	db := newTestDatabase(t)

	seedDocuments(t, db,
		buildDoc("couchbase-server", "7.0.0", 1),
		buildDoc("couchbase-server", "7.0.0", 2),
		commitDoc("tlm", "abc"),
	)
	if _, err := db.AddProductVersion(ctx, "couchbase-server", "7.0.0"); err != nil {
		t.Fatalf("AddProductVersion failed: %v", err)
	}
	// Stale entry that Rebuild must drop
	if err := ti.Add(ctx, TypeBuild, "deleted-build-1"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	indexed, err := ti.Rebuild(ctx, db.Backend())
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if indexed != 3 {
		t.Errorf("Rebuild indexed %d documents, want 3", indexed)
	}

	keys, _ := ti.Keys(ctx, TypeBuild)
	sort.Strings(keys)
	want := []string{"couchbase-server-7.0.0-1", "couchbase-server-7.0.0-2"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("Keys(build) = %v, want %v", keys, want)
	}
	if n, _ := ti.Count(ctx, TypeCommit); n != 1 {
		t.Errorf("Count(commit) = %d, want 1", n)
	}
}

func TestDatabase_WithTypeIndex(t *testing.T) {
	ctx := context.Background()
	ti, mr := setupTypeIndex(t)
	metrics := NewInMemoryMetrics()
	db := NewDatabaseWithObservability(NewFilesystemBackend(t.TempDir()), &NoOpLogger{}, metrics).
		WithTypeIndex(ti)

	seedDocuments(t, db,
		buildDoc("couchbase-server", "7.0.0", 1),
		commitDoc("tlm", "abc"),
	)

	if n, _ := ti.Count(ctx, TypeBuild); n != 1 {
		t.Fatalf("upsert should index the build, Count = %d", n)
	}

	t.Run("ServedFromIndex", func(t *testing.T) {
		builds, err := db.QueryBuilds(ctx, "product = 'couchbase-server'", nil)
		if err != nil {
			t.Fatalf("QueryBuilds failed: %v", err)
		}
		if len(builds) != 1 {
			t.Errorf("expected 1 build, got %d", len(builds))
		}
		if metrics.Count(MetricTypeIndexHits) != 1 {
			t.Errorf("type index hits = %d", metrics.Count(MetricTypeIndexHits))
		}
		if scanned := metrics.Histograms[MetricQueryScanned]; len(scanned) != 1 || scanned[0] != 1 {
			t.Errorf("query should read only the indexed build, scanned = %v", scanned)
		}
	})

	t.Run("FallsBackWhenRedisDown", func(t *testing.T) {
		mr.Close()

		builds, err := db.QueryBuilds(ctx, "product = 'couchbase-server'", nil)
		if err != nil {
			t.Fatalf("QueryBuilds failed: %v", err)
		}
		if len(builds) != 1 {
			t.Errorf("expected 1 build, got %d", len(builds))
		}
		if metrics.Count(MetricTypeIndexMisses) != 1 {
			t.Errorf("type index misses = %d", metrics.Count(MetricTypeIndexMisses))
		}
	})

	t.Run("WritesSurviveRedisDown", func(t *testing.T) {
		if err := db.UpsertDocuments(ctx, map[string]Document{
			"couchbase-server-7.0.0-2": buildDoc("couchbase-server", "7.0.0", 2),
		}); err != nil {
			t.Fatalf("UpsertDocuments should not fail on index errors: %v", err)
		}
		if metrics.Count(MetricTypeIndexErrors) != 1 {
			t.Errorf("type index errors = %d", metrics.Count(MetricTypeIndexErrors))
		}
	})
}

func TestConnect_WithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	db, err := Connect(ctx, Config{URI: t.TempDir(), RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer db.Close()

	if db.typeIndex == nil {
		t.Fatal("expected type index to be attached")
	}
	seedDocuments(t, db, commitDoc("tlm", "abc"))
	if !mr.Exists("builddb:type:commit") {
		t.Error("expected commit to be indexed in redis")
	}
}

func TestConnect_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	db, err := Connect(context.Background(), Config{URI: t.TempDir(), RedisAddr: addr})
	if err != nil {
		t.Fatalf("Connect should succeed without redis: %v", err)
	}
	defer db.Close()

	if db.typeIndex != nil {
		t.Error("type index should be disabled when redis is unreachable")
	}
}

func TestConnect_WithRedis_IndexesExistingDocuments(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	// Written by the ingestion tools, not through a Database
	backend := NewFilesystemBackend(dir)
	for _, doc := range []Document{
		buildDoc("couchbase-server", "7.0.0", 1),
		buildDoc("couchbase-server", "7.0.0", 2),
		commitDoc("tlm", "abc"),
	} {
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		if err := backend.Put(ctx, doc[keyField].(string), data); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	db, err := Connect(ctx, Config{URI: dir, RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer db.Close()

	if db.typeIndex == nil {
		t.Fatal("expected type index to be attached")
	}

	builds, err := db.QueryBuilds(ctx, "product = 'couchbase-server'", nil)
	if err != nil {
		t.Fatalf("QueryBuilds failed: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(builds))
	}

	if err := builds[0].SetMetadata(ctx, "qe_tested", true); err != nil {
		t.Fatalf("SetMetadata failed: %v", err)
	}
	builds, err = db.QueryBuilds(ctx, "product = 'couchbase-server'", nil)
	if err != nil || len(builds) != 2 {
		t.Errorf("after SetMetadata: %d builds, %v", len(builds), err)
	}

	commits, err := db.QueryCommits(ctx, "", nil)
	if err != nil || len(commits) != 1 {
		t.Errorf("QueryCommits = %d commits, %v", len(commits), err)
	}
}

func TestDatabase_QueryPrunesStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	ti, _ := setupTypeIndex(t)
	db := newTestDatabase(t).WithTypeIndex(ti)

	seedDocuments(t, db, buildDoc("couchbase-server", "7.0.0", 1))
	if err := ti.Add(ctx, TypeBuild, "couchbase-server-6.6.0-9"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	builds, err := db.QueryBuilds(ctx, "", nil)
	if err != nil {
		t.Fatalf("QueryBuilds failed: %v", err)
	}
	if len(builds) != 1 {
		t.Errorf("expected 1 build, got %d", len(builds))
	}

	keys, _ := ti.Keys(ctx, TypeBuild)
	if len(keys) != 1 || keys[0] != "couchbase-server-7.0.0-1" {
		t.Errorf("stale entry should be pruned, Keys(build) = %v", keys)
	}
}

package builddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Database is the gateway to the build database. It wraps documents in
// Build and Commit records, runs type-restricted queries, and maintains the
// product-version index.
//
// A zero Database, or one that has been closed, returns ErrNotConnected
// from every operation.
type Database struct {
	backend   Backend
	logger    Logger
	metrics   Metrics
	keyspace  string
	typeIndex *TypeIndex
	id        string
	closed    atomic.Bool

	// Queries slower than this are logged at warn level; zero disables
	slowQueryThreshold time.Duration
}

// Connect opens the database described by cfg and verifies it is
// reachable. There is no retry; a failed ping is returned as is.
func Connect(ctx context.Context, cfg Config) (*Database, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backendCfg, err := ParseURI(cfg.URI)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(ctx, backendCfg, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	if err := backend.Ping(ctx); err != nil {
		backend.Close()
		return nil, WithContext(err, map[string]interface{}{
			"uri": cfg.URI,
		})
	}

	logger, metrics := cfg.Logger, cfg.Metrics
	if logger == nil && cfg.LogLevel != "" {
		zl, err := NewZapLoggerAtLevel(cfg.LogLevel)
		if err != nil {
			backend.Close()
			return nil, err
		}
		logger = zl
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	db := NewDatabaseWithObservability(backend, logger, metrics)
	db.keyspace = cfg.Keyspace

	if cfg.RedisAddr != "" {
		db.attachTypeIndex(ctx, cfg.RedisAddr)
	}

	logger.Info("connected to build database",
		"id", db.id,
		"backend", backendCfg.Type,
		"bucket", backendCfg.Bucket,
		"keyspace", db.keyspace,
	)
	return db, nil
}

// NewDatabase wraps an existing backend with no-op logger and metrics
func NewDatabase(backend Backend) *Database {
	return NewDatabaseWithObservability(backend, &NoOpLogger{}, &NoOpMetrics{})
}

// NewDatabaseWithObservability wraps an existing backend with logging and metrics
func NewDatabaseWithObservability(backend Backend, logger Logger, metrics Metrics) *Database {
	return &Database{
		backend:  backend,
		logger:   logger,
		metrics:  metrics,
		keyspace: DefaultKeyspace,
		id:       NewID(),
	}
}

// SetLogger updates the logger for this database
func (db *Database) SetLogger(logger Logger) {
	db.logger = logger
}

// SetMetrics updates the metrics collector for this database
func (db *Database) SetMetrics(metrics Metrics) {
	db.metrics = metrics
}

// WithKeyspace sets the keyspace queries select from
func (db *Database) WithKeyspace(keyspace string) *Database {
	db.keyspace = keyspace
	return db
}

// WithSlowQueryThreshold logs queries that take longer than d
func (db *Database) WithSlowQueryThreshold(d time.Duration) *Database {
	db.slowQueryThreshold = d
	return db
}

// WithTypeIndex attaches a Redis type index. Writes keep it current and
// queries read candidate keys from it, so documents missing from the index
// are missing from query results. Run ti.Rebuild against the backend first
// unless every document was written through this Database.
func (db *Database) WithTypeIndex(ti *TypeIndex) *Database {
	db.typeIndex = ti
	return db
}

// attachTypeIndex connects to Redis, indexes every stored document and
// attaches the index. Documents come from other writers, so an index that
// cannot be rebuilt is not attached. The database stays usable without it.
func (db *Database) attachTypeIndex(ctx context.Context, addr string) {
	client := redis.NewClient(RedisOptions(addr))
	if err := client.Ping(ctx).Err(); err != nil {
		db.logger.Warn("type index disabled, redis unreachable",
			"addr", addr,
			"error", err,
		)
		client.Close()
		return
	}

	ti := NewTypeIndexWithOwnedClient(client)
	start := time.Now()
	indexed, err := ti.Rebuild(ctx, db.backend)
	if err != nil {
		db.metrics.Increment(MetricTypeIndexErrors, "operation", "rebuild")
		db.logger.Warn("type index disabled, rebuild failed",
			"addr", addr,
			"error", err,
		)
		ti.Close()
		return
	}

	db.logger.Info("type index rebuilt",
		"addr", addr,
		"documents", indexed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	db.WithTypeIndex(ti)
}

// Backend returns the underlying storage backend
func (db *Database) Backend() Backend {
	return db.backend
}

// Keyspace returns the keyspace queries select from
func (db *Database) Keyspace() string {
	return db.keyspace
}

func (db *Database) ready() error {
	if db == nil || db.backend == nil || db.closed.Load() {
		return ErrNotConnected
	}
	return nil
}

// GetDocument fetches the document stored under key. A missing key is
// reported as *NotFoundError; other backend errors are returned unchanged.
func (db *Database) GetDocument(ctx context.Context, key string) (Document, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := db.backend.Get(ctx, key)
	db.metrics.Timing(MetricGetDuration, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			db.metrics.Increment(MetricGetNotFound)
			return nil, &NotFoundError{Key: key}
		}
		db.metrics.Increment(MetricGetError)
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		db.metrics.Increment(MetricGetError)
		return nil, WithContext(fmt.Errorf("%w: %v", ErrInvalidDocument, err), map[string]interface{}{
			"key": key,
		})
	}
	if doc == nil {
		doc = Document{}
	}

	db.metrics.Increment(MetricGetSuccess)
	return doc, nil
}

// KeyExists reports whether a document is stored under key
func (db *Database) KeyExists(ctx context.Context, key string) (bool, error) {
	if err := db.ready(); err != nil {
		return false, err
	}
	return db.backend.Exists(ctx, key)
}

// GetBuild fetches the build keyed "{product}-{version}-{buildNumber}"
func (db *Database) GetBuild(ctx context.Context, product, version, buildNumber string) (*Build, error) {
	doc, err := db.GetDocument(ctx, BuildKey(product, version, buildNumber))
	if err != nil {
		return nil, err
	}
	return newBuild(db, doc)
}

// GetCommit fetches the commit stored under key
func (db *Database) GetCommit(ctx context.Context, key string) (*Commit, error) {
	doc, err := db.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	return newCommit(db, doc)
}

// GetCommitByProjectSha fetches the commit keyed "{project}-{sha}"
func (db *Database) GetCommitByProjectSha(ctx context.Context, project, sha string) (*Commit, error) {
	return db.GetCommit(ctx, CommitKey(project, sha))
}

// QueryBuilds returns the builds matching where. where is everything that
// would follow WHERE in a statement; reference params as $name.
//
//	db.QueryBuilds(ctx, "product = $p AND version = $v", map[string]interface{}{
//		"p": "couchbase-server",
//		"v": "7.0.0",
//	})
func (db *Database) QueryBuilds(ctx context.Context, where string, params map[string]interface{}) ([]*Build, error) {
	docs, err := db.query(ctx, NewQuery(TypeBuild, where, params))
	if err != nil {
		return nil, err
	}

	builds := make([]*Build, 0, len(docs))
	for _, doc := range docs {
		b, err := newBuild(db, doc)
		if err != nil {
			db.logger.Warn("skipping build without key", "error", err)
			continue
		}
		builds = append(builds, b)
	}
	return builds, nil
}

// QueryCommits returns the commits matching where. See QueryBuilds.
func (db *Database) QueryCommits(ctx context.Context, where string, params map[string]interface{}) ([]*Commit, error) {
	docs, err := db.query(ctx, NewQuery(TypeCommit, where, params))
	if err != nil {
		return nil, err
	}

	commits := make([]*Commit, 0, len(docs))
	for _, doc := range docs {
		c, err := newCommit(db, doc)
		if err != nil {
			db.logger.Warn("skipping commit without key", "error", err)
			continue
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// query runs q and unwraps the keyspace field from each result row
func (db *Database) query(ctx context.Context, q *Query) ([]Document, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}

	rows, err := db.executeQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, ok := row[db.keyspace].(map[string]interface{})
		if !ok {
			db.logger.Warn("skipping result row without keyspace field", "keyspace", db.keyspace)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Ping checks that the backend is reachable
func (db *Database) Ping(ctx context.Context) error {
	if err := db.ready(); err != nil {
		return err
	}
	return db.backend.Ping(ctx)
}

// Close releases the backend and the type index. Later calls return
// ErrNotConnected.
func (db *Database) Close() error {
	if db == nil || db.backend == nil || !db.closed.CompareAndSwap(false, true) {
		return ErrNotConnected
	}

	var errs []error
	if db.typeIndex != nil {
		errs = append(errs, db.typeIndex.Close())
	}
	errs = append(errs, db.backend.Close())

	db.logger.Debug("build database closed", "id", db.id)
	return errors.Join(errs...)
}

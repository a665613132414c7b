// Package builddb is the access layer for the build database: build and
// source commit metadata for the release pipeline, stored as JSON documents
// in an object store (filesystem, S3, MinIO or GCS).
//
// # Overview
//
// Builds are keyed "{product}-{version}-{build_number}" and commits
// "{project}-{sha}". The package provides:
//
//   - Point lookups returning Build and Commit records
//   - Queries restricted to one document type, with $name parameters
//   - Bulk upserts that report every key they failed to write
//   - The product-version index document
//   - An optional Redis type index that narrows query scans
//
// # Quick Start
//
//	cfg, err := builddb.LoadConfig("/etc/cbbuild.ini", "build_db")
//	if err != nil {
//		return err
//	}
//	db, err := builddb.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	build, err := db.GetBuild(ctx, "couchbase-server", "7.0.0", "1234")
//	if builddb.IsNotFound(err) {
//		// no such build
//	}
//	err = build.SetMetadata(ctx, "qe_tested", true)
//
//	builds, err := db.QueryBuilds(ctx, "product = $p AND metadata.qe_tested = true",
//		map[string]interface{}{"p": "couchbase-server"})
//
// # Configuration
//
// The db_uri selects the backend:
//
//	/var/lib/build-db                      filesystem
//	file:///var/lib/build-db               filesystem
//	s3://build-db?region=us-west-2         S3 (username/password are the key pair)
//	minio://minio:9000/build-db?ssl=false  MinIO
//	gs://build-db?credentials=/sa.json     Google Cloud Storage
//
// Setting redis_addr attaches a Redis type index, and log_level turns on
// zap logging when no Logger is supplied.
//
// # Queries
//
// A query fragment is everything that would follow WHERE. It is trusted
// text; parameter values are bound, never interpolated. Supported
// operators are AND, OR, NOT, comparisons, IN, LIKE, BETWEEN and IS, over
// dotted field paths such as metadata.qe_tested. The fragment is always
// combined with the type restriction, so an OR in it cannot return commits
// from QueryBuilds.
//
// # Observability
//
//	logger, _ := builddb.NewProductionZapLogger()
//	metrics := builddb.NewPrometheusMetrics(prometheus.NewRegistry())
//	db := builddb.NewDatabaseWithObservability(backend, logger, metrics)
package builddb

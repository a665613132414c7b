package builddb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Backend is the document store connection. Documents are opaque JSON
// blobs addressed by key; a missing key is reported as ErrNotFound.
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete is for maintenance and test cleanup; Database never deletes
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List operations
	List(ctx context.Context, prefix string) ([]string, error)
	ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// Backend type names accepted in BackendConfig.Type
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
	BackendMinIO      = "minio"
	BackendGCS        = "gcs"
)

// BackendConfig is the parsed form of a db_uri
type BackendConfig struct {
	Type     string            // "s3", "filesystem", "minio", "gcs"
	Bucket   string            // Bucket name or base directory
	Region   string            // AWS region (S3 only)
	Endpoint string            // host:port for MinIO, custom URL for S3
	UseSSL   bool              // MinIO only
	Options  map[string]string // Remaining query parameters
}

// ParseURI turns a db_uri into a BackendConfig.
//
// Accepted forms:
//
//	/var/lib/builddb                    filesystem (bare path)
//	file:///var/lib/builddb             filesystem
//	s3://bucket?region=us-west-2        AWS S3, optional &endpoint=https://...
//	minio://host:9000/bucket?ssl=true   MinIO
//	gs://bucket?credentials=/key.json   Google Cloud Storage
func ParseURI(uri string) (BackendConfig, error) {
	if uri == "" {
		return BackendConfig{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "db_uri",
			"reason": "db_uri is required",
		})
	}

	if !strings.Contains(uri, "://") {
		return BackendConfig{Type: BackendFilesystem, Bucket: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return BackendConfig{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "db_uri",
			"reason": err.Error(),
		})
	}

	opts := make(map[string]string)
	for k, v := range u.Query() {
		if len(v) > 0 {
			opts[k] = v[0]
		}
	}

	var cfg BackendConfig
	switch u.Scheme {
	case "file":
		// file://relative/dir puts the first segment in Host
		cfg = BackendConfig{Type: BackendFilesystem, Bucket: u.Host + u.Path}
	case "s3":
		cfg = BackendConfig{
			Type:     BackendS3,
			Bucket:   u.Host,
			Region:   opts["region"],
			Endpoint: opts["endpoint"],
		}
		delete(opts, "region")
		delete(opts, "endpoint")
	case "minio":
		cfg = BackendConfig{
			Type:     BackendMinIO,
			Bucket:   strings.Trim(u.Path, "/"),
			Endpoint: u.Host,
			Region:   opts["region"],
			UseSSL:   opts["ssl"] == "true",
		}
		delete(opts, "ssl")
		delete(opts, "region")
	case "gs", "gcs":
		cfg = BackendConfig{Type: BackendGCS, Bucket: u.Host}
	default:
		return BackendConfig{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "db_uri",
			"value":  u.Scheme,
			"reason": "unknown backend scheme",
		})
	}
	cfg.Options = opts

	if err := cfg.Validate(); err != nil {
		return BackendConfig{}, err
	}
	return cfg, nil
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	// Type-specific validation
	switch c.Type {
	case BackendMinIO:
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires host:port",
			})
		}
	case BackendS3, BackendFilesystem, BackendGCS:
		// No additional validation needed
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend constructs the backend described by cfg. Username and password
// are the access key pair for S3 and MinIO and are ignored elsewhere.
func NewBackend(ctx context.Context, cfg BackendConfig, username, password string) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case BackendFilesystem:
		return NewFilesystemBackend(cfg.Bucket), nil
	case BackendS3:
		return NewS3BackendFromConfig(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     username,
			SecretAccessKey: password,
		})
	case BackendMinIO:
		return NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     username,
			SecretAccessKey: password,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
		})
	case BackendGCS:
		return NewGCSBackend(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.Options["credentials"],
		})
	}
	return nil, fmt.Errorf("unsupported backend type %q", cfg.Type)
}

package builddb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeIni(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build_db.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write ini: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeIni(t, `
[build_db]
db_uri = s3://build-db?region=us-west-2
username = AKIAEXAMPLE
password = secret
redis_addr = localhost:6379

[staging]
db_uri = /var/lib/build-db
keyspace = build_info_staging
`)

	cfg, err := LoadConfig(path, "")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.URI != "s3://build-db?region=us-west-2" {
		t.Errorf("URI = %q", cfg.URI)
	}
	if cfg.Username != "AKIAEXAMPLE" || cfg.Password != "secret" {
		t.Errorf("credentials = %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.Keyspace != DefaultKeyspace {
		t.Errorf("Keyspace = %q, want default", cfg.Keyspace)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}

	staging, err := LoadConfig(path, "staging")
	if err != nil {
		t.Fatalf("LoadConfig(staging) failed: %v", err)
	}
	if staging.Keyspace != "build_info_staging" || staging.URI != "/var/lib/build-db" {
		t.Errorf("staging = %+v", staging)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		section string
	}{
		{"missing section", "[other]\ndb_uri = /tmp/x\n", ""},
		{"missing uri", "[build_db]\nusername = a\n", ""},
		{"bad scheme", "[build_db]\ndb_uri = couchbase://db.example.com/build-info\n", ""},
		{"password without username", "[build_db]\ndb_uri = /tmp/x\npassword = p\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeIni(t, tt.content), tt.section)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.ini"), ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing file: expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("BUILDDB_URI", "minio://localhost:9000/build-db")
	t.Setenv("BUILDDB_USERNAME", "minioadmin")
	t.Setenv("BUILDDB_PASSWORD", "minioadmin")
	t.Setenv("BUILDDB_KEYSPACE", "")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BUILDDB_LOG_LEVEL", "debug")

	cfg := ConfigFromEnv()
	if cfg.URI != "minio://localhost:9000/build-db" || cfg.Username != "minioadmin" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Keyspace != DefaultKeyspace {
		t.Errorf("Keyspace = %q", cfg.Keyspace)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestConfigValidate_LogLevel(t *testing.T) {
	cfg := Config{URI: t.TempDir(), LogLevel: "chatty"}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	cfg.LogLevel = "error"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("REDIS_DB", "2")

	opts := RedisOptions("")
	if opts.Addr != "env-redis:6379" || opts.Password != "pw" || opts.DB != 2 {
		t.Errorf("opts = %+v", opts)
	}
	if RedisOptions("explicit:6380").Addr != "explicit:6380" {
		t.Error("explicit address should win over REDIS_ADDR")
	}

	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_DB", "not-a-number")
	opts = RedisOptions("")
	if opts.Addr != "localhost:6379" || opts.DB != 0 {
		t.Errorf("defaults = %+v", opts)
	}
}

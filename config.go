package builddb

import (
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/ini.v1"
)

// Configuration constants
const (
	// DefaultKeyspace is the keyspace queries select from and the field
	// that wraps each result row.
	DefaultKeyspace = "build_info"

	// DefaultConfigSection is the ini section LoadConfig reads when none is given
	DefaultConfigSection = "build_db"

	// Listing configuration
	DefaultListPaginatedSize = 100

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// Config describes how to reach the build database.
type Config struct {
	URI       string `ini:"db_uri"`
	Username  string `ini:"username"`
	Password  string `ini:"password"`
	Keyspace  string `ini:"keyspace"`
	RedisAddr string `ini:"redis_addr"` // Optional; enables the type index
	LogLevel  string `ini:"log_level"`  // Zap level used when Logger is nil; empty disables logging

	// Optional observability hooks, not read from files
	Logger  Logger  `ini:"-"`
	Metrics Metrics `ini:"-"`
}

// LoadConfig reads a Config from a section of an ini file:
//
//	[build_db]
//	db_uri = s3://build-db?region=us-west-2
//	username = AKIA...
//	password = ...
func LoadConfig(path, section string) (Config, error) {
	if section == "" {
		section = DefaultConfigSection
	}

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"path":   path,
			"reason": err.Error(),
		})
	}

	sec, err := file.GetSection(section)
	if err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"path":    path,
			"section": section,
			"reason":  "section not found",
		})
	}

	var cfg Config
	if err := sec.MapTo(&cfg); err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"path":    path,
			"section": section,
			"reason":  err.Error(),
		})
	}

	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// ConfigFromEnv returns a Config populated from environment variables.
//
// Environment variables read:
//   - BUILDDB_URI
//   - BUILDDB_USERNAME
//   - BUILDDB_PASSWORD
//   - BUILDDB_KEYSPACE (default: "build_info")
//   - REDIS_ADDR (optional)
//   - BUILDDB_LOG_LEVEL (optional)
func ConfigFromEnv() Config {
	cfg := Config{
		URI:       os.Getenv("BUILDDB_URI"),
		Username:  os.Getenv("BUILDDB_USERNAME"),
		Password:  os.Getenv("BUILDDB_PASSWORD"),
		Keyspace:  os.Getenv("BUILDDB_KEYSPACE"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		LogLevel:  os.Getenv("BUILDDB_LOG_LEVEL"),
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Keyspace == "" {
		c.Keyspace = DefaultKeyspace
	}
}

// Validate checks if the Config is usable
func (c Config) Validate() error {
	if _, err := ParseURI(c.URI); err != nil {
		return err
	}
	if c.Password != "" && c.Username == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "username",
			"reason": "password given without username",
		})
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "log_level",
				"value":  c.LogLevel,
				"reason": err.Error(),
			})
		}
	}
	return nil
}

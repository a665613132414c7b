package builddb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MinIOConfig contains MinIO-specific configuration
type MinIOConfig struct {
	Endpoint        string // e.g., "localhost:9000" or "minio.example.com"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool // Whether to use HTTPS (default: false for localhost)
	Bucket          string
	Region          string // Optional, defaults to us-east-1
}

// NewMinIOBackend creates a new MinIO backend.
// MinIO is S3-compatible, so this wraps S3Backend with path-style addressing.
func NewMinIOBackend(cfg MinIOConfig) (Backend, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "username/password",
			"reason": "MinIO backend requires an access key pair",
		})
	}

	return NewS3Backend(newMinIOClient(cfg), cfg.Bucket), nil
}

func newMinIOClient(cfg MinIOConfig) *s3.Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1" // MinIO doesn't enforce regions, but SDK requires it
	}

	return s3.New(s3.Options{
		BaseEndpoint: aws.String(fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)),
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true, // http://host/bucket/key
	})
}

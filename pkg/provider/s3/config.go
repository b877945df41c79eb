// Package s3 implements the provider interfaces for AWS S3 and
// S3-compatible storage.
package s3

// Config configures an S3 provider.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Anonymous (if Anonymous is set - requests are unsigned)
//  2. Explicit AccessKeyID/SecretAccessKey (if provided)
//  3. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  4. Shared credentials/config files (~/.aws) with optional profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// Region handling: the SDK chain (explicit > env > profile) resolves first;
// an unresolved region falls back to us-east-1, which is also the natural
// starting point for bucket region auto-discovery.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region to start in. Bucket region discovery may
	// move the client afterwards.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must
	// also be set. Takes precedence over the default credential chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// Anonymous disables request signing entirely. Useful for public
	// buckets not associated with any AWS account.
	Anonymous bool

	// ForcePathStyle forces path-style URLs (bucket in path, not
	// subdomain). Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses the provider default (1000). Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region when none is configured.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

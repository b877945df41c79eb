package s3

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3glob/s3glob/pkg/provider"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "empty bucket",
			config:  Config{},
			wantErr: "bucket name is required",
		},
		{
			name:   "valid minimal config",
			config: Config{Bucket: "my-bucket"},
		},
		{
			name:   "valid anonymous config",
			config: Config{Bucket: "my-bucket", Anonymous: true},
		},
		{
			name:    "access key without secret",
			config:  Config{Bucket: "b", AccessKeyID: "AKIA"},
			wantErr: "both access key ID and secret access key",
		},
		{
			name:    "secret without access key",
			config:  Config{Bucket: "b", SecretAccessKey: "shh"},
			wantErr: "both access key ID and secret access key",
		},
		{
			name:   "both credentials",
			config: Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "shh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWrapError_APIErrorCodes(t *testing.T) {
	p := &Provider{bucket: "test-bucket"}

	tests := []struct {
		code     string
		sentinel error
	}{
		{"NoSuchKey", provider.ErrNotFound},
		{"NotFound", provider.ErrNotFound},
		{"NoSuchBucket", provider.ErrBucketNotFound},
		{"AccessDenied", provider.ErrAccessDenied},
		{"Forbidden", provider.ErrAccessDenied},
		{"InvalidAccessKeyId", provider.ErrInvalidCredentials},
		{"SignatureDoesNotMatch", provider.ErrInvalidCredentials},
		{"SlowDown", provider.ErrThrottled},
		{"Throttling", provider.ErrThrottled},
		{"RequestLimitExceeded", provider.ErrThrottled},
		{"ServiceUnavailable", provider.ErrUnavailable},
		{"InternalError", provider.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := p.wrapError("List", "some/key", &mockAPIError{code: tt.code, message: "boom"})
			assert.ErrorIs(t, err, tt.sentinel)

			var wrapped *provider.Error
			require.ErrorAs(t, err, &wrapped)
			assert.Equal(t, "List", wrapped.Op)
			assert.Equal(t, "test-bucket", wrapped.Bucket)
		})
	}
}

func TestWrapError_MessageFallback(t *testing.T) {
	p := &Provider{bucket: "b"}

	tests := []struct {
		msg      string
		sentinel error
	}{
		{"operation error: NoSuchKey", provider.ErrNotFound},
		{"https response error StatusCode: 403 Forbidden", provider.ErrAccessDenied},
		{"too many requests, 429", provider.ErrThrottled},
		{"ServiceUnavailable: try later", provider.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := p.wrapError("Get", "k", errors.New(tt.msg))
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestWrapError_RetryableClassification(t *testing.T) {
	p := &Provider{bucket: "b"}

	throttled := p.wrapError("List", "", &mockAPIError{code: "SlowDown"})
	assert.True(t, provider.IsRetryable(throttled))
	assert.False(t, provider.IsFatal(throttled))

	denied := p.wrapError("List", "", &mockAPIError{code: "AccessDenied"})
	assert.False(t, provider.IsRetryable(denied))
	assert.True(t, provider.IsFatal(denied))
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "abc123", cleanETag(`"abc123"`))
	assert.Equal(t, "abc123", cleanETag("abc123"))
	assert.Equal(t, "", cleanETag(`""`))
}

func TestClampMaxKeys(t *testing.T) {
	assert.Equal(t, 1000, clampMaxKeys(0, DefaultMaxKeys))
	assert.Equal(t, 500, clampMaxKeys(500, DefaultMaxKeys))
	assert.Equal(t, MaxAllowedKeys, clampMaxKeys(5000, DefaultMaxKeys))
	assert.Equal(t, 250, clampMaxKeys(0, 250))
}

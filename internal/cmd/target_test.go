package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3glob/s3glob/pkg/glob"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name        string
		arg         string
		wantBucket  string
		wantPattern string
		wantErr     bool
	}{
		{"uri form", "s3://my-bucket/prefix/2024-*/x", "my-bucket", "prefix/2024-*/x", false},
		{"bare form", "my-bucket/prefix/2024-*/x", "my-bucket", "prefix/2024-*/x", false},
		{"question mark survives", "b/a?c", "b", "a?c", false},
		{"empty pattern", "bucket/", "bucket", "", false},
		{"nested delimiters", "s3://b/a/b/c/*.txt", "b", "a/b/c/*.txt", false},
		{"no slash", "just-a-bucket", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, pattern, err := ParseTarget(tt.arg)
			if tt.wantErr {
				require.Error(t, err)
				var syntaxErr *glob.SyntaxError
				assert.ErrorAs(t, err, &syntaxErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPattern, pattern)
		})
	}
}

package output

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var records []Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line: %s", line)
		records = append(records, rec)
	}
	return records
}

func TestJSONLWriter_WriteObject(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "my-bucket")

	err := w.WriteObject(context.Background(), &ObjectRecord{
		Key:          "data/file.txt",
		Size:         42,
		ETag:         "abc",
		LastModified: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, TypeObject, records[0].Type)
	assert.Equal(t, "job-1", records[0].JobID)
	assert.Equal(t, "my-bucket", records[0].Bucket)

	var obj ObjectRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &obj))
	assert.Equal(t, "data/file.txt", obj.Key)
	assert.Equal(t, int64(42), obj.Size)
}

func TestJSONLWriter_RecordTypes(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "b")
	ctx := context.Background()

	require.NoError(t, w.WriteObject(ctx, &ObjectRecord{Key: "k"}))
	require.NoError(t, w.WritePrefix(ctx, &PrefixRecord{Prefix: "p/"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeThrottled, Message: "slow down"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{ObjectsMatched: 1}))

	records := decodeLines(t, &buf)
	require.Len(t, records, 4)
	assert.Equal(t, TypeObject, records[0].Type)
	assert.Equal(t, TypePrefix, records[1].Type)
	assert.Equal(t, TypeError, records[2].Type)
	assert.Equal(t, TypeSummary, records[3].Type)
}

func TestJSONLWriter_ClosedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "b")
	require.NoError(t, w.Close())

	err := w.WriteObject(context.Background(), &ObjectRecord{Key: "k"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteObject(ctx, &ObjectRecord{Key: "k"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

// shortWriter writes at most 3 bytes per call.
type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.buf.Write(p)
}

func TestJSONLWriter_HandlesShortWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "job-1", "b")

	require.NoError(t, w.WriteObject(context.Background(), &ObjectRecord{Key: "k"}))

	records := decodeLines(t, &sw.buf)
	require.Len(t, records, 1)
	assert.Equal(t, TypeObject, records[0].Type)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-1", "b")
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 25; j++ {
				_ = w.WriteObject(ctx, &ObjectRecord{Key: "k"})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	// Every line must be intact JSON: no interleaving.
	records := decodeLines(t, &buf)
	assert.Len(t, records, 200)
}

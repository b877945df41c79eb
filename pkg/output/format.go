package output

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/s3glob/s3glob/pkg/provider"
)

// Format tokens accepted in -f format strings:
//
//	{bucket}         the bucket name
//	{key}            the object key
//	{uri}            s3://<bucket>/<key>
//	{size}           the size in bytes, no suffix
//	{size_human}     the size in decimal units (e.g. 1.2 MB)
//	{last_modified}  the last modified time, RFC3339
//
// Anything else between braces is an error; literal text passes through.

// FormatToken is one compiled piece of a format string.
type FormatToken struct {
	literal string
	render  func(bucket string, obj provider.ObjectSummary) string
}

// Format is a compiled format string.
type Format []FormatToken

// CompileFormat parses a user format string into renderable tokens.
func CompileFormat(format string) (Format, error) {
	var tokens Format
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, FormatToken{literal: lit.String()})
			lit.Reset()
		}
	}

	runes := []rune(format)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '{' {
			lit.WriteRune(runes[i])
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == '}' {
				end = j
				break
			}
		}
		if end == -1 {
			return nil, fmt.Errorf("unterminated format variable at offset %d", i)
		}
		name := string(runes[i+1 : end])
		render, err := variableRenderer(name)
		if err != nil {
			return nil, err
		}
		flush()
		tokens = append(tokens, FormatToken{render: render})
		i = end
	}
	flush()
	return tokens, nil
}

func variableRenderer(name string) (func(string, provider.ObjectSummary) string, error) {
	switch name {
	case "bucket":
		return func(bucket string, _ provider.ObjectSummary) string { return bucket }, nil
	case "key":
		return func(_ string, obj provider.ObjectSummary) string { return obj.Key }, nil
	case "uri":
		return func(bucket string, obj provider.ObjectSummary) string {
			return fmt.Sprintf("s3://%s/%s", bucket, obj.Key)
		}, nil
	case "size":
		return func(_ string, obj provider.ObjectSummary) string {
			return fmt.Sprintf("%d", obj.Size)
		}, nil
	case "size_human":
		return func(_ string, obj provider.ObjectSummary) string {
			return humanize.Bytes(uint64(obj.Size))
		}, nil
	case "last_modified":
		return func(_ string, obj provider.ObjectSummary) string {
			return obj.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00")
		}, nil
	}
	return nil, fmt.Errorf("unknown format variable: {%s}", name)
}

// Render produces the formatted line for one object.
func (f Format) Render(bucket string, obj provider.ObjectSummary) string {
	var b strings.Builder
	for _, tok := range f {
		if tok.render != nil {
			b.WriteString(tok.render(bucket, obj))
		} else {
			b.WriteString(tok.literal)
		}
	}
	return b.String()
}

// DefaultLine renders an object the way `aws s3 ls` does:
// date, time, right-aligned size, key.
func DefaultLine(obj provider.ObjectSummary) string {
	ts := obj.LastModified.UTC()
	return fmt.Sprintf("%s %s %10d %s",
		ts.Format("2006-01-02"),
		ts.Format("15:04:05"),
		obj.Size,
		obj.Key)
}

// PrefixLine renders a bare common prefix, PRE aligned under the size
// column.
func PrefixLine(prefix string) string {
	return fmt.Sprintf("%30s %s", "PRE", prefix)
}

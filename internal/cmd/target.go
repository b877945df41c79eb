package cmd

import (
	"regexp"

	"github.com/s3glob/s3glob/pkg/glob"
)

// targetRe splits "<bucket>/<pattern>" with an optional s3:// scheme.
// Glob characters like ? make net/url parsing unusable here, so the split
// is done by hand.
var targetRe = regexp.MustCompile(`^(?:s3://)?([^/]+)/(.*)$`)

// ParseTarget splits a CLI pattern argument into bucket and glob.
//
// Accepted forms:
//
//	s3://my-bucket/prefix/2024-*/something/*
//	my-bucket/prefix/2024-*/something/*
func ParseTarget(arg string) (bucket, pattern string, err error) {
	m := targetRe.FindStringSubmatch(arg)
	if m == nil {
		return "", "", &glob.SyntaxError{
			Pos:    0,
			Reason: "pattern must have a <bucket>/<pattern> format, with an optional s3:// prefix",
		}
	}
	return m[1], m[2], nil
}

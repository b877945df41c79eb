package cmd

import (
	"context"
	"errors"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
)

// Process exit codes.
const (
	// ExitOK: success with at least one match.
	ExitOK = 0

	// ExitNoMatches: the scan completed but nothing matched.
	ExitNoMatches = 1

	// ExitPatternSyntax: the glob pattern is malformed.
	ExitPatternSyntax = 2

	// ExitAccess: credentials or permission failure.
	ExitAccess = 3

	// ExitIO: network or local filesystem failure.
	ExitIO = 4

	// ExitCancelled: interrupted (SIGINT convention: 128+2).
	ExitCancelled = 130
)

// exitError carries a process exit code alongside the underlying error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit"
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// withCode wraps err with an explicit exit code.
func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	var syntaxErr *glob.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		return ExitPatternSyntax
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err), provider.IsBucketNotFound(err):
		return ExitAccess
	}
	return ExitIO
}

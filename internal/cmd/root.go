// Package cmd implements the s3glob command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s3glob/s3glob/internal/config"
	"github.com/s3glob/s3glob/internal/observability"
	"github.com/s3glob/s3glob/pkg/progress"
	"github.com/s3glob/s3glob/pkg/provider"
	s3provider "github.com/s3glob/s3glob/pkg/provider/s3"
)

var rootCmd = &cobra.Command{
	Use:   "s3glob",
	Short: "A fast aws s3 ls and downloader that supports glob patterns",
	Long: `A fast aws s3 ls and downloader that supports glob patterns.

Object discovery is driven by a unixy glob over the bucket keyspace:
s3glob expands the pattern into concrete prefixes, lists them in
parallel, and prunes every branch that cannot match.

Patterns can be an s3 uri or <bucket>/<glob> without the s3://:

    s3glob ls s3://my-bucket/my_prefix/2024-12-*/something_else/*
    s3glob dl my-bucket/logs/2024-*/'*.gz' ./out`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		observability.Init(flagVerbose, flagQuiet)

		cfg, err := config.Load()
		if err != nil {
			return withCode(ExitIO, fmt.Errorf("loading configuration: %w", err))
		}

		// Environment fills in anything the flags did not set.
		if !cmd.Flags().Changed("region") {
			flagRegion = cfg.Region
		}
		if !cmd.Flags().Changed("delimiter") {
			flagDelimiter = cfg.Delimiter
		}
		if !cmd.Flags().Changed("max-parallelism") {
			flagMaxParallelism = cfg.MaxParallelism
		}

		if len(flagDelimiter) == 0 {
			flagDelimiter = "/"
		}
		return nil
	},
}

var (
	flagRegion         string
	flagDelimiter      string
	flagVerbose        int
	flagQuiet          int
	flagNoSignRequest  bool
	flagMaxParallelism int
)

// versionInfo is injected at build time via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata shown by --version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", version, commit, buildDate)
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVarP(&flagRegion, "region", "r", "us-east-1",
		"Region to begin bucket region auto-discovery in")
	pf.StringVarP(&flagDelimiter, "delimiter", "d", "/",
		"S3 delimiter used to split keys into listable prefixes")
	pf.CountVarP(&flagVerbose, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug, -vvv debug with callers)")
	pf.CountVarP(&flagQuiet, "quiet", "q",
		"Be more quiet (-q hides progress, -qq also hides errors)")
	pf.BoolVar(&flagNoSignRequest, "no-sign-request", false,
		"Do not sign requests (for public buckets)")
	// Kept as an alias because earlier releases used the plural form.
	pf.BoolVar(&flagNoSignRequest, "no-sign-requests", false, "")
	_ = pf.MarkHidden("no-sign-requests")
	pf.IntVarP(&flagMaxParallelism, "max-parallelism", "M", 10000,
		"Maximum number of parallel requests")
}

// Execute runs the CLI with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// reporter builds the stderr progress reporter for the current quiet level.
func reporter() *progress.Reporter {
	return progress.NewReporter(os.Stderr, progress.LevelFromCount(flagQuiet))
}

// delimiterRune returns the configured delimiter as a rune.
func delimiterRune() rune {
	for _, r := range flagDelimiter {
		return r
	}
	return '/'
}

// createProvider builds an S3 provider pointed at the bucket's actual
// region.
//
// The client starts in --region; HeadBucket reports where the bucket
// really lives (S3 includes the region even on redirect errors), and the
// client is rebuilt when they disagree.
func createProvider(ctx context.Context, bucket string) (*s3provider.Provider, error) {
	cfg := s3provider.Config{
		Bucket:    bucket,
		Region:    flagRegion,
		Anonymous: flagNoSignRequest,
	}

	prov, err := s3provider.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	region, err := prov.BucketRegion(ctx, bucket)
	if err != nil {
		if provider.IsFatal(err) {
			return nil, err
		}
		// Discovery is best-effort: proceed in the starting region.
		observability.CLILogger.Debug("bucket region discovery failed",
			zap.String("bucket", bucket),
			zap.Error(err))
		return prov, nil
	}

	if region != "" && region != flagRegion {
		observability.CLILogger.Debug("switching to bucket region",
			zap.String("bucket", bucket),
			zap.String("region", region))
		cfg.Region = region
		return s3provider.New(ctx, cfg)
	}
	return prov, nil
}

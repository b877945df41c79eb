package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s3glob/s3glob/internal/config"
	"github.com/s3glob/s3glob/internal/observability"
	"github.com/s3glob/s3glob/pkg/download"
	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
	"github.com/s3glob/s3glob/pkg/scanner"
)

var dlCmd = &cobra.Command{
	Use:   "dl <pattern> <destination>",
	Short: "Download objects matching the pattern",
	Long: `Download objects matching the pattern into a destination directory.

How object keys map to local paths is controlled by --path-mode:

  - absolute | abs: the full key path is reproduced in the destination
  - from-first-glob | g: the key path relative to the first path part
    containing a glob in the pattern is reproduced in the destination
    (when no delimiter precedes the first glob, the literal text before
    it is stripped)
  - shortest | s: the longest common directory prefix of all matched
    keys is stripped

Two distinct keys never overwrite each other: a colliding local name
gets a numeric suffix before the extension (name.txt, name (1).txt).`,
	Args: cobra.ExactArgs(2),
	RunE: runDl,
}

var (
	dlPathMode string
	dlFlatten  bool
)

func init() {
	rootCmd.AddCommand(dlCmd)

	dlCmd.Flags().StringVarP(&dlPathMode, "path-mode", "p", "from-first-glob",
		"How object keys map to local paths (absolute|from-first-glob|shortest)")
	dlCmd.Flags().BoolVar(&dlFlatten, "flatten", false,
		"Replace delimiters in the stripped key path with dashes")
}

func runDl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()
	rep := reporter()

	bucket, raw, err := ParseTarget(args[0])
	if err != nil {
		return err
	}
	dest := args[1]

	mode, err := download.ParsePathMode(dlPathMode)
	if err != nil {
		return withCode(ExitPatternSyntax, err)
	}

	pat, err := glob.Parse(raw, delimiterRune())
	if err != nil {
		return err
	}

	prov, err := createProvider(ctx, bucket)
	if err != nil {
		return err
	}
	defer func() { _ = prov.Close() }()

	cfg := config.GetConfig()
	exp := glob.Expand(pat, glob.ExpandOptions{Cap: cfg.ExpansionCap})

	sc := scanner.New(prov, pat, scanner.Config{
		MaxParallelism:        flagMaxParallelism,
		Attempts:              cfg.RetryAttempts,
		RequestTimeout:        cfg.RequestTimeout,
		FrontierWarnThreshold: cfg.FrontierWarn,
		Logger:                observability.CLILogger,
	})

	matches := make(chan scanner.Match, 1024)
	var summary *scanner.Summary
	var scanErr error
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		summary, scanErr = sc.Run(ctx, exp, matches)
	}()

	mgr := download.New(prov, pat, download.Config{
		Dest:           dest,
		Mode:           mode,
		Flatten:        dlFlatten,
		Pools:          cfg.DownloadPools,
		MaxParallelism: flagMaxParallelism,
		Attempts:       cfg.RetryAttempts,
		RequestTimeout: cfg.RequestTimeout,
		Reporter:       rep,
		Logger:         observability.CLILogger,
	})

	// Bare prefixes are a listing artifact; only concrete objects are
	// handed to the downloader.
	objects := make(chan provider.ObjectSummary, 1024)
	go func() {
		defer close(objects)
		for m := range matches {
			if m.IsPrefix {
				observability.CLILogger.Debug("skipping prefix", zap.String("prefix", m.Prefix))
				continue
			}
			select {
			case <-ctx.Done():
				return
			case objects <- m.Object:
			}
		}
	}()

	// Periodic status line while downloads run.
	statusDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-statusDone:
				return
			case <-ticker.C:
				elapsed := time.Since(start).Seconds()
				speed := float64(rep.Bytes()) / elapsed
				rep.Status("downloaded %d/%d objects, %8s   %10s/s",
					rep.Completed(),
					rep.Queued(),
					humanize.Bytes(uint64(rep.Bytes())),
					humanize.Bytes(uint64(speed)))
			}
		}
	}()

	result, dlErr := mgr.Run(ctx, objects)
	close(statusDone)
	<-scanDone
	rep.Flush()

	if scanErr != nil {
		return scanErr
	}
	if dlErr != nil {
		return dlErr
	}

	if result.Downloaded == 0 && result.Failed == 0 {
		rep.Errorln("No objects found matching the pattern.")
		return withCode(ExitNoMatches, fmt.Errorf("no objects matched %s", args[0]))
	}

	for _, path := range result.Files {
		fmt.Println(path)
	}

	rep.Println("downloaded %d objects (%s) across %s prefixes in %v (%s/s)",
		result.Downloaded,
		humanize.Bytes(uint64(result.Bytes)),
		humanize.Comma(int64(summary.PeakFrontier)),
		time.Since(start).Round(time.Millisecond),
		humanize.Bytes(uint64(float64(result.Bytes)/time.Since(start).Seconds())))

	if result.Failed > 0 {
		return withCode(ExitIO, fmt.Errorf("%d of %d objects failed to download",
			result.Failed, result.Failed+result.Downloaded))
	}
	return nil
}

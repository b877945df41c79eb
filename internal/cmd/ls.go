package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s3glob/s3glob/internal/config"
	"github.com/s3glob/s3glob/internal/observability"
	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/output"
	"github.com/s3glob/s3glob/pkg/scanner"
)

var lsCmd = &cobra.Command{
	Use:   "ls <pattern>",
	Short: "List objects matching the pattern",
	Long: `List objects matching the pattern.

The pattern can either be an s3 uri or a <bucket>/<glob> without the
s3://:

    s3glob ls s3://my-bucket/my_prefix/2024-12-*/something_else/*
    s3glob ls my-bucket/my_prefix/2024-12-*/something_else/*

By default results are collected, sorted by key, and printed at the end;
--stream prints each match as it is discovered instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

var (
	lsFormat string
	lsStream bool
	lsJSONL  bool
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().StringVarP(&lsFormat, "format", "f", "",
		"Format string for each object; variables: {bucket} {key} {uri} {size} {size_human} {last_modified}")
	lsCmd.Flags().BoolVar(&lsStream, "stream", false,
		"Stream keys as they are found, rather than sorting and printing at the end")
	lsCmd.Flags().BoolVar(&lsJSONL, "jsonl", false,
		"Emit machine-readable JSONL records instead of formatted lines")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()
	rep := reporter()

	bucket, raw, err := ParseTarget(args[0])
	if err != nil {
		return err
	}

	pat, err := glob.Parse(raw, delimiterRune())
	if err != nil {
		return err
	}

	var userFormat output.Format
	if lsFormat != "" {
		userFormat, err = output.CompileFormat(lsFormat)
		if err != nil {
			return withCode(ExitPatternSyntax, err)
		}
	}

	prov, err := createProvider(ctx, bucket)
	if err != nil {
		return err
	}
	defer func() { _ = prov.Close() }()

	cfg := config.GetConfig()
	exp := glob.Expand(pat, glob.ExpandOptions{Cap: cfg.ExpansionCap})
	observability.CLILogger.Debug("expanded pattern",
		zap.String("pattern", raw),
		zap.Int("seed_prefixes", len(exp.Nodes)),
		zap.Int("peak_frontier", exp.PeakFrontier))

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
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, scanErr = sc.Run(ctx, exp, matches)
	}()

	var jsonl output.Writer
	if lsJSONL {
		jsonl = output.NewJSONLWriter(os.Stdout, uuid.New().String(), bucket)
		defer func() { _ = jsonl.Close() }()
	}

	var collected []scanner.Match
	matchCount := 0
	for m := range matches {
		matchCount++
		switch {
		case jsonl != nil:
			if err := writeJSONLMatch(ctx, jsonl, m); err != nil {
				return withCode(ExitIO, err)
			}
		case lsStream:
			printMatch(bucket, userFormat, m)
		default:
			collected = append(collected, m)
			if matchCount%100 == 0 {
				rep.Status("matched %s objects", humanize.Comma(int64(matchCount)))
			}
		}
	}
	<-done
	rep.Flush()

	if scanErr != nil {
		return scanErr
	}

	sort.Slice(collected, func(i, j int) bool {
		return matchKey(collected[i]) < matchKey(collected[j])
	})
	for _, m := range collected {
		printMatch(bucket, userFormat, m)
	}

	if jsonl != nil {
		if err := jsonl.WriteSummary(ctx, &output.SummaryRecord{
			ObjectsExamined: summary.ObjectsExamined,
			ObjectsMatched:  summary.ObjectsMatched,
			ListCalls:       summary.ListCalls,
			PeakFrontier:    summary.PeakFrontier,
			Duration:        summary.Duration,
			DurationHuman:   summary.Duration.Round(time.Millisecond).String(),
			Errors:          summary.FailedJobs,
		}); err != nil {
			return withCode(ExitIO, err)
		}
	}

	rep.Println("Matched %s/%s objects across %s prefixes in %v",
		humanize.Comma(int64(matchCount)),
		humanize.Comma(summary.ObjectsExamined),
		humanize.Comma(int64(summary.PeakFrontier)),
		time.Since(start).Round(time.Millisecond))

	if matchCount == 0 {
		rep.Errorln("No objects matched the pattern (saw %d prefixes); consider broadening it.",
			summary.PeakFrontier)
		return withCode(ExitNoMatches, fmt.Errorf("no objects matched %s", args[0]))
	}
	return nil
}

// matchKey orders matches: objects by key, bare prefixes by prefix.
func matchKey(m scanner.Match) string {
	if m.IsPrefix {
		return m.Prefix
	}
	return m.Object.Key
}

func printMatch(bucket string, userFormat output.Format, m scanner.Match) {
	if m.IsPrefix {
		fmt.Println(output.PrefixLine(m.Prefix))
		return
	}
	if userFormat != nil {
		fmt.Println(userFormat.Render(bucket, m.Object))
		return
	}
	fmt.Println(output.DefaultLine(m.Object))
}

func writeJSONLMatch(ctx context.Context, w output.Writer, m scanner.Match) error {
	if m.IsPrefix {
		return w.WritePrefix(ctx, &output.PrefixRecord{Prefix: m.Prefix})
	}
	return w.WriteObject(ctx, &output.ObjectRecord{
		Key:          m.Object.Key,
		Size:         m.Object.Size,
		ETag:         m.Object.ETag,
		LastModified: m.Object.LastModified,
	})
}

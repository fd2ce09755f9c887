package main

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hannes/kiji-ner/logging"
	"github.com/hannes/kiji-ner/report"
)

var analyzeFormat string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run both extractors once on a local UTF-8 text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		if !utf8.Valid(data) {
			return fmt.Errorf("%s is not valid UTF-8", args[0])
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		defer sentry.Flush(shutdownTimeout)

		ctx = logging.WithRequestID(ctx, uuid.NewString())
		resp, err := a.analyzer.Analyze(ctx, string(data))
		if err != nil {
			return err
		}
		return report.Write(cmd.OutOrStdout(), resp, analyzeFormat)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", report.FormatJSON, "Output format: json or table")
	rootCmd.AddCommand(analyzeCmd)
}

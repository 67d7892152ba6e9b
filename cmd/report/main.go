/**
 * @description
 * Offline report generator. Reads a SIM swap / PIN reset transaction extract, runs the
 * same analysis as the analytics-service and writes the interactive network graph page,
 * optionally with the JSON report next to it. Nothing is stored or published.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command line flags and usage.
 */

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/transfa/analytics-service/internal/analysis"
	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/ingest"
	"github.com/transfa/analytics-service/internal/render"
)

type reportFlags struct {
	input          string
	output         string
	jsonOutput     string
	delimiter      string
	timezone       string
	extraLayout    string
	strict         bool
	lookback       time.Duration
	observation    time.Duration
	minPost        int
	muleMinSources int
	title          string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := reportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a SIM swap and PIN reset network report from a transaction extract",
		Long: `Reads a delimited transaction extract with one row per transaction of a subscriber
whose SIM was swapped or PIN reset, classifies each transaction against the subscriber's
pre-event counterparties and writes an interactive HTML network graph.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.OutOrStdout(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "transaction extract to analyse")
	f.StringVarP(&flags.output, "output", "o", "graph.html", "HTML report path")
	f.StringVar(&flags.jsonOutput, "json", "", "also write the JSON report to this path")
	f.StringVar(&flags.delimiter, "delimiter", ";", "field delimiter")
	f.StringVar(&flags.timezone, "timezone", "Africa/Dar_es_Salaam", "zone for timestamps without an offset")
	f.StringVar(&flags.extraLayout, "time-layout", "", "extra Go time layout to try first")
	f.BoolVar(&flags.strict, "strict", false, "fail on the first malformed row instead of skipping it")
	f.DurationVar(&flags.lookback, "lookback", 0, "baseline window before each reset (0 = unlimited)")
	f.DurationVar(&flags.observation, "observation", 0, "post-event window after each reset (0 = unlimited)")
	f.IntVar(&flags.minPost, "min-post", 1, "post-event transactions needed before a subscriber can be flagged")
	f.IntVar(&flags.muleMinSources, "mule-min-sources", 2, "reset subscribers a counterparty must receive unfamiliar money from to be a mule candidate")
	f.StringVar(&flags.title, "title", "", "report title (default derived from the reset dates)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runReport(out io.Writer, flags reportFlags) error {
	delimiter, size := utf8.DecodeRuneInString(flags.delimiter)
	if size == 0 || size != len(flags.delimiter) || delimiter == utf8.RuneError {
		return fmt.Errorf("delimiter must be a single character, got %q", flags.delimiter)
	}
	loc, err := time.LoadLocation(flags.timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	file, err := os.Open(flags.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	batch, err := ingest.Parse(file, ingest.ParseOptions{
		Delimiter:   delimiter,
		Location:    loc,
		ExtraLayout: flags.extraLayout,
		Strict:      flags.strict,
	})
	if err != nil {
		return fmt.Errorf("parse %s: %w", flags.input, err)
	}
	for _, skipped := range batch.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %v\n", skipped)
	}

	opts := analysis.DefaultOptions()
	opts.LookbackWindow = flags.lookback
	opts.ObservationWindow = flags.observation
	opts.MinPostEventTransactions = flags.minPost
	opts.MuleMinSources = flags.muleMinSources

	report := analysis.Analyze(analysis.Input{
		Transactions: batch.Transactions,
		SkippedRows:  len(batch.Skipped),
		Source:       flags.input,
		Title:        flags.title,
	}, opts)

	if err := render.WriteFile(flags.output, func(w io.Writer) error {
		return render.HTML(w, report, render.DefaultHTMLOptions())
	}); err != nil {
		return err
	}
	if flags.jsonOutput != "" {
		if err := render.WriteFile(flags.jsonOutput, func(w io.Writer) error {
			return render.JSON(w, report)
		}); err != nil {
			return err
		}
	}

	return printSummary(out, report, flags.output)
}

func printSummary(out io.Writer, report *domain.Report, output string) error {
	fmt.Fprintf(out, "%s\n", report.Title)
	fmt.Fprintf(out, "%d transactions, %d reset subscribers, %d flagged, %d for review, %d rows skipped\n",
		report.Stats.Transactions, report.Stats.ResetSubscribers, report.Stats.Flagged, report.Stats.Review, report.Stats.SkippedRows)

	flagged := analysis.Flagged(report.Assessments)
	if len(flagged) > 0 {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MSISDN\tNAME\tRESET AT\tUNFAMILIAR\tAMOUNT")
		for _, a := range flagged {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
				a.MSISDN, a.SubscriberName, a.ResetAt.Format("2006-01-02 15:04"),
				a.UnfamiliarCount, a.AfterCount, render.FormatAmount(a.UnfamiliarAmount))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(report.MuleCandidates) > 0 {
		fmt.Fprintf(out, "%d mule candidates, %d rings\n", len(report.MuleCandidates), len(report.Rings))
	}

	_, err := fmt.Fprintf(out, "wrote %s\n", output)
	return err
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/campaign-engine/qualify"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var logs int
	cmd := &cobra.Command{
		Use:   "status [campaign-id]",
		Short: "Show campaign progress, or overall stats without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				c, err := app.Store.LoadCampaign(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printCampaign(out, c, true)
				printLogs(out, c.Logs, logs)
				return nil
			}

			stats, err := state.CollectStats(cmd.Context(), app.Store)
			if err != nil {
				return err
			}
			printStats(out, stats)
			return nil
		},
	}
	cmd.Flags().IntVar(&logs, "logs", 10, "Number of recent log entries to show")
	return cmd
}

func printCampaign(out io.Writer, c state.Campaign, detailed bool) {
	total := len(c.Recipients)
	processed := min(c.CurrentIndex, total)
	pct := 0.0
	if total > 0 {
		pct = float64(processed) * 100 / float64(total)
	}
	_, _ = fmt.Fprintf(out, "%s  %s  [%s]\n", c.ID, c.Name, c.Status)
	_, _ = fmt.Fprintf(out, "  progress  %s/%s (%.0f%%), %s sent\n",
		humanize.Comma(int64(processed)), humanize.Comma(int64(total)), pct, humanize.Comma(int64(c.SentCount)))
	if !detailed {
		return
	}
	if c.AgentID != "" {
		_, _ = fmt.Fprintf(out, "  agent     %s\n", c.AgentID)
	} else {
		_, _ = fmt.Fprintf(out, "  subject   %s\n", c.Template.Subject)
	}
	_, _ = fmt.Fprintf(out, "  updated   %s\n", humanize.Time(c.UpdatedAt))
}

func printLogs(out io.Writer, logs []state.LogEntry, limit int) {
	if limit <= 0 || len(logs) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tSTEP\tSTATUS\tRECIPIENT\tMESSAGE")
	for i, l := range logs {
		if i >= limit {
			break
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(l.Timestamp), l.Step, l.Status, l.Recipient, l.Message)
	}
	_ = w.Flush()
}

func printStats(out io.Writer, stats state.Stats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tSENT")
	for _, c := range stats.PerCampaign {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%s\n", c.ID, c.Name, c.Status,
			humanize.Comma(int64(c.Processed)), humanize.Comma(int64(c.Total)), humanize.Comma(int64(c.Sent)))
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%s campaigns, %s recipients, %s processed, %s sent\n",
		humanize.Comma(int64(stats.Campaigns)), humanize.Comma(int64(stats.Recipients)),
		humanize.Comma(int64(stats.Processed)), humanize.Comma(int64(stats.Sent)))
}

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "score <campaign-id>",
		Short: "Print the email verification report of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			c, err := app.Store.LoadCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report := qualify.CampaignReport(c, app.Rules)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printReport(out io.Writer, report qualify.Report) {
	_, _ = fmt.Fprintf(out, "%s: %d recipients, %d likely valid, %d suspicious, %d likely invalid (%d%% valid)\n\n",
		report.CampaignName, report.TotalRecipients,
		report.Summary.LikelyValid, report.Summary.Suspicious, report.Summary.LikelyInvalid, report.Summary.ValidPercentage)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCORE\tBUCKET\tEMAIL\tISSUES")
	for _, r := range report.Results {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Score, r.Bucket, r.Email, strings.Join(r.Issues, "; "))
	}
	_ = w.Flush()
}

package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"voice-conformity-go/internal/app"
	"voice-conformity-go/internal/dataset"
	"voice-conformity-go/internal/types"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every pending call in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				report, err := a.RunBatch(cmd.Context())
				if err != nil && report.RunID == "" {
					return err
				}
				if asJSON {
					if jerr := writeJSON(cmd, report); jerr != nil {
						return jerr
					}
				} else {
					printReport(cmd, "Batch", report)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Analyze stored transcripts that have no analysis yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				report, err := a.Backfill(cmd.Context(), limit)
				if err != nil && report.RunID == "" {
					return err
				}
				if asJSON {
					if jerr := writeJSON(cmd, report); jerr != nil {
						return jerr
					}
				} else {
					printReport(cmd, "Backfill", report)
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum transcripts to analyze (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newItemCommand(ctx *commandContext) *cobra.Command {
	var identity, ref, date string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Process a single call immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			item := types.WorkItem{Identity: dataset.NormalizeIdentity(identity), AudioRef: strings.TrimSpace(ref)}
			if date != "" {
				d, ok := dataset.ParseCallDate(date)
				if !ok {
					return fmt.Errorf("unrecognized --date %q", date)
				}
				item.CallDate = d
			} else if d, ok := dataset.DateFromFilename(item.AudioRef); ok {
				item.CallDate = d
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				out, err := a.ProcessOne(cmd.Context(), item)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, out)
				}
				an := out.Analysis
				rows := [][]string{
					{"Transcript", an.TranscriptID},
					{"Category", string(an.Category)},
					{"Conformity", string(an.Conformity)},
					{"Score", strconv.Itoa(an.Score)},
					{"Prior validation", an.PriorOutcomeType},
					{"Context applied", strconv.FormatBool(an.ContextApplied)},
					{"Rationale", an.RationaleText},
					{"Cost", money(out.TranscriptionCost + out.JudgeCost)},
				}
				for i, met := range an.Criteria {
					rows = append(rows, []string{types.Criterion(i).String(), yesNo(met)})
				}
				printTable(cmd.OutOrStdout(), item.AudioRef, []string{"Field", "Value"}, rows, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Customer identity")
	cmd.Flags().StringVar(&ref, "ref", "", "Audio reference")
	cmd.Flags().StringVar(&date, "date", "", "Call date (defaults to the date in the file name)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List the resolved work queue without processing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				items, err := a.Pending(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				rows := make([][]string, 0, len(items))
				for _, it := range items {
					rows = append(rows, []string{it.Identity, formatDate(it.CallDate), it.AudioRef})
				}
				printTable(cmd.OutOrStdout(), fmt.Sprintf("%d pending", len(items)), []string{"Identity", "Call date", "Audio ref"}, rows, nil)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var since string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize stored analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				d, ok := dataset.ParseCallDate(since)
				if !ok {
					return fmt.Errorf("unrecognized --since %q", since)
				}
				from = d
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				st, err := a.Status(cmd.Context(), from)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, st)
				}
				printStatus(cmd, st)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only analyses created on or after this date")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var strict, asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report duplicate transcripts and analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				audit, err := a.AuditDuplicates(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, audit); err != nil {
						return err
					}
				} else {
					var rows [][]string
					for _, g := range audit.RefsWithMultipleTranscripts {
						rows = append(rows, []string{"audio ref", g.Key, strconv.Itoa(len(g.IDs))})
					}
					for _, g := range audit.TranscriptsWithMultipleAnalyses {
						rows = append(rows, []string{"transcript", g.Key, strconv.Itoa(len(g.IDs))})
					}
					if len(rows) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No duplicates found")
					} else {
						printTable(cmd.OutOrStdout(), "Duplicates", []string{"Kind", "Key", "Count"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight})
					}
				}
				if strict && !audit.Clean() {
					return errors.New("duplicate records found")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when duplicates exist")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var out, since string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write analyses to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				d, ok := dataset.ParseCallDate(since)
				if !ok {
					return fmt.Errorf("unrecognized --since %q", since)
				}
				from = d
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				n, err := a.Export(cmd.Context(), out, from)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d analyses to %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "analyses.xlsx", "Output workbook path")
	cmd.Flags().StringVar(&since, "since", "", "Only analyses created on or after this date")
	return cmd
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-schedule",
		Short: "Run batches on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				if a.Config().Schedule.Cron == "" {
					return errors.New("schedule.cron (BATCH_SCHEDULE) is not set")
				}
				return a.ServeSchedule(cmd.Context())
			})
		},
	}
}

func newValidationCommand(ctx *commandContext) *cobra.Command {
	var identity, outcome, seller, supervisor, manager, at string
	cmd := &cobra.Command{
		Use:   "record-validation",
		Short: "Store a prior validation outcome for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			vc := types.ValidationContext{
				PriorOutcomeType: strings.TrimSpace(outcome),
				SellerName:       seller,
				SupervisorName:   supervisor,
				ManagerName:      manager,
				ContextTimestamp: time.Now().UTC(),
			}
			if at != "" {
				d, ok := dataset.ParseCallDate(at)
				if !ok {
					return fmt.Errorf("unrecognized --at %q", at)
				}
				vc.ContextTimestamp = d
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				if err := a.RecordValidation(cmd.Context(), dataset.NormalizeIdentity(identity), vc); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %q for %s\n", vc.PriorOutcomeType, identity)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Customer identity")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Validation outcome type")
	cmd.Flags().StringVar(&seller, "seller", "", "Seller name")
	cmd.Flags().StringVar(&supervisor, "supervisor", "", "Supervisor name")
	cmd.Flags().StringVar(&manager, "manager", "", "Manager name")
	cmd.Flags().StringVar(&at, "at", "", "Validation date (defaults to now)")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func printReport(cmd *cobra.Command, title string, r types.BatchReport) {
	w := cmd.OutOrStdout()
	rows := [][]string{
		{"Run", r.RunID},
		{"Pending", strconv.Itoa(r.Pending)},
		{"Processed", strconv.Itoa(r.Processed)},
		{"Failed", strconv.Itoa(r.Failed)},
		{"Skipped", strconv.Itoa(r.Skipped)},
		{"Transcription cost", money(r.TranscriptionCost)},
		{"Judge cost", money(r.JudgeCost)},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
	}
	printTable(w, title, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})

	if len(r.Failures) == 0 {
		return
	}
	failed := make([][]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failed = append(failed, []string{f.Identity, f.AudioRef, f.Stage, f.Kind, f.Reason})
	}
	printTable(w, "Failures", []string{"Identity", "Audio ref", "Stage", "Kind", "Reason"}, failed, nil)
}

func printStatus(cmd *cobra.Command, st app.Status) {
	w := cmd.OutOrStdout()
	s := st.Summary
	printTable(w, "Store", []string{"Metric", "Value"}, [][]string{
		{"Transcripts", strconv.FormatInt(st.Store.Transcripts, 10)},
		{"Analyses", strconv.FormatInt(st.Store.Analyses, 10)},
		{"Unanalyzed", strconv.FormatInt(st.Store.Unanalyzed, 10)},
		{"Conformity rate", percent(s.ConformityRate)},
		{"Critical failure rate", percent(s.CriticalFailureRate)},
		{"Average score", fmt.Sprintf("%.1f", s.AverageScore)},
		{"Critical override", strconv.FormatBool(st.Policy.EnforceCriticalOverride)},
	}, []columnAlignment{alignLeft, alignRight})

	cats := []types.Category{types.CategoryTop, types.CategoryHigh, types.CategoryMid, types.CategoryLow}
	var catRows [][]string
	for _, c := range cats {
		catRows = append(catRows, []string{string(c), strconv.Itoa(s.ByCategory[c])})
	}
	printTable(w, "By category", []string{"Category", "Calls"}, catRows, []columnAlignment{alignLeft, alignRight})

	criteria := make([]string, 0, len(s.CriterionRates))
	for name := range s.CriterionRates {
		criteria = append(criteria, name)
	}
	sort.Strings(criteria)
	var critRows [][]string
	for _, name := range criteria {
		critRows = append(critRows, []string{name, percent(s.CriterionRates[name])})
	}
	if len(critRows) > 0 {
		printTable(w, "Criteria met", []string{"Criterion", "Rate"}, critRows, []columnAlignment{alignLeft, alignRight})
	}

	var sellerRows [][]string
	for _, g := range s.BySeller {
		sellerRows = append(sellerRows, []string{g.Name, strconv.Itoa(g.Total), percent(g.Rate)})
	}
	if len(sellerRows) > 0 {
		printTable(w, "By seller", []string{"Seller", "Calls", "Conforming"}, sellerRows, []columnAlignment{alignLeft, alignRight, alignRight})
	}

	fmt.Fprintf(w, "\n%s\n-> %s\n", st.ActionCard.Insight, st.ActionCard.Action)
	for _, warn := range st.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

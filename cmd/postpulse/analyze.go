package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"postpulse/pkg/aggregate"
	"postpulse/pkg/config"
	"postpulse/pkg/storage"
)

var (
	// Analyze command flags
	analyzeSince string
	analyzeTop   int
	analyzeJSON  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <cohort>",
	Short: "Compute topic frequency and popularity for a cohort",
	Long: `Reduce the collected posts of a cohort into:

  frequency   the share of each account's posts that is about the topic
  popularity  how much more response the account's topic posts get than its others

and into per-date series of both, raw and smoothed. The report is stored as an
artifact named report-<cohort> and the full series as result-<cohort>.`,
	Example: `  postpulse analyze popular
  postpulse analyze news --since 2020-03-01 --top 10
  postpulse analyze random --json > random.json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeSince, "since", "", "ignore posts created on or before this date (YYYY-MM-DD)")
	analyzeCmd.Flags().IntVarP(&analyzeTop, "top", "n", 0, "number of accounts in the top tables (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the report as JSON")
}

// aggregateOptions converts the analysis configuration.
func aggregateOptions(cfg config.AnalysisConfig) (aggregate.Options, error) {
	opts := aggregate.Options{
		FrequencyWindow:    cfg.FrequencyWindow,
		FrequencyMode:      aggregate.SmoothMode(strings.ToLower(cfg.FrequencyMode)),
		PopularityPoolDays: cfg.PopularityPoolDays,
		PopularityWindow:   cfg.PopularityWindow,
		PopularityFilter:   aggregate.SmoothMode(strings.ToLower(cfg.PopularityFilter)),
	}
	var err error
	if opts.Since, err = config.ParseDate(cfg.Since); err != nil {
		return opts, err
	}
	if opts.Start, err = config.ParseDate(cfg.Start); err != nil {
		return opts, err
	}
	if opts.End, err = config.ParseDate(cfg.End); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]

	a, err := newApp(ctx, map[string]interface{}{"since": analyzeSince}, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cohort, err := a.store.LoadCohort(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("cohort %s does not exist", name)
		}
		return err
	}

	opts, err := aggregateOptions(a.cfg.Analysis)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(a.store, opts, a.log)
	if err != nil {
		return err
	}
	result, err := agg.Aggregate(ctx, cohort.Name, cohort.Accounts)
	if err != nil {
		return err
	}

	topN := a.cfg.Analysis.TopN
	if analyzeTop > 0 {
		topN = analyzeTop
	}
	report := aggregate.BuildReport(result, topN, a.cfg.Analysis.OutlierThreshold)

	if err := saveJSONArtifact(cmd, a.store, "result-"+cohort.Name, result); err != nil {
		return err
	}
	if err := saveJSONArtifact(cmd, a.store, "report-"+cohort.Name, report); err != nil {
		return err
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func saveJSONArtifact(cmd *cobra.Command, store storage.Store, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := store.SaveArtifact(cmd.Context(), name, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

func printReport(r *aggregate.Report) {
	s := r.Summary
	printer.Highlight("Cohort " + r.Cohort)
	printer.Info("Accounts", strconv.Itoa(s.TotalAccounts))
	printer.Info("Without posts in the window", strconv.Itoa(s.WithoutPosts))
	printer.Info("Never posted about the topic", strconv.Itoa(s.NeverRelevant))
	printer.Info("Frequency under 1%", strconv.Itoa(s.BelowOnePercent))
	printer.Info("Left out of popularity", strconv.Itoa(s.PopularityIgnored))

	printer.Table([]string{"Account", "Frequency"}, valueRows(r.TopFrequency, "%.4f"))
	printer.Table([]string{"Account", "Popularity"}, valueRows(r.TopPopularity, "%.3f"))
	printer.Table([]string{"Statistic", "Count", "Mean", "StdDev", "Median", "IQR"}, [][]string{
		statsRow("frequency", r.FrequencyStats.Raw),
		statsRow("frequency w/o outliers", r.FrequencyStats.WithoutOutliers),
		statsRow("popularity", r.PopularityStats.Raw),
		statsRow("popularity w/o outliers", r.PopularityStats.WithoutOutliers),
	})
	if n := len(r.DateFrequency.Dates); n > 0 {
		printer.Info("Date series", fmt.Sprintf("%s to %s (%d days)", r.DateFrequency.Dates[0], r.DateFrequency.Dates[n-1], n))
	}
}

func valueRows(values []aggregate.AccountValue, format string) [][]string {
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = []string{v.Account, fmt.Sprintf(format, v.Value)}
	}
	return rows
}

func statsRow(label string, s *aggregate.Statistics) []string {
	if s == nil {
		return []string{label, "0", "-", "-", "-", "-"}
	}
	return []string{
		label,
		strconv.Itoa(s.Count),
		fmt.Sprintf("%.4f", s.Mean),
		fmt.Sprintf("%.4f", s.StdDev),
		fmt.Sprintf("%.4f", s.Median),
		fmt.Sprintf("%.4f", s.IQR),
	}
}

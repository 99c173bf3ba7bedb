package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"postpulse/pkg/sample"
	"postpulse/pkg/storage"
)

var (
	sampleForce bool
	rankTop     int
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Select the cohorts of accounts to analyse",
	Long: `Select named cohorts from the crawled accounts.

  popular  the most followed accounts posting in the configured languages
  random   a random draw of moderately active accounts from the rest
  news     accounts of news outlets, from a hub account's reposts and a directory page

Cohorts are fixed once selected. Selecting again requires --force.`,
}

var sampleSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select the popular and random cohorts",
	Example: `  postpulse sample select
  postpulse sample select --force`,
	Args: cobra.NoArgs,
	RunE: runSampleSelect,
}

var sampleNewsCmd = &cobra.Command{
	Use:   "news",
	Short: "Select the news cohort",
	Long: `Select the news cohort: the hub account, the accounts the hub reposted and the
accounts listed on the news directory page. The hub's timeline must be collected first
with 'postpulse fetch --account <hub>'.`,
	Example: `  postpulse fetch --account TwitterNews
  postpulse sample news`,
	Args: cobra.NoArgs,
	RunE: runSampleNews,
}

var samplePruneCmd = &cobra.Command{
	Use:   "prune <cohort>",
	Short: "Drop accounts without a collected timeline from a cohort",
	Args:  cobra.ExactArgs(1),
	RunE:  runSamplePrune,
}

var sampleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored cohorts",
	Args:  cobra.NoArgs,
	RunE:  runSampleList,
}

var sampleRankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Show the crawled accounts with the most followers",
	Args:  cobra.NoArgs,
	RunE:  runSampleRank,
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	sampleCmd.AddCommand(sampleSelectCmd)
	sampleCmd.AddCommand(sampleNewsCmd)
	sampleCmd.AddCommand(samplePruneCmd)
	sampleCmd.AddCommand(sampleListCmd)
	sampleCmd.AddCommand(sampleRankCmd)

	sampleSelectCmd.Flags().BoolVar(&sampleForce, "force", false, "reselect cohorts that already exist")
	sampleNewsCmd.Flags().BoolVar(&sampleForce, "force", false, "reselect the news cohort if it exists")
	sampleRankCmd.Flags().IntVarP(&rankTop, "top", "n", 20, "number of accounts to show")
}

func newSampler(a *app) *sample.Sampler {
	return sample.NewSampler(a.store, sample.CriteriaFromConfig(a.cfg.Sample), a.cfg.Sample.RandomSeed, a.log)
}

func runSampleSelect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sel, err := newSampler(a).SelectCohorts(cmd.Context(), sampleForce)
	if err != nil {
		return err
	}
	printer.Info("Eligible for the random cohort", strconv.Itoa(sel.Eligible))
	printer.Success(fmt.Sprintf("Selected %s (%d accounts) and %s (%d accounts)",
		sel.Popular.Name, len(sel.Popular.Accounts), sel.Random.Name, len(sel.Random.Accounts)))
	return nil
}

func runSampleNews(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Sample
	cohort, err := newSampler(a).SelectNews(cmd.Context(), a.pageClient(), cfg.NewsHub, cfg.NewsDirectoryURL, sampleForce)
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("Selected %s (%d accounts)", cohort.Name, len(cohort.Accounts)))
	printer.Line("Collect it with 'postpulse fetch " + cohort.Name + "', then run 'postpulse sample prune " + cohort.Name + "'")
	return nil
}

func runSamplePrune(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil, false)
	if err != nil {
		return err
	}
	defer a.Close()

	cohort, err := a.store.LoadCohort(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("cohort %s does not exist", args[0])
		}
		return err
	}
	pruned, dropped, err := newSampler(a).Prune(cmd.Context(), cohort)
	if err != nil {
		return err
	}
	for _, h := range dropped {
		printer.Warning("Dropped", h)
	}
	printer.Success(fmt.Sprintf("%s keeps %d of %d accounts", pruned.Name, len(pruned.Accounts), len(cohort.Accounts)))
	return nil
}

func runSampleList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil, false)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.store.ListCohorts(cmd.Context())
	if err != nil {
		return err
	}
	if len(names) == 0 {
		printer.Info("No cohorts", "run 'postpulse sample select' first")
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		c, err := a.store.LoadCohort(cmd.Context(), name)
		if err != nil {
			return err
		}
		rows = append(rows, []string{c.Name, strconv.Itoa(len(c.Accounts)), c.CreatedAt.Format("2006-01-02 15:04")})
	}
	printer.Table([]string{"Cohort", "Accounts", "Created"}, rows)
	return nil
}

func runSampleRank(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil, false)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.store.ListAccounts(cmd.Context())
	if err != nil {
		return err
	}
	ranked := sample.Rank(accounts)
	if rankTop >= 0 && rankTop < len(ranked) {
		ranked = ranked[:rankTop]
	}

	rows := make([][]string, 0, len(ranked))
	for i, r := range ranked {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.Handle, strconv.Itoa(r.Followers), strconv.Itoa(r.Posts), r.Lang})
	}
	printer.Info("Accounts crawled", strconv.Itoa(len(accounts)))
	printer.Table([]string{"#", "Account", "Followers", "Posts", "Lang"}, rows)
	return nil
}

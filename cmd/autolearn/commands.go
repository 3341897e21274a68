package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"autolearn/internal/loop"
	"autolearn/internal/planner"
	"autolearn/internal/qa"
	"autolearn/internal/store"
	"autolearn/internal/system"
	"autolearn/internal/usage"
)

// runCmd drives learning cycles.
func newRunCmd(opts *globalOptions) *cobra.Command {
	var cycles int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run learning cycles",
		Long: `Runs learning cycles until --cycles attempts are made (or loop.max_cycles
when the flag is not set), the stop file appears, or the process receives
SIGINT/SIGTERM. Zero cycles means run until stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycles < 0 {
				return fmt.Errorf("--cycles must be >= 0, got %d", cycles)
			}
			sys, err := bootSystem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sys.Close()

			sum, err := sys.Run(cmd.Context(), sys.Mode(cycles))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "Number of cycles to attempt (0 = use loop.max_cycles)")
	return cmd
}

func printSummary(w io.Writer, sum loop.Summary) {
	fmt.Fprintf(w, "Stopped: %s\n", sum.Reason)
	fmt.Fprintf(w, "Cycles attempted: %d (succeeded %d, failed %d)\n", sum.Attempts, sum.Succeeded, sum.Failed)
	fmt.Fprintf(w, "Total cycles: %d\n", sum.CycleCount)
}

// statsCmd prints knowledge store statistics.
func newStatsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := inspectSystem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sys.Close()

			st, err := sys.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			cp, err := sys.Checkpoints.Load()
			if err != nil {
				return err
			}
			var tokens *usage.TokenCounts
			if sys.Usage != nil {
				if total := sys.Usage.Stats().Total; total.Calls > 0 {
					tokens = &total
				}
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					store.Stats
					SizeMB     float64            `json:"size_mb"`
					CycleCount int                `json:"cycle_count"`
					Generator  string             `json:"generator"`
					Tokens     *usage.TokenCounts `json:"generator_tokens,omitempty"`
				}{st, st.SizeMB(), cp.CycleCount, sys.Generator.String(), tokens})
			}
			fmt.Fprintf(out, "Goal:        %s\n", sys.Config.Goal)
			fmt.Fprintf(out, "Documents:   %d\n", st.DocumentCount)
			fmt.Fprintf(out, "Passages:    %d\n", st.PassageCount)
			fmt.Fprintf(out, "Insights:    %d\n", st.InsightCount)
			fmt.Fprintf(out, "Cycles:      %d\n", cp.CycleCount)
			fmt.Fprintf(out, "Dimensions:  %d\n", st.Dimensions)
			fmt.Fprintf(out, "Size:        %.2f MB\n", st.SizeMB())
			fmt.Fprintf(out, "Generator:   %s\n", sys.Generator)
			if tokens != nil {
				fmt.Fprintf(out, "Tokens:      %d in %d calls (input %d, output %d)\n", tokens.Total, tokens.Calls, tokens.Input, tokens.Output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	return cmd
}

// searchCmd lists the passages nearest to a query.
func newSearchCmd(opts *globalOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored passages similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k < 1 {
				return fmt.Errorf("-k must be >= 1, got %d", k)
			}
			sys, err := bootSystem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sys.Close()

			query := strings.Join(args, " ")
			vec, err := sys.Engine.Embed(cmd.Context(), query)
			if err != nil {
				return fmt.Errorf("failed to embed query: %w", err)
			}
			neighbors, err := sys.Store.NearestPassages(cmd.Context(), vec, k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(neighbors) == 0 {
				fmt.Fprintln(out, "No passages stored yet.")
				return nil
			}
			for i, n := range neighbors {
				title := n.Title
				if title == "" {
					title = n.URL
				}
				fmt.Fprintf(out, "%d. [%.3f] %s\n   %s\n   %s\n", i+1, n.Similarity, title, n.URL, excerpt(n.Text, 200))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 5, "Number of passages to return")
	return cmd
}

// insightsCmd lists recent insights.
func newInsightsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "List the most recent insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be >= 1, got %d", limit)
			}
			sys, err := inspectSystem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sys.Close()

			insights, err := sys.Store.RecentInsights(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(insights) == 0 {
				fmt.Fprintln(out, "No insights yet.")
				return nil
			}
			for _, in := range insights {
				fmt.Fprintf(out, "#%d %s confidence=%.2f topic=%q\n", in.ID, in.CreatedAt.Format("2006-01-02 15:04:05"), in.Confidence, in.Topic)
				fmt.Fprintf(out, "   %s\n", in.Summary)
				if len(in.Sources) > 0 {
					fmt.Fprintf(out, "   sources: %s\n", strings.Join(in.Sources, "; "))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum number of insights")
	return cmd
}

// askCmd answers a question from memory plus a few fresh web pages.
func newAskCmd(opts *globalOptions) *cobra.Command {
	var (
		k      int
		noWeb  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge store and the web",
		Long: `Recalls the stored passages closest to the question, fetches a few fresh
web results, and answers from that context. With a generator configured the
answer is written by the model; otherwise the best-matching sentences are
quoted. The store is never modified.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k < 0 {
				return fmt.Errorf("-k must be >= 0, got %d", k)
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if k > 0 {
				cfg.Ask.MemoryK = k
			}
			if noWeb {
				cfg.Ask.WebResults = 0
			}
			sys, err := system.Boot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			ans, err := sys.QA.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			printAnswer(out, ans)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "Passages to recall from memory (0 = ask.memory_k)")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "Answer from memory only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the answer as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans *qa.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range ans.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	used := "no (extractive)"
	if ans.UsedGenerator {
		used = "yes"
	}
	fmt.Fprintf(w, "\nGenerator used: %s (memory %d, web %d)\n", used, ans.MemoryHits(), len(ans.Excerpts)-ans.MemoryHits())
}

// ingestCmd stores explicit URLs without a full cycle.
func newIngestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <url>...",
		Short: "Fetch URLs and store their novel passages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := bootSystem(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sys.Close()

			res, err := sys.Planner.IngestURLs(cmd.Context(), args)
			if err != nil {
				return err
			}
			printIngest(cmd.OutOrStdout(), res)
			if res.Fetched == 0 && res.Known == 0 {
				return errors.New("no document could be ingested")
			}
			return nil
		},
	}
}

func printIngest(w io.Writer, res *planner.Result) {
	fmt.Fprintf(w, "URLs: %d (stored %d, already known %d, failed %d)\n", res.Hits, res.Fetched, res.Known, res.Failed)
	fmt.Fprintf(w, "Passages: kept %d, redundant %d, skipped %d\n", len(res.Kept), res.Rejected, res.Skipped)
}

// excerpt collapses whitespace and cuts s to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/icmemd/internal/contradiction"
	"github.com/fyrsmithlabs/icmemd/internal/patterns"
)

var (
	// patterns flags
	patternsCompany     string
	patternsOneLiner    string
	patternsDescription string
	patternsSector      string
	patternsOutcomes    string
	patternsLimit       int
	patternsCounter     bool

	// check flags
	checkMarket      string
	checkTeam        string
	checkThesis      string
	checkCompetitive string
)

func init() {
	rootCmd.AddCommand(patternsCmd, checkCmd)

	patternsCmd.Flags().StringVar(&patternsCompany, "company", "", "Company name of the new opportunity (required)")
	patternsCmd.Flags().StringVar(&patternsOneLiner, "one-liner", "", "One-line pitch")
	patternsCmd.Flags().StringVar(&patternsDescription, "description", "", "Longer opportunity description")
	patternsCmd.Flags().StringVar(&patternsSector, "sector", "", "Sector, narrows the structured pass")
	patternsCmd.Flags().StringVar(&patternsOutcomes, "outcomes", "", "JSON file of historical pass decisions")
	patternsCmd.Flags().IntVar(&patternsLimit, "limit", 5, "Maximum candidates returned")
	patternsCmd.Flags().BoolVar(&patternsCounter, "counter-thesis", false, "Draft a counter-thesis from the evidence (needs a reasoning provider)")

	checkCmd.Flags().StringVar(&checkMarket, "market", "", "File with the market analysis section")
	checkCmd.Flags().StringVar(&checkTeam, "team", "", "File with the team assessment section")
	checkCmd.Flags().StringVar(&checkThesis, "thesis", "", "File with the investment thesis section")
	checkCmd.Flags().StringVar(&checkCompetitive, "competitive", "", "File with the competitive landscape section")
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Match a new opportunity against historical passes",
	Long: `Patterns runs two retrieval passes for a new opportunity: structured
comparison against documented pass decisions, and narrative search over
indexed memo text for pass-reasoning language.

Examples:
  icmemd patterns --firm-id sequoia --company "Acme" --one-liner "API-first payroll" \
    --sector fintech --outcomes passes.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		outcomes := patterns.NewMemoryOutcomeStore()
		if patternsOutcomes != "" {
			if err := loadOutcomes(ctx, patternsOutcomes, outcomes); err != nil {
				return err
			}
		}

		reason, err := newReasoningClient(deps.cfg)
		if err != nil {
			return err
		}

		matcher, err := patterns.NewMatcher(outcomes, deps.index, deps.provider, reason, deps.logger)
		if err != nil {
			return err
		}

		opp := patterns.Opportunity{
			CompanyName: patternsCompany,
			OneLiner:    patternsOneLiner,
			Description: patternsDescription,
			Sector:      patternsSector,
		}
		candidates, err := matcher.FindHistoricalPatterns(ctx, opp, patternsLimit)
		if err != nil {
			return err
		}

		var counter string
		if patternsCounter && len(candidates) > 0 {
			if counter, err = matcher.CounterThesis(ctx, opp, candidates); err != nil {
				return err
			}
		}

		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"candidates":     candidates,
				"counter_thesis": counter,
			})
		}

		if len(candidates) == 0 {
			fmt.Println("No historical patterns found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SIMILARITY\tSOURCE\tCOMPANY\tRATIONALE")
		for _, c := range candidates {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n",
				c.Similarity, c.Source, valueOrDash(c.CompanyName), previewText(c.Rationale, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if counter != "" {
			fmt.Printf("\nCounter-thesis:\n%s\n", counter)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <memo-id>",
	Short: "Check a memo draft for contradictions with prior memos",
	Long: `Check compares each provided memo section against the firm's indexed
history and flags claims that contradict what earlier memos asserted.
Requires a configured reasoning provider.

Examples:
  icmemd check --firm-id sequoia --thesis thesis.md --market market.md acme-memo-7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := firmContext()
		if err != nil {
			return err
		}
		deps, err := initDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		reason, err := newReasoningClient(deps.cfg)
		if err != nil {
			return err
		}
		if reason == nil {
			return fmt.Errorf("check requires a reasoning provider, set reasoning.provider in config")
		}
		publisher, err := newPublisher(deps.cfg, deps.logger)
		if err != nil {
			return err
		}
		defer publisher.Close()

		sections, err := readSections()
		if err != nil {
			return err
		}
		if len(sections) == 0 {
			return fmt.Errorf("at least one section flag is required (--market, --team, --thesis, --competitive)")
		}

		detector, err := contradiction.NewDetector(deps.index, reason, publisher, deps.logger)
		if err != nil {
			return err
		}
		flags, err := detector.Detect(ctx, args[0], sections)
		if err != nil {
			return err
		}

		if outputJSON {
			return json.NewEncoder(os.Stdout).Encode(flags)
		}
		if len(flags) == 0 {
			fmt.Println("No contradictions found.")
			return nil
		}
		for _, f := range flags {
			fmt.Printf("[%s] %s vs %q\n", f.Severity, f.Section, f.HistoricalMemoTitle)
			fmt.Printf("  then: %s\n", f.HistoricalStance)
			fmt.Printf("  now:  %s\n", f.CurrentStance)
			fmt.Printf("  %s\n", f.Summary)
		}
		return nil
	},
}

// outcomeRecord is the wire form of one documented pass in an --outcomes
// file.
type outcomeRecord struct {
	OpportunityID string `json:"opportunity_id"`
	CompanyName   string `json:"company_name"`
	OneLiner      string `json:"one_liner"`
	Description   string `json:"description"`
	Sector        string `json:"sector"`
	Outcome       string `json:"outcome"`
	Rationale     string `json:"rationale"`
	DecidedAt     string `json:"decided_at"`
}

// loadOutcomes reads a JSON array of historical decisions into the store.
func loadOutcomes(ctx context.Context, path string, store *patterns.MemoryOutcomeStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading outcomes file: %w", err)
	}
	var records []outcomeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing outcomes file %s: %w", path, err)
	}
	for i, rec := range records {
		outcome := patterns.HistoricalOutcome{
			OpportunityID: rec.OpportunityID,
			CompanyName:   rec.CompanyName,
			OneLiner:      rec.OneLiner,
			Description:   rec.Description,
			Sector:        rec.Sector,
			Outcome:       patterns.Outcome(rec.Outcome),
			Rationale:     rec.Rationale,
		}
		if rec.DecidedAt != "" {
			decided, err := time.Parse(time.RFC3339, rec.DecidedAt)
			if err != nil {
				return fmt.Errorf("outcomes file %s record %d: decided_at must be RFC 3339: %w", path, i, err)
			}
			outcome.DecidedAt = decided
		}
		if err := store.Add(ctx, outcome); err != nil {
			return fmt.Errorf("outcomes file %s record %d: %w", path, i, err)
		}
	}
	return nil
}

// readSections collects the section files named on the command line.
func readSections() (map[contradiction.Section]string, error) {
	files := map[contradiction.Section]string{
		contradiction.SectionMarketAnalysis:       checkMarket,
		contradiction.SectionTeamAssessment:       checkTeam,
		contradiction.SectionInvestmentThesis:     checkThesis,
		contradiction.SectionCompetitiveLandscape: checkCompetitive,
	}
	sections := make(map[contradiction.Section]string)
	for section, path := range files {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s section: %w", section, err)
		}
		sections[section] = string(data)
	}
	return sections, nil
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

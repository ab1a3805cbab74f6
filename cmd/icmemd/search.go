package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

var (
	// search command flags
	searchK       int
	searchMinSim  float64
	searchDocType string
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchK, "k", 10, "Maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "Inclusive similarity floor in [0,1]")
	searchCmd.Flags().StringVar(&searchDocType, "type", "", "Restrict to one document type")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the firm's indexed chunks",
	Long: `Search embeds the query and returns the firm's most similar chunks.
Similarity is reported in [0,1].

Examples:
  # Top ten chunks for a thesis question
  icmemd search --firm-id sequoia "concerns about marketplace take rates"

  # Only IC memos above a floor
  icmemd search --firm-id sequoia --type ic_memo --min-similarity 0.6 "team risk"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, err := firmContext()
	if err != nil {
		return err
	}

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	matches, err := deps.index.Search(ctx, args[0], vectorindex.SearchOptions{
		K:             searchK,
		MinSimilarity: searchMinSim,
		DocumentType:  searchDocType,
	})
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(matches)
	}

	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tDOCUMENT\tSECTION\tCONTENT")
	for _, m := range matches {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n",
			m.Similarity,
			m.DocumentTitle,
			m.SectionLabel,
			previewText(m.Content, 80),
		)
	}
	return w.Flush()
}

// previewText collapses whitespace and truncates for table display.
func previewText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

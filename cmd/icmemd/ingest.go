package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/icmemd/internal/ingestion"
)

var (
	// ingest command flags
	ingestDocumentID string
	ingestTitle      string
	ingestType       string
	ingestCompany    string
	ingestChunkChars int
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(removeCmd)

	ingestCmd.Flags().StringVar(&ingestDocumentID, "document-id", "", "Document identifier (generated when empty)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Document title")
	ingestCmd.Flags().StringVar(&ingestType, "type", "ic_memo", "Document type (ic_memo, deck, notes)")
	ingestCmd.Flags().StringVar(&ingestCompany, "company", "", "Company the document is about")
	ingestCmd.Flags().IntVar(&ingestChunkChars, "chunk-chars", 1500, "Approximate characters per chunk")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Index a document's text for the firm",
	Long: `Ingest splits a text file into chunks, embeds them, and indexes them
for the firm. The whole document lands or nothing does.

Examples:
  # Ingest an IC memo
  icmemd ingest --firm-id sequoia --title "IC Memo: Acme" --company Acme memo.txt

  # Ingest a deck transcript with an explicit document ID
  icmemd ingest --firm-id sequoia --type deck --document-id deck-42 deck.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var removeCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Remove a document and all its indexed chunks",
	Long: `Remove cascade-deletes every indexed chunk of the document for the
firm.

Examples:
  icmemd remove --firm-id sequoia deck-42`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, err := firmContext()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	svc, err := ingestion.NewService(ingestion.Config{
		MaxWorkers: deps.cfg.Ingestion.MaxWorkers,
		BatchSize:  deps.cfg.Ingestion.BatchSize,
	}, deps.index, deps.provider, deps.logger)
	if err != nil {
		return err
	}

	docID := ingestDocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	title := ingestTitle
	if title == "" {
		title = args[0]
	}

	raw := chunkText(string(content), ingestChunkChars)
	if len(raw) == 0 {
		return fmt.Errorf("%s contains no text", args[0])
	}

	ids, err := svc.Ingest(ctx, ingestion.Document{
		ID:          docID,
		Title:       title,
		Type:        ingestType,
		CompanyName: ingestCompany,
	}, raw)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"document_id": docID,
			"chunks":      len(ids),
		})
	}
	fmt.Printf("Indexed %d chunks for document %s\n", len(ids), docID)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx, err := firmContext()
	if err != nil {
		return err
	}

	deps, err := initDeps()
	if err != nil {
		return err
	}
	defer deps.Close()

	removed, err := deps.index.DeleteDocument(ctx, args[0])
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"document_id": args[0],
			"removed":     removed,
		})
	}
	fmt.Printf("Removed %d chunks for document %s\n", removed, args[0])
	return nil
}

// chunkText splits text into paragraph-aligned chunks of roughly maxChars
// characters. Paragraphs longer than maxChars become their own chunk.
func chunkText(text string, maxChars int) []ingestion.RawChunk {
	if maxChars <= 0 {
		maxChars = 1500
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []ingestion.RawChunk
	var current strings.Builder
	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		current.Reset()
		if trimmed != "" {
			chunks = append(chunks, ingestion.RawChunk{Content: trimmed})
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}

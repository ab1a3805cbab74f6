package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/embeddings"
	"github.com/fyrsmithlabs/icmemd/internal/reasoning"
	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

const (
	// minPatternSimilarity is the inclusive floor, in normalized [0,1]
	// similarity, below which candidates are discarded in both passes.
	minPatternSimilarity = 0.5

	// memoDocumentType restricts narrative search to IC memos.
	memoDocumentType = "ic_memo"

	// maxExcerptLen bounds narrative candidate excerpts, in bytes.
	maxExcerptLen = 500

	// DefaultLimit bounds results when the caller passes none.
	DefaultLimit = 10
)

// Matcher finds historical pass patterns relevant to a new opportunity.
//
// Two passes feed the result: a structured pass over recorded outcomes gives
// high precision when metadata is clean, and a narrative pass over memo
// chunks recovers matches whose pass reasoning lives only in free text.
type Matcher struct {
	outcomes OutcomeStore
	index    vectorindex.Index
	provider embeddings.Provider
	reason   reasoning.Client
	logger   *zap.Logger
}

// NewMatcher creates a pattern matcher. The reasoning client is optional;
// without one CounterThesis is unavailable.
func NewMatcher(outcomes OutcomeStore, index vectorindex.Index, provider embeddings.Provider, reason reasoning.Client, logger *zap.Logger) (*Matcher, error) {
	if outcomes == nil {
		return nil, fmt.Errorf("outcome store cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		outcomes: outcomes,
		index:    index,
		provider: provider,
		reason:   reason,
		logger:   logger,
	}, nil
}

// FindHistoricalPatterns returns the firm's historical pass evidence most
// relevant to the opportunity, deduplicated by company and ranked by
// similarity, truncated to limit.
func (m *Matcher) FindHistoricalPatterns(ctx context.Context, opp Opportunity, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	structured, err := m.structuredPass(ctx, opp, limit)
	if err != nil {
		return nil, fmt.Errorf("structured outcome pass: %w", err)
	}
	narrative, err := m.narrativePass(ctx, opp, limit)
	if err != nil {
		return nil, fmt.Errorf("narrative memo pass: %w", err)
	}

	merged := append(structured, narrative...)
	deduped := DeduplicateByCompany(merged)
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	m.logger.Debug("historical patterns found",
		zap.String("company", opp.CompanyName),
		zap.Int("structured", len(structured)),
		zap.Int("narrative", len(narrative)),
		zap.Int("result", len(deduped)),
	)
	return deduped, nil
}

// structuredPass compares the opportunity fingerprint against the firm's
// documented passed outcomes.
func (m *Matcher) structuredPass(ctx context.Context, opp Opportunity, limit int) ([]Candidate, error) {
	outcomes, err := m.outcomes.PassedOutcomes(ctx, opp.Sector, limit*2)
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, nil
	}

	oppVec, err := embeddings.ForText(ctx, m.provider, opp.Fingerprint())
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(outcomes))
	for i, o := range outcomes {
		texts[i] = o.Fingerprint()
	}
	vecs, err := embeddings.ForTexts(ctx, m.provider, texts)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i, o := range outcomes {
		sim := vectorindex.NormalizeCosine(embeddings.CosineSimilarity(oppVec, vecs[i]))
		if sim < minPatternSimilarity {
			continue
		}
		candidates = append(candidates, Candidate{
			Source:         SourcePassedOutcome,
			OpportunityRef: o.OpportunityID,
			CompanyName:    o.CompanyName,
			Sector:         o.Sector,
			Rationale:      o.Rationale,
			Similarity:     sim,
			DecidedAt:      o.DecidedAt,
		})
	}
	return candidates, nil
}

// narrativePass searches memo chunks with paraphrased queries that target
// pass and risk language.
func (m *Matcher) narrativePass(ctx context.Context, opp Opportunity, limit int) ([]Candidate, error) {
	subject := opp.OneLiner
	if subject == "" {
		subject = opp.CompanyName
	}
	queries := []string{
		fmt.Sprintf("why we passed on %s deals", opp.Sector),
		fmt.Sprintf("concerns about %s investments", opp.Sector),
		fmt.Sprintf("red flags %s", subject),
		fmt.Sprintf("pass recommendation %s", opp.Sector),
	}

	seen := make(map[string]bool)
	var candidates []Candidate
	for _, query := range queries {
		if strings.TrimSpace(query) == "" {
			continue
		}
		matches, err := m.index.Search(ctx, query, vectorindex.SearchOptions{
			K:             limit,
			MinSimilarity: minPatternSimilarity,
			DocumentType:  memoDocumentType,
		})
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if seen[match.ChunkID] {
				continue
			}
			seen[match.ChunkID] = true

			company := match.CompanyName
			if company == "" {
				company = match.DocumentTitle
			}
			excerpt := truncateOnRune(match.Content, maxExcerptLen)
			candidates = append(candidates, Candidate{
				Source:         SourceMemoChunk,
				OpportunityRef: match.DocumentID,
				CompanyName:    company,
				Rationale:      ExtractPassReason(match.Content),
				Excerpt:        excerpt,
				Similarity:     match.Similarity,
			})
		}
	}
	return candidates, nil
}

// DeduplicateByCompany keeps the highest-similarity candidate per normalized
// company name, in descending similarity order. Candidates without a
// resolvable name are never deduplicated against each other.
func DeduplicateByCompany(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	seen := make(map[string]bool)
	var unique []Candidate
	for _, c := range sorted {
		name := normalizeCompanyName(c.CompanyName)
		if name == "" {
			unique = append(unique, c)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		unique = append(unique, c)
	}
	return unique
}

// counterThesisPrompt frames the candidates for an uncomfortable read.
const counterThesisSystem = "You are a contrarian venture analyst reviewing your own firm's decision history."

// CounterThesis asks the reasoning collaborator for a two-paragraph
// counter-thesis built from the matched pass patterns. Returns empty text
// when there are no patterns.
func (m *Matcher) CounterThesis(ctx context.Context, opp Opportunity, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	if m.reason == nil {
		return "", fmt.Errorf("no reasoning client configured")
	}

	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	var summary strings.Builder
	for _, c := range top {
		name := c.CompanyName
		if name == "" {
			name = "Unknown"
		}
		reason := c.Rationale
		if reason == "" {
			reason = "No reason documented"
		}
		fmt.Fprintf(&summary, "- %s: %s\n", name, reason)
	}

	prompt := fmt.Sprintf(`Based on these historical pass patterns from our firm, write a 2-paragraph counter-thesis for why we might be making a mistake if we pass on %s.

CURRENT DEAL: %s
ONE-LINER: %s
SECTOR: %s

HISTORICAL PASS PATTERNS:
%s
Identify which historical biases might be at play, explain why this deal might differ from the pattern-matched concerns, and name specific things that could make us regret passing. Be specific and uncomfortable.`,
		opp.CompanyName, opp.CompanyName, valueOr(opp.OneLiner, "Not provided"), valueOr(opp.Sector, "Unknown"), summary.String())

	text, err := m.reason.Generate(ctx, counterThesisSystem, prompt, 1000)
	if err != nil {
		return "", fmt.Errorf("generating counter thesis: %w", err)
	}
	return text, nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

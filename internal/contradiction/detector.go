// Package contradiction flags places where a new IC memo takes a position
// the firm's historical memos argued against.
//
// Detection is two-stage: similarity search narrows each memo section to its
// closest historical chunks, then a reasoning model judges whether the
// stances actually conflict. A reasoning failure on one pair never fails the
// run; that pair simply yields no flag.
package contradiction

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/events"
	"github.com/fyrsmithlabs/icmemd/internal/reasoning"
	"github.com/fyrsmithlabs/icmemd/internal/vectorindex"
)

var tracer = otel.Tracer("icmemd/contradiction")

const (
	// minContradictionSimilarity is the inclusive normalized-similarity
	// floor for a historical chunk to be worth a reasoning call.
	minContradictionSimilarity = 0.75

	// chunksPerSection bounds reasoning calls per memo section.
	chunksPerSection = 3

	// maxStanceContent truncates section and chunk text in the prompt.
	maxStanceContent = 2000

	memoDocumentType = "ic_memo"
)

// Section identifies a checkable memo section.
type Section string

const (
	SectionMarketAnalysis       Section = "market_analysis"
	SectionTeamAssessment       Section = "team_assessment"
	SectionInvestmentThesis     Section = "investment_thesis"
	SectionCompetitiveLandscape Section = "competitive_landscape"
)

// checkedSections are examined in this order. Sections absent from the memo
// are skipped.
var checkedSections = []Section{
	SectionMarketAnalysis,
	SectionTeamAssessment,
	SectionInvestmentThesis,
	SectionCompetitiveLandscape,
}

// Flag records one detected contradiction between a new memo section and a
// historical memo.
type Flag struct {
	HistoricalMemoID    string `json:"historical_memo_id"`
	HistoricalMemoTitle string `json:"historical_memo_title"`
	Section             string `json:"section"`
	HistoricalStance    string `json:"historical_stance"`
	CurrentStance       string `json:"current_stance"`
	Summary             string `json:"contradiction_summary"`
	Severity            string `json:"severity"`
}

// verdict is the reasoning model's structured answer for one section/chunk
// pair.
type verdict struct {
	HasContradiction bool   `json:"has_contradiction"`
	Section          string `json:"section"`
	HistoricalStance string `json:"historical_stance"`
	CurrentStance    string `json:"current_stance"`
	Summary          string `json:"contradiction_summary"`
	Severity         string `json:"severity"`
}

// Detector finds contradictions between new memo sections and the firm's
// historical memos.
type Detector struct {
	index  vectorindex.Index
	reason reasoning.Client
	events events.Publisher
	logger *zap.Logger
}

// NewDetector creates a contradiction detector. A nil publisher disables
// notifications.
func NewDetector(index vectorindex.Index, reason reasoning.Client, publisher events.Publisher, logger *zap.Logger) (*Detector, error) {
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if reason == nil {
		return nil, fmt.Errorf("reasoning client cannot be nil")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{index: index, reason: reason, events: publisher, logger: logger}, nil
}

// Detect checks the given memo sections against the firm's historical memo
// chunks and returns every affirmative contradiction found. Only search
// failures are errors; reasoning failures degrade to an absent flag.
func (d *Detector) Detect(ctx context.Context, memoID string, sections map[Section]string) ([]Flag, error) {
	ctx, span := tracer.Start(ctx, "contradiction.Detect")
	defer span.End()
	span.SetAttributes(attribute.String("memo_id", memoID))

	var flags []Flag
	for _, section := range checkedSections {
		content := sections[section]
		if content == "" {
			continue
		}

		matches, err := d.index.Search(ctx, content, vectorindex.SearchOptions{
			K:             chunksPerSection,
			MinSimilarity: minContradictionSimilarity,
			DocumentType:  memoDocumentType,
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("searching historical memos for %s: %w", section, err)
		}

		for _, match := range matches {
			flag, ok := d.checkPair(ctx, section, content, match)
			if ok {
				flags = append(flags, flag)
				d.notify(ctx, memoID, flag)
			}
		}
	}

	span.SetAttributes(attribute.Int("flags", len(flags)))
	d.logger.Info("contradiction detection complete",
		zap.String("memo_id", memoID),
		zap.Int("flags", len(flags)),
	)
	return flags, nil
}

// notify publishes a found contradiction. Publishing is best-effort; a
// failure is logged and never affects the detection result.
func (d *Detector) notify(ctx context.Context, memoID string, flag Flag) {
	payload := struct {
		MemoID string `json:"memo_id"`
		Flag
	}{MemoID: memoID, Flag: flag}
	if err := d.events.Publish(ctx, events.SubjectContradictionFound, payload); err != nil {
		d.logger.Warn("publishing contradiction event",
			zap.String("memo_id", memoID),
			zap.Error(err),
		)
	}
}

// checkPair asks the reasoning model whether one section contradicts one
// historical chunk. Any failure is logged and reported as no contradiction.
func (d *Detector) checkPair(ctx context.Context, section Section, content string, match vectorindex.Match) (Flag, bool) {
	prompt := buildPrompt(section, truncate(content, maxStanceContent), match.DocumentTitle, truncate(match.Content, maxStanceContent))

	text, err := d.reason.Generate(ctx, "", prompt, 1000)
	if err != nil {
		d.logger.Warn("contradiction check failed",
			zap.String("section", string(section)),
			zap.String("historical_memo_id", match.DocumentID),
			zap.Error(err),
		)
		return Flag{}, false
	}

	raw, ok := reasoning.ExtractJSONBlock(text)
	if !ok {
		d.logger.Warn("contradiction response not parseable",
			zap.String("section", string(section)),
			zap.String("historical_memo_id", match.DocumentID),
		)
		return Flag{}, false
	}

	var v verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		d.logger.Warn("contradiction response not parseable",
			zap.String("section", string(section)),
			zap.String("historical_memo_id", match.DocumentID),
			zap.Error(err),
		)
		return Flag{}, false
	}
	if !v.HasContradiction {
		return Flag{}, false
	}

	severity := v.Severity
	switch severity {
	case "low", "medium", "high":
	default:
		severity = "medium"
	}
	flagSection := v.Section
	if flagSection == "" {
		flagSection = string(section)
	}

	return Flag{
		HistoricalMemoID:    match.DocumentID,
		HistoricalMemoTitle: match.DocumentTitle,
		Section:             flagSection,
		HistoricalStance:    v.HistoricalStance,
		CurrentStance:       v.CurrentStance,
		Summary:             v.Summary,
		Severity:            severity,
	}, true
}

func buildPrompt(section Section, current, historicalTitle, historical string) string {
	return fmt.Sprintf(`You are analyzing a new IC memo against historical investment decisions.

CURRENT MEMO SECTION (%[1]s):
%[2]s

HISTORICAL MEMO (%[3]s):
%[4]s

Does the current memo make claims or take positions that CONTRADICT the reasoning in the historical memo?

Focus on:
1. Market sizing contradictions (e.g., saying a market is large now but called it small before)
2. Team assessment contradictions (e.g., valuing a background now that was discounted before)
3. Competitive moat contradictions (e.g., believing a moat exists that was dismissed before)
4. Business model contradictions (e.g., supporting a model previously rejected)

If you find a contradiction, respond with JSON:
`+"```json"+`
{
    "has_contradiction": true,
    "section": "%[1]s",
    "historical_stance": "Brief description of historical position",
    "current_stance": "Brief description of current position",
    "contradiction_summary": "Why this is a contradiction",
    "severity": "low|medium|high"
}
`+"```"+`

If no contradiction, respond with:
`+"```json"+`
{
    "has_contradiction": false
}
`+"```", section, current, historicalTitle, historical)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

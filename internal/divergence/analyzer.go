// Package divergence computes post-hoc voting statistics for conviction
// polls, surfacing where a committee secretly disagrees.
package divergence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/polling"
)

var tracer = otel.Tracer("icmemd/divergence")

// ErrNoVotes is returned when analysis is requested for a poll nobody has
// voted in.
var ErrNoVotes = errors.New("no votes submitted yet")

// Thresholds on the max-minus-min divergence score.
const (
	// consensusMax is the largest divergence still read as consensus.
	consensusMax = 2

	// discussionMin is the smallest divergence that demands discussion
	// before the IC meeting.
	discussionMin = 5

	topFlagCount = 5
)

// FlagCount is one aggregated anonymous flag with its vote count.
type FlagCount struct {
	Flag  string `json:"flag"`
	Count int    `json:"count"`
}

// View is the full divergence analysis of one poll.
type View struct {
	PollID     string `json:"poll_id"`
	DealID     string `json:"deal_id"`
	TotalVotes int    `json:"total_votes"`

	// AverageScore is the live mean rounded to two decimals. It is
	// computed from current votes and may differ from the poll's frozen
	// reveal-time average, which truncates.
	AverageScore float64 `json:"average_score"`

	MinScore     int     `json:"min_score"`
	MaxScore     int     `json:"max_score"`
	Divergence   int     `json:"divergence"`
	StdDeviation float64 `json:"std_deviation"`

	// ScoreDistribution always has one bucket per possible score, 1
	// through 10, zero-count buckets included.
	ScoreDistribution map[int]int `json:"score_distribution"`

	TopRedFlags   []FlagCount `json:"top_red_flags"`
	TopGreenFlags []FlagCount `json:"top_green_flags"`

	HasConsensus    bool `json:"has_consensus"`
	NeedsDiscussion bool `json:"needs_discussion"`

	// Votes is present only for a revealed poll or a lead partner.
	Votes []polling.VoteView `json:"votes,omitempty"`
}

// HighDivergencePoll is one entry on the attention list.
type HighDivergencePoll struct {
	PollID        string     `json:"poll_id"`
	DealID        string     `json:"deal_id"`
	Divergence    int        `json:"divergence"`
	AverageScore  *int       `json:"average_score"`
	ICMeetingDate *time.Time `json:"ic_meeting_date"`
}

// Analyzer computes divergence views over a polling store.
type Analyzer struct {
	store  polling.Store
	logger *zap.Logger
}

// NewAnalyzer creates a divergence analyzer.
func NewAnalyzer(store polling.Store, logger *zap.Logger) (*Analyzer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{store: store, logger: logger}, nil
}

// Analyze returns the divergence view of one poll as seen by the
// requester. Lead partners see per-vote detail before reveal; everyone else
// only after.
func (a *Analyzer) Analyze(ctx context.Context, pollID, requesterID string, isLeadPartner bool) (View, error) {
	ctx, span := tracer.Start(ctx, "divergence.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("poll_id", pollID))

	poll, err := a.store.Poll(ctx, pollID)
	if err != nil {
		return View{}, err
	}
	votes, err := a.store.Votes(ctx, pollID)
	if err != nil {
		return View{}, err
	}
	if len(votes) == 0 {
		return View{}, ErrNoVotes
	}

	scores := make([]int, len(votes))
	for i, v := range votes {
		scores[i] = v.ConvictionScore
	}
	minScore, maxScore := scores[0], scores[0]
	sum := 0
	for _, s := range scores {
		sum += s
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}
	div := maxScore - minScore
	mean := float64(sum) / float64(len(scores))

	stdDev := 0.0
	if len(scores) > 1 {
		var sq float64
		for _, s := range scores {
			d := float64(s) - mean
			sq += d * d
		}
		stdDev = math.Sqrt(sq / float64(len(scores)-1))
	}

	dist := make(map[int]int, polling.MaxScore)
	for i := polling.MinScore; i <= polling.MaxScore; i++ {
		dist[i] = 0
	}
	for _, s := range scores {
		dist[s]++
	}

	var redFlags, greenFlags []string
	for _, v := range votes {
		redFlags = append(redFlags, v.RedFlags...)
		greenFlags = append(greenFlags, v.GreenFlags...)
	}

	view := View{
		PollID:            poll.ID,
		DealID:            poll.DealID,
		TotalVotes:        len(votes),
		AverageScore:      round2(mean),
		MinScore:          minScore,
		MaxScore:          maxScore,
		Divergence:        div,
		StdDeviation:      round2(stdDev),
		ScoreDistribution: dist,
		TopRedFlags:       topFlags(redFlags, topFlagCount),
		TopGreenFlags:     topFlags(greenFlags, topFlagCount),
		HasConsensus:      div <= consensusMax,
		NeedsDiscussion:   div >= discussionMin,
	}

	if poll.IsRevealed || isLeadPartner {
		view.Votes = make([]polling.VoteView, 0, len(votes))
		for _, v := range votes {
			view.Votes = append(view.Votes, v.View(poll.IsRevealed, requesterID))
		}
	}

	span.SetAttributes(attribute.Int("divergence", div))
	return view, nil
}

// HighDivergence lists revealed polls whose frozen divergence is at least
// minDivergence, most divergent first.
func (a *Analyzer) HighDivergence(ctx context.Context, minDivergence, limit int) ([]HighDivergencePoll, error) {
	ctx, span := tracer.Start(ctx, "divergence.HighDivergence")
	defer span.End()

	if minDivergence < 0 {
		minDivergence = 0
	}
	if limit <= 0 {
		limit = 10
	}

	polls, err := a.store.RevealedPolls(ctx, minDivergence, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]HighDivergencePoll, 0, len(polls))
	for _, p := range polls {
		out = append(out, HighDivergencePoll{
			PollID:        p.ID,
			DealID:        p.DealID,
			Divergence:    *p.DivergenceScore,
			AverageScore:  p.AverageScore,
			ICMeetingDate: p.ICMeetingDate,
		})
	}
	return out, nil
}

// topFlags counts flags and returns the n most common. Ties keep
// first-appearance order.
func topFlags(flags []string, n int) []FlagCount {
	if len(flags) == 0 {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for _, f := range flags {
		if counts[f] == 0 {
			order = append(order, f)
		}
		counts[f]++
	}

	out := make([]FlagCount, 0, len(order))
	for _, f := range order {
		out = append(out, FlagCount{Flag: f, Count: counts[f]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package divergence

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/polling"
	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

func firmCtx(t *testing.T) context.Context {
	t.Helper()
	return tenant.ContextWithFirm(context.Background(), &tenant.FirmInfo{FirmID: "firm-a", UserID: "user-1"})
}

type fixture struct {
	engine   *polling.Engine
	analyzer *Analyzer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := polling.NewMemoryStore()
	engine, err := polling.NewEngine(store, nil, zap.NewNop())
	require.NoError(t, err)
	analyzer, err := NewAnalyzer(store, zap.NewNop())
	require.NoError(t, err)
	return &fixture{engine: engine, analyzer: analyzer}
}

func (f *fixture) pollWithScores(t *testing.T, ctx context.Context, scores []int) polling.Poll {
	t.Helper()
	poll, err := f.engine.CreatePoll(ctx, polling.CreatePollRequest{DealID: "deal-1", Title: "conviction"})
	require.NoError(t, err)
	for i, score := range scores {
		_, err := f.engine.SubmitVote(ctx, poll.ID, fmt.Sprintf("voter-%d", i), polling.VoteRequest{ConvictionScore: score})
		require.NoError(t, err)
	}
	return poll
}

func TestAnalyze_Statistics(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{4, 9, 8})

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)

	assert.Equal(t, 3, view.TotalVotes)
	assert.Equal(t, 4, view.MinScore)
	assert.Equal(t, 9, view.MaxScore)
	assert.Equal(t, 5, view.Divergence)
	assert.InDelta(t, 7.0, view.AverageScore, 1e-9)
	// Sample standard deviation of {4, 9, 8}.
	assert.InDelta(t, 2.65, view.StdDeviation, 1e-9)
	assert.False(t, view.HasConsensus)
	assert.True(t, view.NeedsDiscussion)
}

func TestAnalyze_LiveMeanRoundsWhereFrozenAverageTruncates(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{4, 9, 9})

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)
	assert.InDelta(t, 7.33, view.AverageScore, 1e-9)

	revealed, err := f.engine.Reveal(ctx, poll.ID, "lead")
	require.NoError(t, err)
	require.NotNil(t, revealed.AverageScore)
	assert.Equal(t, 7, *revealed.AverageScore)
}

func TestAnalyze_DistributionCoversAllBuckets(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{5, 5, 8})

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)

	require.Len(t, view.ScoreDistribution, 10)
	assert.Equal(t, 2, view.ScoreDistribution[5])
	assert.Equal(t, 1, view.ScoreDistribution[8])
	assert.Equal(t, 0, view.ScoreDistribution[1])
	assert.Equal(t, 0, view.ScoreDistribution[10])
}

func TestAnalyze_Consensus(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{7, 8, 9})

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Divergence)
	assert.True(t, view.HasConsensus)
	assert.False(t, view.NeedsDiscussion)
}

func TestAnalyze_SingleVoteHasZeroStdDev(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{6})

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)
	assert.Zero(t, view.StdDeviation)
	assert.Zero(t, view.Divergence)
	assert.True(t, view.HasConsensus)
}

func TestAnalyze_TopFlags(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll, err := f.engine.CreatePoll(ctx, polling.CreatePollRequest{DealID: "deal-1", Title: "flags"})
	require.NoError(t, err)

	flagSets := [][]string{
		{"market timing", "team risk"},
		{"market timing"},
		{"market timing", "valuation", "team risk"},
		{"valuation", "burn rate", "churn", "moat", "gtm"},
	}
	for i, flags := range flagSets {
		_, err := f.engine.SubmitVote(ctx, poll.ID, fmt.Sprintf("voter-%d", i), polling.VoteRequest{
			ConvictionScore: 5,
			RedFlags:        flags,
		})
		require.NoError(t, err)
	}

	view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
	require.NoError(t, err)

	require.Len(t, view.TopRedFlags, 5)
	assert.Equal(t, FlagCount{Flag: "market timing", Count: 3}, view.TopRedFlags[0])
	assert.Equal(t, FlagCount{Flag: "team risk", Count: 2}, view.TopRedFlags[1])
	assert.Equal(t, FlagCount{Flag: "valuation", Count: 2}, view.TopRedFlags[2])
	assert.Empty(t, view.TopGreenFlags)
}

func TestAnalyze_VoteDetailGating(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)
	poll := f.pollWithScores(t, ctx, []int{4, 9})

	t.Run("hidden from regular members before reveal", func(t *testing.T) {
		view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
		require.NoError(t, err)
		assert.Nil(t, view.Votes)
	})

	t.Run("lead partner sees anonymous votes before reveal", func(t *testing.T) {
		view, err := f.analyzer.Analyze(ctx, poll.ID, "lead", true)
		require.NoError(t, err)
		require.Len(t, view.Votes, 2)
		for _, v := range view.Votes {
			assert.Empty(t, v.VoterID)
		}
	})

	t.Run("everyone sees identified votes after reveal", func(t *testing.T) {
		_, err := f.engine.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)

		view, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
		require.NoError(t, err)
		require.Len(t, view.Votes, 2)
		for _, v := range view.Votes {
			assert.NotEmpty(t, v.VoterID)
		}
	})
}

func TestAnalyze_Errors(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)

	t.Run("unknown poll", func(t *testing.T) {
		_, err := f.analyzer.Analyze(ctx, "nope", "observer", false)
		assert.ErrorIs(t, err, polling.ErrPollNotFound)
	})

	t.Run("no votes", func(t *testing.T) {
		poll := f.pollWithScores(t, ctx, nil)
		_, err := f.analyzer.Analyze(ctx, poll.ID, "observer", false)
		assert.ErrorIs(t, err, ErrNoVotes)
	})
}

func TestHighDivergence(t *testing.T) {
	ctx := firmCtx(t)
	f := newFixture(t)

	reveal := func(scores []int) polling.Poll {
		poll := f.pollWithScores(t, ctx, scores)
		revealed, err := f.engine.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)
		return revealed
	}

	split := reveal([]int{1, 10})   // divergence 9
	spread := reveal([]int{3, 8})   // divergence 5
	aligned := reveal([]int{7, 8})  // divergence 1
	_ = f.pollWithScores(t, ctx, []int{1, 9}) // never revealed

	got, err := f.analyzer.HighDivergence(ctx, 4, 10)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, split.ID, got[0].PollID)
	assert.Equal(t, 9, got[0].Divergence)
	assert.Equal(t, spread.ID, got[1].PollID)
	assert.Equal(t, 5, got[1].Divergence)
	for _, p := range got {
		assert.NotEqual(t, aligned.ID, p.PollID)
	}
}

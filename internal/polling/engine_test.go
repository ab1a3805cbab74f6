package polling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

func firmCtx(t *testing.T, firmID string) context.Context {
	t.Helper()
	return tenant.ContextWithFirm(context.Background(), &tenant.FirmInfo{FirmID: firmID, UserID: "user-1"})
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)
	return e
}

func createTestPoll(t *testing.T, ctx context.Context, e *Engine) Poll {
	t.Helper()
	poll, err := e.CreatePoll(ctx, CreatePollRequest{
		DealID: "deal-1",
		Title:  "Series A conviction check",
	})
	require.NoError(t, err)
	return poll
}

func TestRevealedPollsOrderDeterministicOnTies(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	store := NewMemoryStore()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	div := 6
	for _, p := range []Poll{
		{ID: "poll-c", DealID: "d", IsRevealed: true, DivergenceScore: &div, CreatedAt: base},
		{ID: "poll-a", DealID: "d", IsRevealed: true, DivergenceScore: &div, CreatedAt: base},
		{ID: "poll-b", DealID: "d", IsRevealed: true, DivergenceScore: &div, CreatedAt: base.Add(time.Hour)},
	} {
		require.NoError(t, store.CreatePoll(ctx, p))
	}

	// Newer poll first on equal divergence, then poll ID.
	for i := 0; i < 5; i++ {
		polls, err := store.RevealedPolls(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, polls, 3)
		assert.Equal(t, "poll-b", polls[0].ID)
		assert.Equal(t, "poll-a", polls[1].ID)
		assert.Equal(t, "poll-c", polls[2].ID)
	}
}

func TestCreatePoll(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	e := newTestEngine(t)

	t.Run("creates active blind poll", func(t *testing.T) {
		poll := createTestPoll(t, ctx, e)
		assert.NotEmpty(t, poll.ID)
		assert.True(t, poll.IsActive)
		assert.False(t, poll.IsRevealed)
		assert.Nil(t, poll.AverageScore)
		assert.Nil(t, poll.DivergenceScore)
	})

	t.Run("rejects missing deal", func(t *testing.T) {
		_, err := e.CreatePoll(ctx, CreatePollRequest{Title: "x"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		_, err := e.CreatePoll(ctx, CreatePollRequest{DealID: "deal-1"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects close time in the past", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		_, err := e.CreatePoll(ctx, CreatePollRequest{DealID: "deal-1", Title: "x", ClosesAt: &past})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("requires firm context", func(t *testing.T) {
		_, err := e.CreatePoll(context.Background(), CreatePollRequest{DealID: "deal-1", Title: "x"})
		assert.ErrorIs(t, err, tenant.ErrMissingFirm)
	})
}

func TestSubmitVote(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	e := newTestEngine(t)
	poll := createTestPoll(t, ctx, e)

	t.Run("accepts valid vote", func(t *testing.T) {
		vote, err := e.SubmitVote(ctx, poll.ID, "alice", VoteRequest{
			ConvictionScore: 7,
			RedFlags:        []string{"market timing"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, vote.ID)
		assert.Equal(t, 7, vote.ConvictionScore)
	})

	t.Run("rejects scores outside 1..10", func(t *testing.T) {
		for _, score := range []int{0, 11, -3} {
			_, err := e.SubmitVote(ctx, poll.ID, "bob", VoteRequest{ConvictionScore: score})
			assert.ErrorIs(t, err, ErrValidation, "score %d", score)
		}
	})

	t.Run("unknown poll", func(t *testing.T) {
		_, err := e.SubmitVote(ctx, "nope", "bob", VoteRequest{ConvictionScore: 5})
		assert.ErrorIs(t, err, ErrPollNotFound)
	})

	t.Run("resubmission replaces keeping identity and submission time", func(t *testing.T) {
		first, err := e.SubmitVote(ctx, poll.ID, "carol", VoteRequest{ConvictionScore: 3})
		require.NoError(t, err)

		second, err := e.SubmitVote(ctx, poll.ID, "carol", VoteRequest{ConvictionScore: 9})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.SubmittedAt, second.SubmittedAt)
		assert.Equal(t, 9, second.ConvictionScore)

		stored, ok, err := e.VoterVote(ctx, poll.ID, "carol")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 9, stored.ConvictionScore)
	})

	t.Run("rejects vote after close time", func(t *testing.T) {
		closes := time.Now().Add(time.Minute)
		timed, err := e.CreatePoll(ctx, CreatePollRequest{DealID: "deal-1", Title: "timed", ClosesAt: &closes})
		require.NoError(t, err)

		e.now = func() time.Time { return closes.Add(time.Second) }
		defer func() { e.now = time.Now }()

		_, err = e.SubmitVote(ctx, timed.ID, "dave", VoteRequest{ConvictionScore: 5})
		assert.ErrorIs(t, err, ErrPollClosed)
	})
}

func TestReveal(t *testing.T) {
	ctx := firmCtx(t, "firm-a")

	t.Run("freezes truncated average and divergence", func(t *testing.T) {
		e := newTestEngine(t)
		poll := createTestPoll(t, ctx, e)
		for i, score := range []int{4, 9, 8} {
			_, err := e.SubmitVote(ctx, poll.ID, fmt.Sprintf("voter-%d", i), VoteRequest{ConvictionScore: score})
			require.NoError(t, err)
		}

		revealed, err := e.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)

		assert.True(t, revealed.IsRevealed)
		assert.False(t, revealed.IsActive)
		require.NotNil(t, revealed.AverageScore)
		require.NotNil(t, revealed.DivergenceScore)
		assert.Equal(t, 7, *revealed.AverageScore)
		assert.Equal(t, 5, *revealed.DivergenceScore)
	})

	t.Run("second reveal fails and scores stay frozen", func(t *testing.T) {
		e := newTestEngine(t)
		poll := createTestPoll(t, ctx, e)
		_, err := e.SubmitVote(ctx, poll.ID, "alice", VoteRequest{ConvictionScore: 6})
		require.NoError(t, err)

		first, err := e.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)

		_, err = e.Reveal(ctx, poll.ID, "lead")
		assert.ErrorIs(t, err, ErrAlreadyRevealed)

		after, err := e.GetPoll(ctx, poll.ID)
		require.NoError(t, err)
		assert.Equal(t, *first.AverageScore, *after.AverageScore)
		assert.Equal(t, *first.DivergenceScore, *after.DivergenceScore)
	})

	t.Run("reveal closes the poll to further votes", func(t *testing.T) {
		e := newTestEngine(t)
		poll := createTestPoll(t, ctx, e)
		_, err := e.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)

		_, err = e.SubmitVote(ctx, poll.ID, "late", VoteRequest{ConvictionScore: 5})
		assert.ErrorIs(t, err, ErrPollClosed)
	})

	t.Run("reveal with no votes leaves scores absent", func(t *testing.T) {
		e := newTestEngine(t)
		poll := createTestPoll(t, ctx, e)

		revealed, err := e.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)
		assert.True(t, revealed.IsRevealed)
		assert.Nil(t, revealed.AverageScore)
		assert.Nil(t, revealed.DivergenceScore)
	})
}

func TestVoteVisibility(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	e := newTestEngine(t)
	poll := createTestPoll(t, ctx, e)

	_, err := e.SubmitVote(ctx, poll.ID, "alice", VoteRequest{
		ConvictionScore: 8,
		RedFlags:        []string{"valuation"},
		RedFlagNotes:    "priced for perfection",
		PrivateNotes:    "my own doubts",
	})
	require.NoError(t, err)
	_, err = e.SubmitVote(ctx, poll.ID, "bob", VoteRequest{ConvictionScore: 3})
	require.NoError(t, err)

	t.Run("blind poll hides identity and notes from others", func(t *testing.T) {
		views, err := e.PollVotes(ctx, poll.ID, "bob")
		require.NoError(t, err)
		require.Len(t, views, 2)

		var aliceView VoteView
		for _, v := range views {
			if v.ConvictionScore == 8 {
				aliceView = v
			}
		}
		assert.Empty(t, aliceView.VoterID)
		assert.Empty(t, aliceView.RedFlagNotes)
		assert.Empty(t, aliceView.PrivateNotes)
		// Anonymous flags are always visible.
		assert.Equal(t, []string{"valuation"}, aliceView.RedFlags)
	})

	t.Run("voter sees own vote in full", func(t *testing.T) {
		views, err := e.PollVotes(ctx, poll.ID, "alice")
		require.NoError(t, err)

		var own VoteView
		for _, v := range views {
			if v.ConvictionScore == 8 {
				own = v
			}
		}
		assert.Equal(t, "alice", own.VoterID)
		assert.Equal(t, "priced for perfection", own.RedFlagNotes)
		assert.Equal(t, "my own doubts", own.PrivateNotes)
	})

	t.Run("reveal exposes identity and notes but not private notes", func(t *testing.T) {
		_, err := e.Reveal(ctx, poll.ID, "lead")
		require.NoError(t, err)

		views, err := e.PollVotes(ctx, poll.ID, "bob")
		require.NoError(t, err)

		var aliceView VoteView
		for _, v := range views {
			if v.ConvictionScore == 8 {
				aliceView = v
			}
		}
		assert.Equal(t, "alice", aliceView.VoterID)
		assert.Equal(t, "priced for perfection", aliceView.RedFlagNotes)
		assert.Empty(t, aliceView.PrivateNotes)
	})
}

func TestFirmIsolation(t *testing.T) {
	e := newTestEngine(t)
	ctxA := firmCtx(t, "firm-a")
	ctxB := firmCtx(t, "firm-b")

	poll := createTestPoll(t, ctxA, e)

	_, err := e.GetPoll(ctxB, poll.ID)
	assert.ErrorIs(t, err, ErrPollNotFound)

	_, err = e.SubmitVote(ctxB, poll.ID, "intruder", VoteRequest{ConvictionScore: 5})
	assert.ErrorIs(t, err, ErrPollNotFound)

	_, err = e.Reveal(ctxB, poll.ID, "intruder")
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestConcurrentVoting(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	e := newTestEngine(t)
	poll := createTestPoll(t, ctx, e)

	const voters = 20
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := e.SubmitVote(ctx, poll.ID, fmt.Sprintf("voter-%d", n), VoteRequest{
				ConvictionScore: n%10 + 1,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	views, err := e.PollVotes(ctx, poll.ID, "observer")
	require.NoError(t, err)
	assert.Len(t, views, voters)
}

func TestPollsForDeal(t *testing.T) {
	ctx := firmCtx(t, "firm-a")
	e := newTestEngine(t)

	times := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range times {
		ts := ts
		e.now = func() time.Time { return ts }
		_, err := e.CreatePoll(ctx, CreatePollRequest{DealID: "deal-1", Title: ts.Format(time.DateOnly)})
		require.NoError(t, err)
	}
	e.now = time.Now
	_, err := e.CreatePoll(ctx, CreatePollRequest{DealID: "deal-2", Title: "other deal"})
	require.NoError(t, err)

	polls, err := e.PollsForDeal(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, "2026-02-01", polls[0].Title)
	assert.Equal(t, "2026-01-01", polls[1].Title)
}

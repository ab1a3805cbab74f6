package polling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/icmemd/internal/events"
)

var tracer = otel.Tracer("icmemd/polling")

var (
	pollsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmemd_polls_created_total",
		Help: "Number of conviction polls created.",
	})
	votesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icmemd_poll_votes_total",
		Help: "Number of conviction votes submitted.",
	}, []string{"kind"})
	pollsRevealed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icmemd_polls_revealed_total",
		Help: "Number of polls revealed.",
	})
)

// CreatePollRequest describes a new poll.
type CreatePollRequest struct {
	DealID          string
	Title           string
	Description     string
	RevealThreshold int
	ClosesAt        *time.Time
	ICMeetingDate   *time.Time
}

// VoteRequest is a member's conviction vote input.
type VoteRequest struct {
	ConvictionScore int
	RedFlags        []string
	RedFlagNotes    string
	GreenFlags      []string
	GreenFlagNotes  string
	PrivateNotes    string
}

// Engine implements the blind polling workflow over a Store.
type Engine struct {
	store  Store
	events events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a polling engine. publisher may be nil for no event
// delivery.
func NewEngine(store Store, publisher events.Publisher, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, events: publisher, logger: logger, now: time.Now}, nil
}

// CreatePoll opens a new blind poll for a deal.
func (e *Engine) CreatePoll(ctx context.Context, req CreatePollRequest) (Poll, error) {
	ctx, span := tracer.Start(ctx, "polling.CreatePoll")
	defer span.End()

	if req.DealID == "" {
		return Poll{}, fmt.Errorf("%w: deal id required", ErrValidation)
	}
	if req.Title == "" {
		return Poll{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if req.RevealThreshold < 0 {
		return Poll{}, fmt.Errorf("%w: reveal threshold cannot be negative", ErrValidation)
	}
	if req.ClosesAt != nil && !req.ClosesAt.After(e.now()) {
		return Poll{}, fmt.Errorf("%w: close time must be in the future", ErrValidation)
	}

	now := e.now()
	poll := Poll{
		ID:              uuid.NewString(),
		DealID:          req.DealID,
		Title:           req.Title,
		Description:     req.Description,
		IsActive:        true,
		RevealThreshold: req.RevealThreshold,
		OpensAt:         now,
		ClosesAt:        req.ClosesAt,
		ICMeetingDate:   req.ICMeetingDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreatePoll(ctx, poll); err != nil {
		span.RecordError(err)
		return Poll{}, fmt.Errorf("storing poll: %w", err)
	}

	pollsCreated.Inc()
	span.SetAttributes(attribute.String("poll_id", poll.ID))
	e.logger.Info("poll created",
		zap.String("poll_id", poll.ID),
		zap.String("deal_id", poll.DealID),
	)

	if err := e.events.Publish(ctx, events.SubjectPollCreated, poll); err != nil {
		e.logger.Warn("poll created event not delivered", zap.Error(err))
	}
	return poll, nil
}

// SubmitVote records or replaces the voter's conviction vote. Resubmission
// keeps the original submission time and bumps the update time.
func (e *Engine) SubmitVote(ctx context.Context, pollID, voterID string, req VoteRequest) (Vote, error) {
	ctx, span := tracer.Start(ctx, "polling.SubmitVote")
	defer span.End()
	span.SetAttributes(attribute.String("poll_id", pollID))

	if voterID == "" {
		return Vote{}, fmt.Errorf("%w: voter id required", ErrValidation)
	}
	if req.ConvictionScore < MinScore || req.ConvictionScore > MaxScore {
		return Vote{}, fmt.Errorf("%w: conviction score must be between %d and %d", ErrValidation, MinScore, MaxScore)
	}

	poll, err := e.store.Poll(ctx, pollID)
	if err != nil {
		return Vote{}, err
	}
	if !poll.IsActive {
		return Vote{}, ErrPollClosed
	}
	if poll.ClosesAt != nil && e.now().After(*poll.ClosesAt) {
		return Vote{}, ErrPollClosed
	}

	now := e.now()
	vote := Vote{
		ID:              uuid.NewString(),
		PollID:          pollID,
		VoterID:         voterID,
		ConvictionScore: req.ConvictionScore,
		RedFlags:        req.RedFlags,
		RedFlagNotes:    req.RedFlagNotes,
		GreenFlags:      req.GreenFlags,
		GreenFlagNotes:  req.GreenFlagNotes,
		PrivateNotes:    req.PrivateNotes,
		SubmittedAt:     now,
		UpdatedAt:       now,
	}

	kind := "new"
	if prev, ok, err := e.store.VoterVote(ctx, pollID, voterID); err != nil {
		return Vote{}, err
	} else if ok {
		vote.ID = prev.ID
		vote.SubmittedAt = prev.SubmittedAt
		kind = "update"
	}

	if err := e.store.UpsertVote(ctx, vote); err != nil {
		span.RecordError(err)
		return Vote{}, fmt.Errorf("storing vote: %w", err)
	}

	votesSubmitted.WithLabelValues(kind).Inc()
	e.logger.Info("vote submitted",
		zap.String("poll_id", pollID),
		zap.String("kind", kind),
	)

	e.logRevealReadiness(ctx, poll)
	return vote, nil
}

// logRevealReadiness notes when the vote count reaches the poll's
// threshold. Reveal itself stays manual.
func (e *Engine) logRevealReadiness(ctx context.Context, poll Poll) {
	if poll.RevealThreshold <= 0 || poll.IsRevealed {
		return
	}
	votes, err := e.store.Votes(ctx, poll.ID)
	if err != nil {
		return
	}
	if len(votes) >= poll.RevealThreshold {
		e.logger.Info("poll reached reveal threshold",
			zap.String("poll_id", poll.ID),
			zap.Int("votes", len(votes)),
			zap.Int("threshold", poll.RevealThreshold),
		)
	}
}

// Reveal makes the poll's votes visible and freezes its summary scores.
// The frozen average is the integer-truncated mean; divergence is max minus
// min. A poll with no votes reveals with both scores absent. Reveal is
// one-way.
func (e *Engine) Reveal(ctx context.Context, pollID, revealedBy string) (Poll, error) {
	ctx, span := tracer.Start(ctx, "polling.Reveal")
	defer span.End()
	span.SetAttributes(attribute.String("poll_id", pollID))

	poll, err := e.store.MutatePoll(ctx, pollID, func(p *Poll, votes []Vote) error {
		if p.IsRevealed {
			return ErrAlreadyRevealed
		}
		p.IsRevealed = true
		p.IsActive = false
		p.UpdatedAt = e.now()

		if len(votes) > 0 {
			sum, min, max := 0, votes[0].ConvictionScore, votes[0].ConvictionScore
			for _, v := range votes {
				sum += v.ConvictionScore
				if v.ConvictionScore < min {
					min = v.ConvictionScore
				}
				if v.ConvictionScore > max {
					max = v.ConvictionScore
				}
			}
			avg := sum / len(votes)
			div := max - min
			p.AverageScore = &avg
			p.DivergenceScore = &div
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Poll{}, err
	}

	pollsRevealed.Inc()
	e.logger.Info("poll revealed",
		zap.String("poll_id", pollID),
		zap.String("revealed_by", revealedBy),
	)

	if err := e.events.Publish(ctx, events.SubjectPollRevealed, poll); err != nil {
		e.logger.Warn("poll revealed event not delivered", zap.Error(err))
	}
	return poll, nil
}

// GetPoll returns a poll. Frozen scores are only present after reveal, so
// no further redaction is needed.
func (e *Engine) GetPoll(ctx context.Context, pollID string) (Poll, error) {
	return e.store.Poll(ctx, pollID)
}

// PollsForDeal returns a deal's polls, newest first.
func (e *Engine) PollsForDeal(ctx context.Context, dealID string) ([]Poll, error) {
	return e.store.PollsForDeal(ctx, dealID)
}

// PollVotes returns the poll's votes as seen by the requester. Identity and
// notes stay hidden until reveal, except on the requester's own vote.
func (e *Engine) PollVotes(ctx context.Context, pollID, requesterID string) ([]VoteView, error) {
	poll, err := e.store.Poll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	votes, err := e.store.Votes(ctx, pollID)
	if err != nil {
		return nil, err
	}

	views := make([]VoteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, v.View(poll.IsRevealed, requesterID))
	}
	return views, nil
}

// VoterVote returns the voter's own vote in full, with ok=false when they
// have not voted.
func (e *Engine) VoterVote(ctx context.Context, pollID, voterID string) (Vote, bool, error) {
	return e.store.VoterVote(ctx, pollID, voterID)
}

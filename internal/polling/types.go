// Package polling runs blind conviction polls for investment committee
// deals.
//
// A poll collects 1-10 conviction scores plus anonymous red and green flags
// from committee members. Votes stay blind until a one-way reveal, which
// freezes the poll's summary scores permanently. All access is firm-scoped
// through the request context.
package polling

import (
	"errors"
	"time"
)

var (
	// ErrPollNotFound is returned when a poll does not exist for the
	// context firm. Missing and foreign polls are indistinguishable.
	ErrPollNotFound = errors.New("poll not found")

	// ErrPollClosed is returned when voting on an inactive or expired poll.
	ErrPollClosed = errors.New("poll is no longer accepting votes")

	// ErrAlreadyRevealed is returned on a second reveal attempt. Reveal is
	// one-way and its frozen scores never change.
	ErrAlreadyRevealed = errors.New("poll already revealed")

	// ErrValidation is returned for malformed poll or vote input.
	ErrValidation = errors.New("invalid input")
)

// MinScore and MaxScore bound conviction scores.
const (
	MinScore = 1
	MaxScore = 10
)

// Poll is a blind conviction polling session for a deal.
type Poll struct {
	ID          string
	DealID      string
	Title       string
	Description string

	IsActive   bool
	IsRevealed bool

	// RevealThreshold is the minimum vote count before reveal is
	// considered ready. It never triggers an automatic reveal; reveal is
	// always an explicit action.
	RevealThreshold int

	OpensAt       time.Time
	ClosesAt      *time.Time
	ICMeetingDate *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// AverageScore and DivergenceScore are frozen at reveal and nil
	// before it. AverageScore is the integer-truncated mean; divergence
	// is max score minus min score.
	AverageScore    *int
	DivergenceScore *int
}

// Vote is one member's full conviction vote, including fields that stay
// hidden while the poll is blind.
type Vote struct {
	ID      string
	PollID  string
	VoterID string

	ConvictionScore int

	RedFlags     []string
	RedFlagNotes string

	GreenFlags     []string
	GreenFlagNotes string

	// PrivateNotes are visible only to the voter, revealed or not.
	PrivateNotes string

	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// VoteView is a vote as shown to a requester, with identity and notes
// redacted while the poll is blind. Scores and flags are always visible;
// they are anonymous by design.
type VoteView struct {
	ID              string
	PollID          string
	ConvictionScore int
	RedFlags        []string
	GreenFlags      []string
	SubmittedAt     time.Time

	// Populated only when the poll is revealed or the requester is the
	// voter.
	VoterID        string
	RedFlagNotes   string
	GreenFlagNotes string

	// PrivateNotes appear only on the voter's own view.
	PrivateNotes string
}

// View redacts a vote for the given requester.
func (v Vote) View(revealed bool, requesterID string) VoteView {
	out := VoteView{
		ID:              v.ID,
		PollID:          v.PollID,
		ConvictionScore: v.ConvictionScore,
		RedFlags:        v.RedFlags,
		GreenFlags:      v.GreenFlags,
		SubmittedAt:     v.SubmittedAt,
	}
	if revealed || v.VoterID == requesterID {
		out.VoterID = v.VoterID
		out.RedFlagNotes = v.RedFlagNotes
		out.GreenFlagNotes = v.GreenFlagNotes
	}
	if v.VoterID == requesterID {
		out.PrivateNotes = v.PrivateNotes
	}
	return out
}

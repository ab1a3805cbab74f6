package polling

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

// Store persists polls and votes, scoped to the context firm. Every method
// fails closed without a firm identity in ctx.
type Store interface {
	// CreatePoll stores a new poll.
	CreatePoll(ctx context.Context, poll Poll) error

	// Poll returns one poll, or ErrPollNotFound.
	Poll(ctx context.Context, pollID string) (Poll, error)

	// PollsForDeal returns a deal's polls, newest first.
	PollsForDeal(ctx context.Context, dealID string) ([]Poll, error)

	// RevealedPolls returns revealed polls with a frozen divergence of at
	// least minDivergence, highest divergence first, truncated to limit.
	RevealedPolls(ctx context.Context, minDivergence, limit int) ([]Poll, error)

	// MutatePoll applies fn to the poll and its votes atomically. fn sees
	// a mutable poll and a read-only snapshot of its votes; an fn error
	// aborts the mutation. Returns the poll after mutation.
	MutatePoll(ctx context.Context, pollID string, fn func(poll *Poll, votes []Vote) error) (Poll, error)

	// UpsertVote stores a vote, replacing the voter's previous vote for
	// the same poll. One vote per (poll, voter) always holds.
	UpsertVote(ctx context.Context, vote Vote) error

	// Votes returns all votes for a poll, oldest submission first.
	Votes(ctx context.Context, pollID string) ([]Vote, error)

	// VoterVote returns one voter's vote, with ok=false when absent.
	VoterVote(ctx context.Context, pollID, voterID string) (Vote, bool, error)
}

// firmPolls is one firm's polls and votes. Vote uniqueness per (poll,
// voter) is the map key, not a check.
type firmPolls struct {
	polls map[string]Poll
	votes map[string]map[string]Vote
}

// MemoryStore is an in-process Store. A single RWMutex guards all firms;
// reveal freezing happens under the write lock, so readers never observe a
// partially revealed poll.
type MemoryStore struct {
	mu    sync.RWMutex
	firms map[string]*firmPolls
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{firms: make(map[string]*firmPolls)}
}

func (s *MemoryStore) firm(ctx context.Context) (string, error) {
	firm, err := tenant.FromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := firm.Validate(); err != nil {
		return "", err
	}
	return firm.FirmID, nil
}

// locked returns the firm's bucket, creating it when absent. Callers hold
// s.mu.
func (s *MemoryStore) locked(firmID string) *firmPolls {
	f, ok := s.firms[firmID]
	if !ok {
		f = &firmPolls{
			polls: make(map[string]Poll),
			votes: make(map[string]map[string]Vote),
		}
		s.firms[firmID] = f
	}
	return f
}

func (s *MemoryStore) CreatePoll(ctx context.Context, poll Poll) error {
	firmID, err := s.firm(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked(firmID).polls[poll.ID] = poll
	return nil
}

func (s *MemoryStore) Poll(ctx context.Context, pollID string) (Poll, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return Poll{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[firmID]
	if !ok {
		return Poll{}, ErrPollNotFound
	}
	poll, ok := f.polls[pollID]
	if !ok {
		return Poll{}, ErrPollNotFound
	}
	return poll, nil
}

func (s *MemoryStore) PollsForDeal(ctx context.Context, dealID string) ([]Poll, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[firmID]
	if !ok {
		return nil, nil
	}

	var polls []Poll
	for _, p := range f.polls {
		if p.DealID == dealID {
			polls = append(polls, p)
		}
	}
	sort.Slice(polls, func(i, j int) bool {
		return polls[i].CreatedAt.After(polls[j].CreatedAt)
	})
	return polls, nil
}

func (s *MemoryStore) RevealedPolls(ctx context.Context, minDivergence, limit int) ([]Poll, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[firmID]
	if !ok {
		return nil, nil
	}

	var polls []Poll
	for _, p := range f.polls {
		if !p.IsRevealed || p.DivergenceScore == nil {
			continue
		}
		if *p.DivergenceScore < minDivergence {
			continue
		}
		polls = append(polls, p)
	}
	sort.Slice(polls, func(i, j int) bool {
		if *polls[i].DivergenceScore != *polls[j].DivergenceScore {
			return *polls[i].DivergenceScore > *polls[j].DivergenceScore
		}
		if !polls[i].CreatedAt.Equal(polls[j].CreatedAt) {
			return polls[i].CreatedAt.After(polls[j].CreatedAt)
		}
		return polls[i].ID < polls[j].ID
	})
	if limit > 0 && len(polls) > limit {
		polls = polls[:limit]
	}
	return polls, nil
}

func (s *MemoryStore) MutatePoll(ctx context.Context, pollID string, fn func(poll *Poll, votes []Vote) error) (Poll, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return Poll{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.firms[firmID]
	if !ok {
		return Poll{}, ErrPollNotFound
	}
	poll, ok := f.polls[pollID]
	if !ok {
		return Poll{}, ErrPollNotFound
	}

	votes := votesLocked(f, pollID)
	if err := fn(&poll, votes); err != nil {
		return Poll{}, err
	}
	f.polls[pollID] = poll
	return poll, nil
}

func (s *MemoryStore) UpsertVote(ctx context.Context, vote Vote) error {
	firmID, err := s.firm(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.locked(firmID)
	if _, ok := f.polls[vote.PollID]; !ok {
		return ErrPollNotFound
	}
	byVoter, ok := f.votes[vote.PollID]
	if !ok {
		byVoter = make(map[string]Vote)
		f.votes[vote.PollID] = byVoter
	}
	byVoter[vote.VoterID] = vote
	return nil
}

func (s *MemoryStore) Votes(ctx context.Context, pollID string) ([]Vote, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[firmID]
	if !ok {
		return nil, ErrPollNotFound
	}
	if _, ok := f.polls[pollID]; !ok {
		return nil, ErrPollNotFound
	}
	return votesLocked(f, pollID), nil
}

func (s *MemoryStore) VoterVote(ctx context.Context, pollID, voterID string) (Vote, bool, error) {
	firmID, err := s.firm(ctx)
	if err != nil {
		return Vote{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.firms[firmID]
	if !ok {
		return Vote{}, false, ErrPollNotFound
	}
	if _, ok := f.polls[pollID]; !ok {
		return Vote{}, false, ErrPollNotFound
	}
	vote, ok := f.votes[pollID][voterID]
	return vote, ok, nil
}

// votesLocked snapshots a poll's votes oldest submission first. Callers
// hold s.mu.
func votesLocked(f *firmPolls, pollID string) []Vote {
	byVoter := f.votes[pollID]
	if len(byVoter) == 0 {
		return nil
	}
	votes := make([]Vote, 0, len(byVoter))
	for _, v := range byVoter {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].SubmittedAt.Equal(votes[j].SubmittedAt) {
			return votes[i].VoterID < votes[j].VoterID
		}
		return votes[i].SubmittedAt.Before(votes[j].SubmittedAt)
	})
	return votes
}

var _ Store = (*MemoryStore)(nil)

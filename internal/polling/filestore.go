package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileSnapshot is the serialized form of the whole store.
type fileSnapshot struct {
	Firms map[string]firmSnapshot `json:"firms"`
}

type firmSnapshot struct {
	Polls map[string]Poll            `json:"polls"`
	Votes map[string]map[string]Vote `json:"votes"`
}

// FileStore is a Store persisted to a single JSON file. Reads are served
// from the in-memory state; every successful mutation rewrites the file.
// One process owns the file at a time.
type FileStore struct {
	*MemoryStore
	path string

	// saveMu serializes file rewrites; the embedded store's lock guards
	// the state itself.
	saveMu sync.Mutex
}

// NewFileStore opens or creates a poll store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{MemoryStore: NewMemoryStore(), path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating poll store directory: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading poll store: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing poll store %s: %w", path, err)
	}
	s.restore(snap)
	return s, nil
}

func (s *FileStore) CreatePoll(ctx context.Context, poll Poll) error {
	if err := s.MemoryStore.CreatePoll(ctx, poll); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) MutatePoll(ctx context.Context, pollID string, fn func(poll *Poll, votes []Vote) error) (Poll, error) {
	poll, err := s.MemoryStore.MutatePoll(ctx, pollID, fn)
	if err != nil {
		return Poll{}, err
	}
	if err := s.save(); err != nil {
		return Poll{}, err
	}
	return poll, nil
}

func (s *FileStore) UpsertVote(ctx context.Context, vote Vote) error {
	if err := s.MemoryStore.UpsertVote(ctx, vote); err != nil {
		return err
	}
	return s.save()
}

// save writes the current state atomically via a temp file rename.
func (s *FileStore) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding poll store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing poll store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing poll store: %w", err)
	}
	return nil
}

// snapshot copies the store state for serialization.
func (s *MemoryStore) snapshot() fileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := fileSnapshot{Firms: make(map[string]firmSnapshot, len(s.firms))}
	for firmID, f := range s.firms {
		fs := firmSnapshot{
			Polls: make(map[string]Poll, len(f.polls)),
			Votes: make(map[string]map[string]Vote, len(f.votes)),
		}
		for id, p := range f.polls {
			fs.Polls[id] = p
		}
		for pollID, byVoter := range f.votes {
			votes := make(map[string]Vote, len(byVoter))
			for voterID, v := range byVoter {
				votes[voterID] = v
			}
			fs.Votes[pollID] = votes
		}
		snap.Firms[firmID] = fs
	}
	return snap
}

// restore replaces the store state from a snapshot.
func (s *MemoryStore) restore(snap fileSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.firms = make(map[string]*firmPolls, len(snap.Firms))
	for firmID, fs := range snap.Firms {
		f := &firmPolls{
			polls: make(map[string]Poll, len(fs.Polls)),
			votes: make(map[string]map[string]Vote, len(fs.Votes)),
		}
		for id, p := range fs.Polls {
			f.polls[id] = p
		}
		for pollID, byVoter := range fs.Votes {
			votes := make(map[string]Vote, len(byVoter))
			for voterID, v := range byVoter {
				votes[voterID] = v
			}
			f.votes[pollID] = votes
		}
		s.firms[firmID] = f
	}
}

var _ Store = (*FileStore)(nil)

package state

import (
	"context"
	"errors"
)

var (
	ErrStateNotFound   = errors.New("dialogue state not found")
	ErrNilSessionState = errors.New("dialogue state is nil")
	ErrInvalidSession  = errors.New("conversation id is empty")
	// ErrSnapshotSuperseded is returned when a save would move a stored terminal
	// snapshot back to a non-terminal or different terminal state.
	ErrSnapshotSuperseded = errors.New("stored snapshot is terminal")
)

// Store persists dialogue snapshots so a session survives a process restart.
// Implementations keep commit_state forward-only: once a stored snapshot is
// COMMITTED or ABANDONED, only a snapshot in that same state may replace it.
type Store interface {
	Load(ctx context.Context, conversationID string) (*DialogueState, error)
	Save(ctx context.Context, st *DialogueState) error
	Delete(ctx context.Context, conversationID string) error
}

// supersedes reports whether a save of next over a stored snapshot in cur is refused.
func supersedes(cur, next CommitState) bool {
	return cur.Terminal() && cur != next
}

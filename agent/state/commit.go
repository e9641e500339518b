package state

import (
	"context"
	"errors"
	"sync"
)

type CommitState string

const (
	CommitOpen      CommitState = "OPEN"
	CommitInFlight  CommitState = "COMMIT_IN_FLIGHT"
	CommitCommitted CommitState = "COMMITTED"
	CommitAbandoned CommitState = "ABANDONED"
)

var ErrIllegalCommitTransition = errors.New("illegal commit_state transition")

func (c CommitState) Valid() bool {
	switch c {
	case CommitOpen, CommitInFlight, CommitCommitted, CommitAbandoned:
		return true
	default:
		return false
	}
}

func (c CommitState) Terminal() bool {
	return c == CommitCommitted || c == CommitAbandoned
}

// CanTransition encodes the forward-only machine. The single backward edge is
// COMMIT_IN_FLIGHT -> OPEN after a persistence failure.
func CanTransition(from, to CommitState) bool {
	switch from {
	case CommitOpen:
		return to == CommitInFlight || to == CommitAbandoned
	case CommitInFlight:
		return to == CommitCommitted || to == CommitOpen
	default:
		return false
	}
}

type CommitSnapshot struct {
	State     CommitState
	Reference string
}

// CommitCell guards one conversation's commit_state with compare-and-set semantics.
// Exactly one caller can move it OPEN -> COMMIT_IN_FLIGHT; concurrent callers wait for
// that attempt and receive its outcome.
type CommitCell struct {
	mu     sync.Mutex
	state  CommitState
	ref    string
	flight *commitFlight
}

type commitFlight struct {
	done chan struct{}
	ref  string
	err  error
}

func NewCommitCell(snap CommitSnapshot) *CommitCell {
	st := snap.State
	if !st.Valid() || st == CommitInFlight {
		// an in-flight attempt does not survive a restart
		st = CommitOpen
	}
	c := &CommitCell{state: st}
	if st == CommitCommitted {
		c.ref = snap.Reference
	}
	return c
}

func (c *CommitCell) Snapshot() CommitSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CommitSnapshot{State: c.state, Reference: c.ref}
}

// Claim is the result of trying to start a commit.
type Claim struct {
	// Owner is true when the caller won OPEN -> COMMIT_IN_FLIGHT and must call Resolve.
	Owner bool
	// Reference is set when the cell was already COMMITTED.
	Reference string

	flight *commitFlight
}

// Claim attempts the atomic OPEN -> COMMIT_IN_FLIGHT transition.
func (c *CommitCell) Claim() (Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CommitCommitted:
		return Claim{Reference: c.ref}, nil
	case CommitAbandoned:
		return Claim{}, ErrTerminalSession
	case CommitInFlight:
		return Claim{flight: c.flight}, nil
	default:
		c.state = CommitInFlight
		c.flight = &commitFlight{done: make(chan struct{})}
		return Claim{Owner: true, flight: c.flight}, nil
	}
}

// Wait blocks a non-owner until the in-flight attempt resolves.
func (cl Claim) Wait(ctx context.Context) (string, error) {
	if cl.flight == nil {
		return cl.Reference, nil
	}
	select {
	case <-cl.flight.done:
		return cl.flight.ref, cl.flight.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve finishes the owner's attempt: success moves to COMMITTED, failure back to OPEN.
func (c *CommitCell) Resolve(cl Claim, ref string, err error) error {
	if !cl.Owner {
		return ErrIllegalCommitTransition
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CommitInFlight || c.flight != cl.flight {
		return ErrIllegalCommitTransition
	}
	if err == nil && ref == "" {
		err = errors.New("empty commit reference")
	}

	fl := c.flight
	fl.ref, fl.err = ref, err
	c.flight = nil
	if err != nil {
		c.state = CommitOpen
	} else {
		c.state = CommitCommitted
		c.ref = ref
	}
	close(fl.done)
	return nil
}

// Abandon moves OPEN -> ABANDONED. It reports the state after the call.
func (c *CommitCell) Abandon() CommitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CommitOpen {
		c.state = CommitAbandoned
	}
	return c.state
}

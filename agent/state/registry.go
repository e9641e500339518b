package state

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type RegistryConfig struct {
	IdleTimeout    time.Duration `split_words:"true" default:"10m"`
	RetainTerminal time.Duration `split_words:"true" default:"15m"`
	SweepInterval  time.Duration `split_words:"true" default:"30s"`
	SaveTimeout    time.Duration `split_words:"true" default:"2s"`
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 2 * time.Second
	}
	return c
}

// Key identifies the conversation a turn belongs to.
type Key struct {
	ConversationID string
	Channel        Channel
	Customer       string
	RestaurantKey  string
}

type EvictReason string

const (
	EvictInactivity EvictReason = "inactivity"
	EvictRetention  EvictReason = "retention_elapsed"
)

// Eviction is reported to the registry's eviction hook when an idle session is
// abandoned or a terminal session leaves the registry.
type Eviction struct {
	State  DialogueState
	Reason EvictReason
}

var ErrRegistryClosed = errors.New("session registry is closed")

// Registry owns every live DialogueState keyed by conversation id and hands out
// single-writer leases. Conversations never wait on each other: the registry mutex is
// held only for map bookkeeping, never across I/O or a turn.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	detached map[string]*detachedCell
	closed   bool

	store   Store
	cfg     RegistryConfig
	now     func() time.Time
	onEvict func(Eviction)
}

type session struct {
	turn       chan struct{}
	state      *DialogueState
	cell       *CommitCell
	lastSeen   time.Time
	terminalAt time.Time
	busy       bool
	cancel     context.CancelFunc
	evicted    bool
}

type detachedCell struct {
	cell      *CommitCell
	createdAt time.Time
}

type RegistryOption func(*Registry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithEvictionHook(fn func(Eviction)) RegistryOption {
	return func(r *Registry) {
		r.onEvict = fn
	}
}

func NewRegistry(store Store, cfg RegistryConfig, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryStore(cfg.withDefaults().RetainTerminal)
	}
	r := &Registry{
		sessions: make(map[string]*session),
		detached: make(map[string]*detachedCell),
		store:    store,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Lease grants exclusive write access to one conversation for one turn.
type Lease struct {
	State *DialogueState
	Cell  *CommitCell
	New   bool

	ctx      context.Context
	registry *Registry
	sess     *session
	released bool
}

// Context is cancelled when the turn is released or the session is ended.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Acquire blocks until the caller owns the conversation, creating or recovering it.
func (r *Registry) Acquire(ctx context.Context, key Key) (*Lease, error) {
	id := strings.TrimSpace(key.ConversationID)
	if id == "" {
		return nil, ErrInvalidSession
	}
	key.ConversationID = id

	for {
		sess, created, err := r.lookupOrOpen(ctx, key)
		if err != nil {
			return nil, err
		}

		select {
		case sess.turn <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		r.mu.Lock()
		if sess.evicted {
			r.mu.Unlock()
			<-sess.turn
			continue
		}
		turnCtx, cancel := context.WithCancel(ctx)
		sess.busy = true
		sess.cancel = cancel
		sess.lastSeen = r.now()
		r.mu.Unlock()

		return &Lease{
			State:    sess.state,
			Cell:     sess.cell,
			New:      created,
			ctx:      turnCtx,
			registry: r,
			sess:     sess,
		}, nil
	}
}

func (r *Registry) lookupOrOpen(ctx context.Context, key Key) (*session, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, ErrRegistryClosed
	}
	if sess, ok := r.sessions[key.ConversationID]; ok {
		r.mu.Unlock()
		return sess, false, nil
	}
	r.mu.Unlock()

	// Snapshot recovery happens outside the registry lock.
	recovered, err := r.store.Load(ctx, key.ConversationID)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		log.Warn().Err(err).Str("conversation_id", key.ConversationID).Msg("dialogue snapshot load failed, starting fresh")
		recovered = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[key.ConversationID]; ok {
		return sess, false, nil
	}

	now := r.now()
	created := recovered == nil
	st := recovered
	if st == nil {
		st = NewDialogueState(key.ConversationID, key.Channel, key.Customer, key.RestaurantKey, now)
	}
	sess := r.installLocked(key.ConversationID, st, now)
	return sess, created, nil
}

// installLocked makes st resident, adopting a detached commit cell if one exists.
func (r *Registry) installLocked(id string, st *DialogueState, now time.Time) *session {
	st.ConversationID = id
	cell := NewCommitCell(CommitSnapshot{State: st.CommitState, Reference: st.CommittedReference})
	if d, ok := r.detached[id]; ok {
		cell = d.cell
		delete(r.detached, id)
	}
	st.ApplyCommit(cell.Snapshot())

	sess := &session{
		turn:     make(chan struct{}, 1),
		state:    st,
		cell:     cell,
		lastSeen: now,
	}
	if st.IsTerminal() {
		sess.terminalAt = now
	}
	r.sessions[id] = sess
	return sess
}

func cloneState(st *DialogueState) DialogueState {
	out := *st
	out.Turns = append([]Turn(nil), st.Turns...)
	out.Draft = st.Draft.Clone()
	return out
}

func (r *Registry) save(st *DialogueState) {
	ctx, done := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
	defer done()
	if err := r.store.Save(ctx, st); err != nil {
		log.Warn().Err(err).Str("conversation_id", st.ConversationID).Msg("dialogue snapshot save failed")
	}
}

// Release ends the turn, mirrors the commit cell into the state and saves a snapshot.
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	r, sess := l.registry, l.sess

	r.mu.Lock()
	now := r.now()
	sess.state.ApplyCommit(sess.cell.Snapshot())
	if sess.state.IsTerminal() && sess.terminalAt.IsZero() {
		sess.terminalAt = now
	}
	sess.lastSeen = now
	sess.busy = false
	cancel := sess.cancel
	sess.cancel = nil
	snapshot := cloneState(sess.state)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.save(&snapshot)

	<-sess.turn
}

// End handles the transport's session-end signal: any in-flight turn is cancelled
// and an OPEN conversation becomes ABANDONED. A conversation known only to the
// snapshot store is recovered first, so the end signal holds across restarts and
// instances. The session stays resident until the terminal retention window passes
// so repeated signals replay the same outcome.
func (r *Registry) End(ctx context.Context, conversationID string) (CommitSnapshot, bool) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return CommitSnapshot{}, false
	}
	for {
		r.mu.Lock()
		if sess, ok := r.sessions[id]; ok {
			snap, toSave := r.endLocked(sess)
			r.mu.Unlock()
			if toSave != nil {
				r.save(toSave)
			}
			return snap, true
		}
		if d, ok := r.detached[id]; ok {
			d.cell.Abandon()
			snap := d.cell.Snapshot()
			r.mu.Unlock()
			return snap, true
		}
		r.mu.Unlock()

		recovered, err := r.store.Load(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrStateNotFound) {
				log.Warn().Err(err).Str("conversation_id", id).Msg("dialogue snapshot load failed on session end")
			}
			return CommitSnapshot{}, false
		}
		r.mu.Lock()
		if _, ok := r.sessions[id]; !ok {
			r.installLocked(id, recovered, r.now())
		}
		r.mu.Unlock()
	}
}

// endLocked abandons sess. It returns the state to persist when no turn holds the
// lease; a busy turn persists on Release.
func (r *Registry) endLocked(sess *session) (CommitSnapshot, *DialogueState) {
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.cell.Abandon()
	snap := sess.cell.Snapshot()
	if snap.State.Terminal() && sess.terminalAt.IsZero() {
		sess.terminalAt = r.now()
	}
	if sess.busy {
		return snap, nil
	}
	sess.state.ApplyCommit(snap)
	out := cloneState(sess.state)
	return snap, &out
}

// CommitCell returns the conversation's commit cell. Callers outside a session get a
// detached cell that a later session for the same id adopts.
func (r *Registry) CommitCell(conversationID string) *CommitCell {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[conversationID]; ok {
		return sess.cell
	}
	if d, ok := r.detached[conversationID]; ok {
		return d.cell
	}
	d := &detachedCell{cell: NewCommitCell(CommitSnapshot{State: CommitOpen}), createdAt: r.now()}
	r.detached[conversationID] = d
	return d.cell
}

// Snapshot returns a copy of the resident state for a conversation.
func (r *Registry) Snapshot(conversationID string) (DialogueState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[conversationID]
	if !ok {
		return DialogueState{}, false
	}
	out := cloneState(sess.state)
	if !sess.busy {
		out.ApplyCommit(sess.cell.Snapshot())
	}
	return out, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep abandons idle OPEN sessions and evicts terminal sessions whose retention
// window has passed. An abandoned session stays resident, and its snapshot is saved
// ABANDONED, so a late turn on the same conversation cannot reopen it.
func (r *Registry) Sweep(ctx context.Context) []Eviction {
	r.mu.Lock()
	now := r.now()
	var (
		evicted   []Eviction
		abandoned []DialogueState
	)
	for id, sess := range r.sessions {
		if sess.busy {
			continue
		}
		switch {
		case !sess.state.IsTerminal() && now.Sub(sess.lastSeen) >= r.cfg.IdleTimeout:
			sess.cell.Abandon()
			sess.state.ApplyCommit(sess.cell.Snapshot())
			if !sess.state.IsTerminal() {
				// a commit is still resolving
				continue
			}
			sess.terminalAt = now
			out := cloneState(sess.state)
			abandoned = append(abandoned, out)
			evicted = append(evicted, Eviction{State: out, Reason: EvictInactivity})
		case sess.state.IsTerminal() && !sess.terminalAt.IsZero() && now.Sub(sess.terminalAt) >= r.cfg.RetainTerminal:
			sess.evicted = true
			delete(r.sessions, id)
			evicted = append(evicted, Eviction{State: cloneState(sess.state), Reason: EvictRetention})
		}
	}
	for id, d := range r.detached {
		if now.Sub(d.createdAt) >= r.cfg.RetainTerminal {
			delete(r.detached, id)
		}
	}
	hook := r.onEvict
	r.mu.Unlock()

	for i := range abandoned {
		r.save(&abandoned[i])
	}
	for _, ev := range evicted {
		if ev.Reason == EvictRetention {
			if err := r.store.Delete(ctx, ev.State.ConversationID); err != nil {
				log.Warn().Err(err).Str("conversation_id", ev.State.ConversationID).Msg("dialogue snapshot delete failed")
			}
		}
		log.Debug().
			Str("conversation_id", ev.State.ConversationID).
			Str("reason", string(ev.Reason)).
			Str("commit_state", string(ev.State.CommitState)).
			Msg("session evicted")
		if hook != nil {
			hook(ev)
		}
	}
	return evicted
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

package transcript

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

type Config struct {
	Dir          string        `split_words:"true"`
	Buffer       int           `split_words:"true" default:"256"`
	WriteTimeout time.Duration `split_words:"true" default:"2s"`
}

// AsyncRecorder queues entries for a background writer so a slow or failing log never
// delays a turn. When the queue is full the entry is dropped and counted.
type AsyncRecorder struct {
	inner   contractx.Recorder
	queue   chan contractx.TranscriptEntry
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ contractx.Recorder = (*AsyncRecorder)(nil)

func NewAsyncRecorder(inner contractx.Recorder, buffer int, timeout time.Duration) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	r := &AsyncRecorder{
		inner:   inner,
		queue:   make(chan contractx.TranscriptEntry, buffer),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record never blocks and never returns the inner recorder's error.
func (r *AsyncRecorder) Record(_ context.Context, entry contractx.TranscriptEntry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return nil
	}
	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		log.Warn().Str("conversation_id", entry.ConversationID).Msg("transcript queue full, entry dropped")
	}
	return nil
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)
	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.inner.Record(ctx, entry); err != nil {
			r.failed.Add(1)
			log.Warn().Err(err).Str("conversation_id", entry.ConversationID).Str("kind", string(entry.Kind)).Msg("transcript write failed")
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) Dropped() int64 { return r.dropped.Load() }
func (r *AsyncRecorder) Failed() int64  { return r.failed.Load() }

// Multi writes every entry to each recorder and joins their errors.
type Multi []contractx.Recorder

func (m Multi) Record(ctx context.Context, entry contractx.TranscriptEntry) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

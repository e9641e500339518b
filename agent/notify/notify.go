package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	qstashx "github.com/tanpawarit/chative-restaurant-agent/pkg/qstash"
)

// Publisher is the slice of the QStash client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, body any, opts qstashx.PublishOptions) (qstashx.PublishResult, error)
}

// QStashNotifier publishes confirmations; the reference doubles as the dedup id so a
// replayed confirmation is delivered once.
type QStashNotifier struct {
	pub Publisher
}

var _ contractx.Notifier = (*QStashNotifier)(nil)

func NewQStashNotifier(pub Publisher) *QStashNotifier {
	return &QStashNotifier{pub: pub}
}

func (n *QStashNotifier) Notify(ctx context.Context, c contractx.Confirmation) error {
	if c.Reference == "" {
		return errors.New("confirmation has no reference")
	}
	res, err := n.pub.Publish(ctx, c, qstashx.PublishOptions{
		DeduplicationID: c.Reference,
		Headers:         map[string]string{"X-Restaurant-Id": c.RestaurantID},
	})
	if err != nil {
		return err
	}
	log.Debug().Str("reference", c.Reference).Str("message_id", res.MessageID).Msg("confirmation published")
	return nil
}

type Noop struct{}

func (Noop) Notify(context.Context, contractx.Confirmation) error { return nil }

// Dispatcher runs notifications off the turn path with a per-send timeout.
type Dispatcher struct {
	inner   contractx.Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(inner contractx.Notifier, timeout time.Duration) *Dispatcher {
	if inner == nil {
		inner = Noop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{inner: inner, timeout: timeout}
}

// Notify returns immediately; failures are logged.
func (d *Dispatcher) Notify(_ context.Context, c contractx.Confirmation) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.inner.Notify(ctx, c); err != nil {
			log.Warn().Err(err).
				Str("conversation_id", c.ConversationID).
				Str("reference", c.Reference).
				Msg("confirmation notification failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type LoaderConfig struct {
	CacheTTL       time.Duration `split_words:"true" default:"15s"`
	BookingHorizon time.Duration `split_words:"true" default:"336h"`
	FetchTimeout   time.Duration `split_words:"true" default:"3s"`
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.BookingHorizon <= 0 {
		c.BookingHorizon = 14 * 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 3 * time.Second
	}
	return c
}

// Loader resolves a routing key to a restaurant Context. Concurrent loads of the same
// key share one fetch, and results are cached for CacheTTL since availability can
// change between turns.
type Loader struct {
	source   Source
	bookings BookingReader
	cfg      LoaderConfig
	now      func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedContext
}

type cachedContext struct {
	ctx       *Context
	expiresAt time.Time
}

type LoaderOption func(*Loader)

func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLoader builds a loader. bookings may be nil when no ledger is attached.
func NewLoader(source Source, bookings BookingReader, cfg LoaderConfig, opts ...LoaderOption) *Loader {
	l := &Loader{
		source:   source,
		bookings: bookings,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		cache:    make(map[string]cachedContext),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load returns the cached Context for routingKey, fetching it when stale.
func (l *Loader) Load(ctx context.Context, routingKey string) (*Context, error) {
	key := normalizeRoutingKey(routingKey)
	if hit, ok := l.cached(key); ok {
		return hit, nil
	}
	return l.fetchShared(ctx, key, false)
}

func (l *Loader) cached(key string) (*Context, bool) {
	l.mu.RLock()
	hit, ok := l.cache[key]
	l.mu.RUnlock()
	if ok && l.now().Before(hit.expiresAt) {
		return hit.ctx, true
	}
	return nil, false
}

// LoadFresh bypasses the cache. Used where stale availability must not leak through,
// such as confirming an order or allocating a table.
func (l *Loader) LoadFresh(ctx context.Context, routingKey string) (*Context, error) {
	key := normalizeRoutingKey(routingKey)
	l.group.Forget(key)
	return l.fetchShared(ctx, key, true)
}

// Invalidate drops the cached Context for routingKey.
func (l *Loader) Invalidate(routingKey string) {
	key := normalizeRoutingKey(routingKey)
	l.mu.Lock()
	delete(l.cache, key)
	l.mu.Unlock()
}

func (l *Loader) fetchShared(ctx context.Context, key string, fresh bool) (*Context, error) {
	ch := l.group.DoChan(key, func() (any, error) {
		if hit, ok := l.cached(key); ok && !fresh {
			return hit, nil
		}
		// the shared fetch must not die with whichever caller arrived first
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.FetchTimeout)
		defer cancel()
		return l.fetch(fetchCtx, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Context), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) fetch(ctx context.Context, key string) (*Context, error) {
	profile, err := l.source.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if profile.Timezone != "" {
		if loc, err = time.LoadLocation(profile.Timezone); err != nil {
			return nil, fmt.Errorf("restaurant %s timezone: %w", profile.ID, err)
		}
	}
	hours, err := ParseWeeklyHours(profile.Hours)
	if err != nil {
		return nil, fmt.Errorf("restaurant %s hours: %w", profile.ID, err)
	}

	now := l.now()
	var (
		menu     []MenuItem
		tables   []Table
		bookings []Booking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		menu, err = l.source.Menu(gctx, profile.ID)
		if err != nil {
			return fmt.Errorf("load menu: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tables, err = l.source.Tables(gctx, profile.ID)
		if err != nil {
			return fmt.Errorf("load tables: %w", err)
		}
		return nil
	})
	if l.bookings != nil {
		g.Go(func() error {
			var err error
			bookings, err = l.bookings.ConfirmedBookings(gctx, profile.ID, now.Add(-24*time.Hour), now.Add(l.cfg.BookingHorizon))
			if err != nil {
				return fmt.Errorf("load bookings: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Context{
		RestaurantID: profile.ID,
		Name:         profile.Name,
		Location:     loc,
		Hours:        hours,
		Policy:       profile.Policy.WithDefaults(),
		Menu:         NewMenuContext(menu),
		Tables:       TableContext{Tables: tables, Bookings: bookings},
		LoadedAt:     now,
	}

	if l.cfg.CacheTTL > 0 {
		l.mu.Lock()
		l.cache[key] = cachedContext{ctx: out, expiresAt: now.Add(l.cfg.CacheTTL)}
		l.mu.Unlock()
	}
	log.Debug().
		Str("restaurant", profile.ID).
		Int("menu_items", out.Menu.Len()).
		Int("tables", len(tables)).
		Int("bookings", len(bookings)).
		Msg("tenant context loaded")
	return out, nil
}

package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

// Source is the read API of the tenant/menu/table store.
type Source interface {
	Resolve(ctx context.Context, routingKey string) (Profile, error)
	Menu(ctx context.Context, restaurantID string) ([]MenuItem, error)
	Tables(ctx context.Context, restaurantID string) ([]Table, error)
}

// BookingReader returns CONFIRMED bookings overlapping [from, to).
type BookingReader interface {
	ConfirmedBookings(ctx context.Context, restaurantID string, from, to time.Time) ([]Booking, error)
}

// StaticSource serves a fixed set of restaurants. Safe for concurrent use.
type StaticSource struct {
	mu    sync.RWMutex
	byKey map[string]string
	byID  map[string]Restaurant
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource(restaurants ...Restaurant) (*StaticSource, error) {
	s := &StaticSource{}
	if err := s.Replace(restaurants); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the whole tenant set atomically.
func (s *StaticSource) Replace(restaurants []Restaurant) error {
	byKey := make(map[string]string)
	byID := make(map[string]Restaurant, len(restaurants))
	for _, r := range restaurants {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("%w: restaurant id is required", contractx.ErrValidation)
		}
		if _, dup := byID[id]; dup {
			return fmt.Errorf("%w: duplicate restaurant id %q", contractx.ErrValidation, id)
		}
		if _, err := ParseWeeklyHours(r.Hours); err != nil {
			return fmt.Errorf("%w: restaurant %s hours: %v", contractx.ErrValidation, id, err)
		}
		byID[id] = r
		byKey[normalizeRoutingKey(id)] = id
		for _, key := range r.RoutingKeys {
			k := normalizeRoutingKey(key)
			if k == "" {
				continue
			}
			if owner, dup := byKey[k]; dup && owner != id {
				return fmt.Errorf("%w: routing key %q used by %s and %s", contractx.ErrValidation, key, owner, id)
			}
			byKey[k] = id
		}
	}

	s.mu.Lock()
	s.byKey, s.byID = byKey, byID
	s.mu.Unlock()
	return nil
}

// SetItemAvailability flips one menu item's availability, as the restaurant would from its dashboard.
func (s *StaticSource) SetItemAvailability(restaurantID, itemID string, available bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[restaurantID]
	if !ok {
		return false
	}
	menu := make([]MenuItem, len(r.Menu))
	copy(menu, r.Menu)
	found := false
	for i := range menu {
		if menu[i].ID == itemID {
			menu[i].Available = available
			found = true
		}
	}
	r.Menu = menu
	s.byID[restaurantID] = r
	return found
}

func (s *StaticSource) Resolve(ctx context.Context, routingKey string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[normalizeRoutingKey(routingKey)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: routing key %q", contractx.ErrTenantNotFound, routingKey)
	}
	return s.byID[id].Profile, nil
}

func (s *StaticSource) Menu(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	r, err := s.restaurant(restaurantID)
	if err != nil {
		return nil, err
	}
	return append([]MenuItem(nil), r.Menu...), nil
}

func (s *StaticSource) Tables(ctx context.Context, restaurantID string) ([]Table, error) {
	r, err := s.restaurant(restaurantID)
	if err != nil {
		return nil, err
	}
	return append([]Table(nil), r.Tables...), nil
}

func (s *StaticSource) restaurant(id string) (Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Restaurant{}, fmt.Errorf("%w: restaurant %q", contractx.ErrTenantNotFound, id)
	}
	return r, nil
}

func normalizeRoutingKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

type fileDocument struct {
	Restaurants []Restaurant `mapstructure:"restaurants"`
}

// FileSource serves restaurants from a YAML, JSON or TOML document read through viper.
type FileSource struct {
	*StaticSource
	v *viper.Viper
}

func NewFileSource(path string) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("tenant file path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	fs := &FileSource{StaticSource: &StaticSource{}, v: v}
	if err := fs.reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Watch reloads the document whenever it changes on disk. A document that fails to
// parse is logged and the previous tenant set stays in place.
func (f *FileSource) Watch() {
	f.v.OnConfigChange(func(ev fsnotify.Event) {
		if err := f.reload(); err != nil {
			log.Warn().Err(err).Str("file", ev.Name).Msg("tenant file reload failed")
			return
		}
		log.Info().Str("file", ev.Name).Msg("tenant file reloaded")
	})
	f.v.WatchConfig()
}

func (f *FileSource) reload() error {
	if err := f.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read tenant file: %w", err)
	}
	var doc fileDocument
	if err := f.v.Unmarshal(&doc); err != nil {
		return fmt.Errorf("decode tenant file: %w", err)
	}
	return f.Replace(doc.Restaurants)
}

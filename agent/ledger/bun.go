package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

type StorageConfig struct {
	Driver string `split_words:"true" default:"sqlite"`
	DSN    string `envconfig:"DSN" default:"file:chative.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"`
}

// OpenDB opens a bun handle for "postgres" or "sqlite".
func OpenDB(cfg StorageConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql", "pg":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case "sqlite", "":
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer; also keeps a :memory: database alive across queries
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type commitRow struct {
	bun.BaseModel `bun:"table:commit_records,alias:cr"`

	ID             string    `bun:"id,pk"`
	ConversationID string    `bun:"conversation_id,notnull,unique"`
	RestaurantID   string    `bun:"restaurant_id,notnull"`
	Kind           string    `bun:"kind,notnull"`
	Reference      string    `bun:"reference,notnull,unique"`
	Customer       string    `bun:"customer"`
	Channel        string    `bun:"channel"`
	DraftDigest    string    `bun:"draft_digest,notnull"`
	Payload        string    `bun:"payload,notnull"`
	TableID        string    `bun:"table_id,nullzero"`
	StartsAt       time.Time `bun:"starts_at,nullzero"`
	EndsAt         time.Time `bun:"ends_at,nullzero"`
	Total          int64     `bun:"total,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

func toRow(r Record) commitRow {
	return commitRow{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		RestaurantID:   r.RestaurantID,
		Kind:           string(r.Kind),
		Reference:      r.Reference,
		Customer:       r.Customer,
		Channel:        string(r.Channel),
		DraftDigest:    r.DraftDigest,
		Payload:        string(r.Payload),
		TableID:        r.TableID,
		StartsAt:       r.StartsAt,
		EndsAt:         r.EndsAt,
		Total:          r.Total,
		CreatedAt:      r.CreatedAt,
	}
}

func (row commitRow) record() Record {
	return Record{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		RestaurantID:   row.RestaurantID,
		Kind:           statex.DraftKind(row.Kind),
		Reference:      row.Reference,
		Customer:       row.Customer,
		Channel:        statex.Channel(row.Channel),
		DraftDigest:    row.DraftDigest,
		Payload:        json.RawMessage(row.Payload),
		TableID:        row.TableID,
		StartsAt:       row.StartsAt.UTC(),
		EndsAt:         row.EndsAt.UTC(),
		Total:          row.Total,
		CreatedAt:      row.CreatedAt.UTC(),
	}
}

// BunLedger stores commit records in Postgres or SQLite. The unique conversation_id
// constraint is the last line of defence when several processes commit the same
// conversation.
type BunLedger struct {
	db     *bun.DB
	now    func() time.Time
	newRef func(statex.DraftKind) string
}

var _ Ledger = (*BunLedger)(nil)

func NewBunLedger(db *bun.DB) *BunLedger {
	return &BunLedger{db: db, now: time.Now, newRef: NewReference}
}

// EnsureTables creates the commit_records table and its indexes.
func (l *BunLedger) EnsureTables(ctx context.Context) error {
	if _, err := l.db.NewCreateTable().Model((*commitRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create commit_records: %w", err)
	}
	if _, err := l.db.NewCreateIndex().
		Model((*commitRow)(nil)).
		Index("commit_records_slot_idx").
		Column("restaurant_id", "table_id", "starts_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create commit_records_slot_idx: %w", err)
	}
	return nil
}

func (l *BunLedger) Commit(ctx context.Context, req CommitRequest) (Record, bool, error) {
	rec, err := prepare(req)
	if err != nil {
		return Record{}, false, err
	}

	var (
		out     Record
		created bool
	)
	err = l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if l.db.Dialect().Name() == dialect.PG {
			// bookings for one restaurant are checked and inserted one at a time
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", rec.RestaurantID); err != nil {
				return fmt.Errorf("acquire restaurant lock: %w", err)
			}
		}

		existing, err := l.byConversation(ctx, tx, rec.ConversationID)
		switch {
		case err == nil:
			if existing.DraftDigest != rec.DraftDigest {
				log.Warn().Str("conversation_id", rec.ConversationID).Msg("repeated commit with a different draft, returning original")
			}
			out = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if rec.Kind == statex.DraftBooking {
			n, err := tx.NewSelect().
				Model((*commitRow)(nil)).
				Where("restaurant_id = ?", rec.RestaurantID).
				Where("kind = ?", string(statex.DraftBooking)).
				Where("table_id = ?", rec.TableID).
				Where("starts_at < ?", rec.EndsAt).
				Where("ends_at > ?", rec.StartsAt).
				Count(ctx)
			if err != nil {
				return fmt.Errorf("check table overlap: %w", err)
			}
			if n > 0 {
				return ErrSlotTaken
			}
		}

		ref, err := l.freeReference(ctx, tx, rec.Kind)
		if err != nil {
			return err
		}
		rec.ID = uuid.NewString()
		rec.Reference = ref
		rec.CreatedAt = l.now().UTC().Truncate(time.Microsecond)

		row := toRow(rec)
		res, err := tx.NewInsert().Model(&row).On("CONFLICT (conversation_id) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert commit record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// another process won the race between our read and insert
			existing, err := l.byConversation(ctx, tx, rec.ConversationID)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		out, created = rec, true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return out, created, nil
}

func (l *BunLedger) freeReference(ctx context.Context, db bun.IDB, kind statex.DraftKind) (string, error) {
	for i := 0; i < 3; i++ {
		ref := l.newRef(kind)
		taken, err := db.NewSelect().Model((*commitRow)(nil)).Where("reference = ?", ref).Exists(ctx)
		if err != nil {
			return "", fmt.Errorf("check reference: %w", err)
		}
		if !taken {
			return ref, nil
		}
	}
	return "", ErrReferenceCollision
}

func (l *BunLedger) ByConversation(ctx context.Context, conversationID string) (Record, error) {
	return l.byConversation(ctx, l.db, conversationID)
}

func (l *BunLedger) byConversation(ctx context.Context, db bun.IDB, conversationID string) (Record, error) {
	var row commitRow
	err := db.NewSelect().Model(&row).Where("conversation_id = ?", conversationID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select commit record: %w", err)
	}
	return row.record(), nil
}

func (l *BunLedger) ConfirmedBookings(ctx context.Context, restaurantID string, from, to time.Time) ([]tenantx.Booking, error) {
	var rows []commitRow
	err := l.db.NewSelect().
		Model(&rows).
		Where("restaurant_id = ?", restaurantID).
		Where("kind = ?", string(statex.DraftBooking)).
		Where("starts_at < ?", to.UTC()).
		Where("ends_at > ?", from.UTC()).
		Order("starts_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	out := make([]tenantx.Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record().Booking())
	}
	return out, nil
}

func (l *BunLedger) Close() error {
	return l.db.Close()
}

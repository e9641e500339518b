package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	"github.com/uptrace/bun"
)

type entryRow struct {
	bun.BaseModel `bun:"table:transcript_entries,alias:te"`

	ID                 string    `bun:"id,pk"`
	ConversationID     string    `bun:"conversation_id,notnull"`
	RestaurantID       string    `bun:"restaurant_id"`
	Kind               string    `bun:"kind,notnull"`
	Speaker            string    `bun:"speaker"`
	Utterance          string    `bun:"utterance"`
	Intent             string    `bun:"intent"`
	CommitState        string    `bun:"commit_state,notnull"`
	CommittedReference string    `bun:"committed_reference"`
	At                 time.Time `bun:"at,notnull"`
}

// BunRecorder stores transcript entries as rows next to the ledger.
type BunRecorder struct {
	db *bun.DB
}

var _ contractx.Recorder = (*BunRecorder)(nil)

func NewBunRecorder(db *bun.DB) *BunRecorder {
	return &BunRecorder{db: db}
}

func (r *BunRecorder) EnsureTables(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*entryRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create transcript_entries: %w", err)
	}
	if _, err := r.db.NewCreateIndex().
		Model((*entryRow)(nil)).
		Index("transcript_entries_conversation_idx").
		Column("conversation_id", "at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create transcript_entries_conversation_idx: %w", err)
	}
	return nil
}

func (r *BunRecorder) Record(ctx context.Context, e contractx.TranscriptEntry) error {
	row := entryRow{
		ID:                 uuid.NewString(),
		ConversationID:     e.ConversationID,
		RestaurantID:       e.RestaurantID,
		Kind:               string(e.Kind),
		Speaker:            string(e.Speaker),
		Utterance:          e.Utterance,
		Intent:             string(e.Intent),
		CommitState:        string(e.CommitState),
		CommittedReference: e.CommittedReference,
		At:                 e.At.UTC(),
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert transcript entry: %w", err)
	}
	return nil
}

// Entries returns a conversation's log ordered by time.
func (r *BunRecorder) Entries(ctx context.Context, conversationID string) ([]contractx.TranscriptEntry, error) {
	var rows []entryRow
	if err := r.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		Order("at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select transcript entries: %w", err)
	}
	out := make([]contractx.TranscriptEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, contractx.TranscriptEntry{
			ConversationID:     row.ConversationID,
			RestaurantID:       row.RestaurantID,
			Kind:               contractx.EntryKind(row.Kind),
			Speaker:            statex.Speaker(row.Speaker),
			Utterance:          row.Utterance,
			Intent:             contractx.Intent(row.Intent),
			CommitState:        statex.CommitState(row.CommitState),
			CommittedReference: row.CommittedReference,
			At:                 row.At.UTC(),
		})
	}
	return out, nil
}

package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/pkg/fsx"
)

// FileRecorder appends one JSON line per entry to <dir>/<conversation_id>.jsonl.
type FileRecorder struct {
	dir string
}

var _ contractx.Recorder = (*FileRecorder)(nil)

func NewFileRecorder(dir string) (*FileRecorder, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &FileRecorder{dir: dir}, nil
}

func (r *FileRecorder) Record(ctx context.Context, entry contractx.TranscriptEntry) error {
	if entry.ConversationID == "" {
		return errors.New("transcript entry has no conversation id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	return fsx.AppendLine(r.path(entry.ConversationID), line, 0o640)
}

// Entries reads a conversation's log back in append order.
func (r *FileRecorder) Entries(conversationID string) ([]contractx.TranscriptEntry, error) {
	raw, err := os.ReadFile(r.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []contractx.TranscriptEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e contractx.TranscriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return out, fmt.Errorf("decode transcript line: %w", err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (r *FileRecorder) path(conversationID string) string {
	return filepath.Join(r.dir, fsx.SafeName(conversationID)+".jsonl")
}

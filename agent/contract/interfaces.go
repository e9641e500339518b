package contract

import "context"

// Generator is the language model gateway seen by the turn pipeline.
type Generator interface {
	Generate(ctx context.Context, req ModelRequest) (ModelResult, error)
}

// Recorder appends transcript entries. Implementations are best-effort.
type Recorder interface {
	Record(ctx context.Context, entry TranscriptEntry) error
}

// Notifier sends a confirmation after a commit. Fire-and-forget from the engine.
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}

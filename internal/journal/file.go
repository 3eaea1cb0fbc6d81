package journal

import (
	"context"
	"encoding/json"
	"errors"

	"brisk/internal/logger"
)

var ErrLineDropped = errors.New("journal line dropped: file writer queue full")

// FileJournal writes one JSON object per line.
type FileJournal struct {
	w *logger.AsyncWriter
}

func OpenFile(path string) (*FileJournal, error) {
	w, err := logger.OpenAsyncFile(path, 0)
	if err != nil {
		return nil, err
	}
	return newFileJournal(w), nil
}

func newFileJournal(w *logger.AsyncWriter) *FileJournal {
	return &FileJournal{w: w}
}

func (f *FileJournal) Name() string { return "file" }

// Write reports ErrLineDropped when the writer discarded the line. Writes
// come from the journal goroutine only, so the drop counter is not shared.
func (f *FileJournal) Write(_ context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	before := f.w.Dropped()
	if _, err := f.w.Write(append(raw, '\n')); err != nil {
		return err
	}
	if f.w.Dropped() > before {
		return ErrLineDropped
	}
	return nil
}

func (f *FileJournal) Close() error { return f.w.Close() }

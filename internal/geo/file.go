package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
)

const defaultPollEvery = 5 * time.Second

// File reads positions from a JSON document such as
// {"latitude": -23.5, "longitude": -46.6, "timestamp": "2026-10-15T08:00:00Z"}
// that an external GPS helper rewrites in place.
type File struct {
	path   string
	every  time.Duration
	logger *zap.Logger
}

// NewFile returns a source backed by path, polled every interval when watched.
func NewFile(path string, every time.Duration, logger *zap.Logger) *File {
	if every <= 0 {
		every = defaultPollEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{path: path, every: every, logger: logger}
}

// Current reads the file once. A missing file is ErrNoFix.
func (f *File) Current(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	fix, _, err := f.read()
	return fix, err
}

func (f *File) read() (Fix, time.Time, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Fix{}, time.Time{}, ErrNoFix
		}
		return Fix{}, time.Time{}, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return Fix{}, time.Time{}, err
	}
	var fix Fix
	if err := json.Unmarshal(raw, &fix); err != nil {
		return Fix{}, time.Time{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if !fix.Valid() {
		return Fix{}, time.Time{}, fmt.Errorf("%s: coordinates out of range", f.path)
	}
	if fix.At.IsZero() {
		fix.At = info.ModTime().UTC()
	}
	return fix, info.ModTime(), nil
}

// Watch polls the file and emits a fix whenever its modification time moves.
func (f *File) Watch(ctx context.Context) <-chan Fix {
	out := make(chan Fix, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.every)
		defer ticker.Stop()

		var last time.Time
		for {
			fix, mod, err := f.read()
			switch {
			case err == nil && !mod.Equal(last):
				last = mod
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			case err != nil && !errors.Is(err, ErrNoFix):
				f.logger.Warn("unreadable position file", zap.String("path", f.path), zap.Error(err))
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Package geo provides the coordinate sources the location tracker samples.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/fieldops/internal/config"
	"go.uber.org/zap"
)

// ErrNoFix is returned when a source has no position to report.
var ErrNoFix = errors.New("no position fix")

// Fix is one position reading.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	At        time.Time `json:"timestamp"`
}

// Valid reports whether the coordinates are within range.
func (f Fix) Valid() bool {
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}

// Source yields positions. Current performs a one-shot read; Watch streams
// fixes until ctx is done, then closes the channel.
type Source interface {
	Current(ctx context.Context) (Fix, error)
	Watch(ctx context.Context) <-chan Fix
}

// New builds the source selected by cfg.Source.
func New(cfg config.Geo, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case "", "static":
		return NewStatic(cfg.Latitude, cfg.Longitude), nil
	case "file":
		if cfg.FixPath == "" {
			return nil, errors.New("geo source file: fix_path is empty")
		}
		return NewFile(cfg.FixPath, cfg.PollEvery.Duration, logger), nil
	default:
		return nil, fmt.Errorf("unknown geo source %q", cfg.Source)
	}
}

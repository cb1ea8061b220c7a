// Package geo supplies the best-effort position attached to detections.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/your-org/lookout/internal/config"
	"github.com/your-org/lookout/internal/models"
)

var ErrUnavailable = errors.New("location unavailable")

type Locator interface {
	Locate(ctx context.Context) (*models.Location, error)
}

// Static reports a fixed, configured position.
type Static struct {
	cfg config.LocationConfig
	now func() time.Time
}

func NewStatic(cfg config.LocationConfig) *Static {
	return &Static{cfg: cfg, now: time.Now}
}

func (s *Static) Locate(ctx context.Context) (*models.Location, error) {
	if s.cfg.Accuracy <= 0 {
		return nil, ErrUnavailable
	}
	return &models.Location{
		Latitude:  s.cfg.Latitude,
		Longitude: s.cfg.Longitude,
		Accuracy:  s.cfg.Accuracy,
		Timestamp: s.now(),
	}, nil
}

// Lookup asks l for a position, giving up after timeout. Any failure
// yields nil; there is no retry.
func Lookup(ctx context.Context, l Locator, timeout time.Duration) *models.Location {
	if l == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		loc *models.Location
		err error
	}
	ch := make(chan result, 1)
	go func() {
		loc, err := l.Locate(ctx)
		ch <- result{loc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if !errors.Is(r.err, ErrUnavailable) {
				slog.Warn("location lookup failed", "error", r.err)
			}
			return nil
		}
		return r.loc
	case <-ctx.Done():
		slog.Warn("location lookup timed out", "timeout", timeout)
		return nil
	}
}

// Package capture supplies camera frames to the detection monitor.
package capture

import (
	"context"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/lookout/internal/observability"
)

// Frame is one JPEG-encoded camera frame.
type Frame struct {
	ID         uuid.UUID
	JPEG       []byte
	CapturedAt time.Time
}

// Source produces frames until ctx is cancelled or the source gives up,
// then closes the channel.
type Source interface {
	Frames(ctx context.Context) <-chan Frame
}

// Options are fixed capture preferences; the device is not asked to
// negotiate them.
type Options struct {
	InputFormat string
	FPS         int
	Width       int
	Height      int
}

const maxRetries = 3

// Camera reads frames from a device, file or stream URL through ffmpeg.
type Camera struct {
	src  string
	opts Options

	running atomic.Bool
	// run is swapped out in tests.
	run func(ctx context.Context, src string, opts Options, emit func([]byte)) error
}

func NewCamera(src string, opts Options) *Camera {
	if opts.FPS <= 0 {
		opts.FPS = 5
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	return &Camera{src: src, opts: opts, run: runFFmpeg}
}

// Name is the source with any URL credentials removed, for logs and alerts.
func (c *Camera) Name() string { return redact(c.src) }

func redact(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.User == nil {
		return src
	}
	u.User = nil
	return u.String()
}

// Running reports whether ffmpeg is currently producing frames.
func (c *Camera) Running() bool { return c.running.Load() }

// Frames starts capture. A failed capture is retried after 2s, 4s and 8s;
// a capture that ends cleanly is not retried.
func (c *Camera) Frames(ctx context.Context) <-chan Frame {
	out := make(chan Frame)

	go func() {
		defer close(out)
		defer slog.Info("camera capture stopped", "source", c.src)

		emit := func(data []byte) {
			f := Frame{ID: uuid.New(), JPEG: data, CapturedAt: time.Now()}
			select {
			case out <- f:
			case <-ctx.Done():
			}
		}

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := time.Duration(1<<uint(attempt)) * time.Second
				slog.Warn("retrying camera capture", "source", c.src, "attempt", attempt, "delay", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}

			src := c.src
			if isYouTube(src) {
				resolved, err := resolveYouTube(ctx, src)
				if err != nil {
					slog.Warn("resolve youtube url", "source", c.src, "error", err)
					continue
				}
				src = resolved
			}

			slog.Info("starting camera capture", "source", c.src, "fps", c.opts.FPS,
				"width", c.opts.Width, "height", c.opts.Height)
			c.running.Store(true)
			err := c.run(ctx, src, c.opts, emit)
			c.running.Store(false)

			if err == nil || ctx.Err() != nil {
				return
			}
			slog.Error("camera capture failed", "source", c.src, "attempt", attempt, "error", err)
		}
		slog.Error("camera capture gave up", "source", c.src, "retries", maxRetries)
	}()

	return out
}

// LatestFrame is a one-slot mailbox. Put replaces a frame that has not been
// taken yet, so a slow consumer always sees the most recent frame.
type LatestFrame struct {
	slot chan Frame
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{slot: make(chan Frame, 1)}
}

// Put stores f and reports whether an unconsumed frame was dropped.
// Put must not be called concurrently with itself.
func (l *LatestFrame) Put(f Frame) bool {
	dropped := false
	select {
	case <-l.slot:
		dropped = true
		observability.FramesDropped.Inc()
	default:
	}
	l.slot <- f
	return dropped
}

// Next blocks until a frame is available or ctx is done.
func (l *LatestFrame) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-l.slot:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Pump copies frames from src into l until src closes.
func (l *LatestFrame) Pump(src <-chan Frame) {
	for f := range src {
		l.Put(f)
	}
}

package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier announces that the gallery has changed.
type Notifier interface {
	GalleryChanged(ctx context.Context) error
}

// Local fans gallery changes out to in-process subscribers. Each
// subscriber runs in its own goroutine so the caller never waits on a
// reload.
type Local struct {
	mu   sync.RWMutex
	subs []func(ctx context.Context)
	wg   sync.WaitGroup
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Subscribe(fn func(ctx context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *Local) GalleryChanged(ctx context.Context) error {
	l.mu.RLock()
	subs := append(([]func(context.Context))(nil), l.subs...)
	l.mu.RUnlock()

	// The request context may end before the subscriber runs.
	bg := context.WithoutCancel(ctx)
	for _, fn := range subs {
		l.wg.Add(1)
		go func(fn func(context.Context)) {
			defer l.wg.Done()
			fn(bg)
		}(fn)
	}
	return nil
}

// Wait blocks until every dispatched notification has been handled.
func (l *Local) Wait() {
	l.wg.Wait()
}

// Multi notifies every notifier, logging failures.
type Multi []Notifier

func (m Multi) GalleryChanged(ctx context.Context) error {
	var first error
	for _, n := range m {
		if err := n.GalleryChanged(ctx); err != nil {
			slog.Warn("gallery change notification failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

func TestLocalNotifier(t *testing.T) {
	l := NewLocal()
	var a, b atomic.Int32
	l.Subscribe(func(context.Context) { a.Add(1) })
	l.Subscribe(func(context.Context) { b.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.GalleryChanged(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.GalleryChanged(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.Wait()

	if a.Load() != 2 || b.Load() != 2 {
		t.Errorf("calls = %d, %d; want 2, 2", a.Load(), b.Load())
	}
}

func TestLocalNotifierDetachesContext(t *testing.T) {
	l := NewLocal()
	var sawCancel atomic.Bool
	l.Subscribe(func(ctx context.Context) {
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.GalleryChanged(ctx)
	l.Wait()

	if sawCancel.Load() {
		t.Error("subscriber should not inherit the caller's cancellation")
	}
}

type failing struct{ calls int }

func (f *failing) GalleryChanged(context.Context) error {
	f.calls++
	return errors.New("down")
}

func TestMultiNotifiesAll(t *testing.T) {
	f1, f2 := &failing{}, &failing{}
	err := Multi{f1, f2}.GalleryChanged(context.Background())
	if err == nil {
		t.Error("expected first error")
	}
	if f1.calls != 1 || f2.calls != 1 {
		t.Errorf("calls = %d, %d", f1.calls, f2.calls)
	}
}

func TestAlertSubject(t *testing.T) {
	tests := map[string]string{
		"":                     "alerts.default",
		"lobby-cam":            "alerts.lobby-cam",
		"rtsp://10.0.0.5/live": "alerts.rtsp:__10_0_0_5_live",
		"/dev/video0":          "alerts._dev_video0",
	}
	for src, want := range tests {
		if got := AlertSubject(src); got != want {
			t.Errorf("AlertSubject(%q) = %q, want %q", src, got, want)
		}
	}
}

type subjectMsg struct {
	jetstream.Msg
	subject string
}

func (m subjectMsg) Subject() string { return m.subject }

func TestSkipSubject(t *testing.T) {
	var handled []string
	h := SkipSubject(AlertSubject("rtsp://cam1/live"), func(_ context.Context, msg jetstream.Msg) error {
		handled = append(handled, msg.Subject())
		return nil
	})

	for _, src := range []string{"rtsp://cam1/live", "rtsp://cam2/live", ""} {
		if err := h(context.Background(), subjectMsg{subject: AlertSubject(src)}); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{AlertSubject("rtsp://cam2/live"), AlertSubject("")}
	if len(handled) != len(want) || handled[0] != want[0] || handled[1] != want[1] {
		t.Errorf("handled = %v, want %v", handled, want)
	}
}

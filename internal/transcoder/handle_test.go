package transcoder

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestRunHandleProgressClamps(t *testing.T) {
	h := NewRunHandle(nil)
	for _, tt := range []struct{ in, want float64 }{
		{-0.5, 0}, {0.25, 0.25}, {1.5, 1}, {math.NaN(), 0},
	} {
		h.SetProgress(tt.in)
		if got := h.Progress(); got != tt.want {
			t.Fatalf("SetProgress(%v) -> %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRunHandleFinishOnce(t *testing.T) {
	h := NewRunHandle(nil)
	first := errors.New("first")
	h.Finish(first)
	h.Finish(nil)

	select {
	case <-h.Done():
	default:
		t.Fatal("Done should be closed after Finish")
	}
	if !errors.Is(h.Err(), first) {
		t.Fatalf("Err = %v, want first error", h.Err())
	}
	select {
	case <-h.StatusChanges():
	default:
		t.Fatal("Finish should publish a status change")
	}
}

func TestRunHandleSuccessCompletesProgress(t *testing.T) {
	h := NewRunHandle(nil)
	h.SetProgress(0.4)
	h.Finish(nil)
	if h.Progress() != 1 {
		t.Fatalf("Progress = %v after success, want 1", h.Progress())
	}
}

func TestRunHandleCancelAndNotifyCoalesce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewRunHandle(cancel)
	h.NotifyChange()
	h.NotifyChange()
	<-h.StatusChanges()
	select {
	case <-h.StatusChanges():
		t.Fatal("notifications should coalesce")
	default:
	}
	h.Cancel()
	if ctx.Err() == nil {
		t.Fatal("Cancel should invoke the cancel func")
	}
}

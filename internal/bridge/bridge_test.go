package bridge

import (
	"io"
	"log/slog"
	"testing"
)

type fakeQueue struct {
	beforePlay    int
	frames        []Track
	endMarkers    int
	stops         int
	pauses        int
	rejectFrames  bool
	stopRequested bool
}

func (q *fakeQueue) BeforePlay() { q.beforePlay++ }

func (q *fakeQueue) AddAudio(track Track) bool {
	if q.rejectFrames {
		return false
	}
	q.frames = append(q.frames, track)
	return true
}

func (q *fakeQueue) AddEndMarker()       { q.endMarkers++ }
func (q *fakeQueue) StopRequested() bool { return q.stopRequested }
func (q *fakeQueue) Stop()               { q.stops++ }
func (q *fakeQueue) Pause()              { q.pauses++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBridge(q PlaybackQueue) *Bridge {
	b := New(q, testLogger())
	b.SetSampleRate(22050)
	return b
}

func TestCallbackForwardsChunk(t *testing.T) {
	q := &fakeQueue{}
	b := newTestBridge(q)

	if cancel := b.Callback(make([]int16, 512), false); cancel {
		t.Fatal("callback requested cancel on a normal chunk")
	}
	if len(q.frames) != 1 {
		t.Fatalf("forwarded %d frames, want 1", len(q.frames))
	}
	frame := q.frames[0]
	if frame.SampleRate != 22050 || frame.Bits != 16 || frame.Channels != 1 {
		t.Fatalf("unexpected frame format: %+v", frame)
	}
	if q.beforePlay == 0 {
		t.Fatal("BeforePlay was never signaled")
	}
}

func TestCallbackEndOfStream(t *testing.T) {
	q := &fakeQueue{}
	b := newTestBridge(q)

	if cancel := b.Callback(nil, false); cancel {
		t.Fatal("end of stream must not report cancel")
	}
	if q.endMarkers != 1 {
		t.Fatalf("end markers = %d, want 1", q.endMarkers)
	}
	if len(q.frames) != 0 {
		t.Fatalf("end of stream forwarded %d frames", len(q.frames))
	}
}

func TestCallbackEngineCancel(t *testing.T) {
	q := &fakeQueue{}
	b := newTestBridge(q)

	if cancel := b.Callback(make([]int16, 10), true); !cancel {
		t.Fatal("engine cancel not propagated")
	}
	if q.stops != 1 {
		t.Fatalf("queue stops = %d, want 1", q.stops)
	}
	if len(q.frames) != 0 {
		t.Fatal("cancelled invocation forwarded audio")
	}
}

func TestCallbackSharedCancel(t *testing.T) {
	q := &fakeQueue{}
	b := newTestBridge(q)

	b.Cancel()
	if cancel := b.Callback(make([]int16, 10), false); !cancel {
		t.Fatal("shared cancel flag not observed")
	}
	if len(q.frames) != 0 {
		t.Fatal("cancelled invocation forwarded audio")
	}

	b.Reset()
	if cancel := b.Callback(make([]int16, 10), false); cancel {
		t.Fatal("cancel flag survived Reset")
	}
}

func TestCallbackQueueStopRequest(t *testing.T) {
	q := &fakeQueue{stopRequested: true}
	b := newTestBridge(q)

	if cancel := b.Callback(make([]int16, 10), false); !cancel {
		t.Fatal("queue stop request not honored")
	}
	if !b.Cancelled() {
		t.Fatal("queue stop request must set the shared flag")
	}
}

func TestCallbackQueueRejection(t *testing.T) {
	q := &fakeQueue{rejectFrames: true}
	b := newTestBridge(q)

	if cancel := b.Callback(make([]int16, 10), false); !cancel {
		t.Fatal("queue rejection must terminate the stream")
	}
}

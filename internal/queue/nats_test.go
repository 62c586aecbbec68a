package queue

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/speechswitch/swbridge/internal/protocol"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMsg
	err  error
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, publishedMsg{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) frames(t *testing.T, subject string) []protocol.AudioFrame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var frames []protocol.AudioFrame
	for _, m := range p.msgs {
		if m.subject != subject {
			continue
		}
		var f protocol.AudioFrame
		if err := json.Unmarshal(m.data, &f); err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		frames = append(frames, f)
	}
	return frames
}

func (p *fakePublisher) statuses(t *testing.T) []protocol.UtteranceStatus {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var statuses []protocol.UtteranceStatus
	for _, m := range p.msgs {
		if m.subject != protocol.SubjectDone {
			continue
		}
		var s protocol.UtteranceStatus
		if err := json.Unmarshal(m.data, &s); err != nil {
			t.Fatalf("undecodable status: %v", err)
		}
		statuses = append(statuses, s)
	}
	return statuses
}

func newTestNATS(pub *fakePublisher) *NATS {
	return newNATS(pub, "default", testLogger())
}

func TestAddAudioPublishesSequencedFrames(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	q.BeforePlay()
	if !q.AddAudio(testTrack([]int16{256, -1})) {
		t.Fatal("AddAudio rejected")
	}
	if !q.AddAudio(testTrack([]int16{0})) {
		t.Fatal("second AddAudio rejected")
	}

	frames := pub.frames(t, "speech.audio.default")
	if len(frames) != 2 {
		t.Fatalf("published %d frames, want 2", len(frames))
	}
	for i, f := range frames {
		if f.UtteranceID != "utt-a" || f.Sequence != i {
			t.Fatalf("frame %d attributed to %q seq %d", i, f.UtteranceID, f.Sequence)
		}
	}
	if frames[0].SampleRate != 22050 || frames[0].Bits != 16 || frames[0].Channels != 1 {
		t.Fatalf("frame format: %+v", frames[0])
	}
	want := []byte{0x00, 0x01, 0xFF, 0xFF}
	if got := frames[0].PCM; len(got) != 4 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] || got[3] != want[3] {
		t.Fatalf("pcm = %v, want %v", got, want)
	}
}

func TestAddEndMarkerPublishesOnce(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	q.AddAudio(testTrack([]int16{1}))
	q.AddEndMarker()
	q.AddEndMarker()

	frames := pub.frames(t, "speech.audio.default")
	if len(frames) != 2 || !frames[1].Final || frames[1].Sequence != 1 {
		t.Fatalf("frames = %+v", frames)
	}
	statuses := pub.statuses(t)
	if len(statuses) != 1 || !statuses[0].Completed || statuses[0].UtteranceID != "utt-a" {
		t.Fatalf("statuses = %+v", statuses)
	}
}

func TestBeginUtteranceResetsFraming(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	q.AddAudio(testTrack([]int16{1}))
	q.AddEndMarker()
	q.Stop()

	q.BeginUtterance("utt-b")
	if q.StopRequested() {
		t.Fatal("stop flag survived BeginUtterance")
	}
	q.AddAudio(testTrack([]int16{2}))
	q.AddEndMarker()

	frames := pub.frames(t, "speech.audio.default")
	last := frames[len(frames)-1]
	if last.UtteranceID != "utt-b" || !last.Final {
		t.Fatalf("final frame = %+v", last)
	}
	for _, f := range frames {
		if f.UtteranceID == "utt-b" && !f.Final && f.Sequence != 0 {
			t.Fatalf("new utterance did not restart sequence: %+v", f)
		}
	}
	var completed int
	for _, s := range pub.statuses(t) {
		if s.Completed && s.UtteranceID == "utt-b" {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("utt-b completed statuses = %d, want 1", completed)
	}
}

func TestStopPublishesCancelledOnce(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	q.Stop()
	q.Stop()
	if !q.StopRequested() {
		t.Fatal("stop not latched")
	}

	var cancelled int
	for _, s := range pub.statuses(t) {
		if s.Cancelled {
			cancelled++
			if s.UtteranceID != "utt-a" {
				t.Fatalf("cancelled status for %q", s.UtteranceID)
			}
		}
	}
	if cancelled != 1 {
		t.Fatalf("cancelled statuses = %d, want 1", cancelled)
	}
}

func TestPausePublishesOncePerUtterance(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	q.Pause()
	q.Pause()
	q.BeginUtterance("utt-b")
	q.Pause()

	var paused []string
	for _, s := range pub.statuses(t) {
		if s.Paused {
			paused = append(paused, s.UtteranceID)
		}
	}
	if len(paused) != 2 || paused[0] != "utt-a" || paused[1] != "utt-b" {
		t.Fatalf("paused statuses = %v", paused)
	}
}

func TestAddAudioPublishFailureRejectsFrame(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection lost")}
	q := newTestNATS(pub)

	q.BeginUtterance("utt-a")
	if q.AddAudio(testTrack([]int16{1})) {
		t.Fatal("AddAudio accepted despite publish failure")
	}
}

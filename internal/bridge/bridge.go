// Package bridge pumps audio from the active engine's callback into the
// host playback queue and carries cancellation in both directions.
package bridge

import (
	"log/slog"
	"sync/atomic"
)

// Track is one frame of synthesized audio handed to the playback queue.
// Samples are 16-bit mono PCM.
type Track struct {
	Bits       int
	Channels   int
	SampleRate int
	Samples    []int16
}

// PlaybackQueue is the host-side audio sink. BeforePlay must be idempotent
// within an utterance. AddAudio returns false when the queue cannot accept
// the frame; that terminates the stream.
type PlaybackQueue interface {
	BeforePlay()
	AddAudio(track Track) bool
	AddEndMarker()
	StopRequested() bool
	Stop()
	Pause()
}

// Bridge adapts the engine audio callback contract to a PlaybackQueue. The
// cancel flag is the only state shared between the foreground and the
// engine's synthesis goroutine, so it is atomic: a stale read costs at most
// one extra forwarded chunk, never a missed cancellation.
type Bridge struct {
	queue      PlaybackQueue
	log        *slog.Logger
	cancel     atomic.Bool
	sampleRate atomic.Int64
}

func New(queue PlaybackQueue, log *slog.Logger) *Bridge {
	return &Bridge{queue: queue, log: log.With(slog.String("component", "bridge"))}
}

// Cancel flips the shared cancellation flag. Non-blocking; the synthesis
// goroutine observes it on its next callback invocation.
func (b *Bridge) Cancel() { b.cancel.Store(true) }

// Reset clears the flag before a new utterance begins.
func (b *Bridge) Reset() { b.cancel.Store(false) }

func (b *Bridge) Cancelled() bool { return b.cancel.Load() }

// SetSampleRate records the active engine's rate. Called by the foreground
// only while no synthesis task is running.
func (b *Bridge) SetSampleRate(rate int) { b.sampleRate.Store(int64(rate)) }

// Callback is invoked by the engine once per produced chunk, on the engine's
// goroutine. The boolean return is the sole cancellation signal back to the
// engine: true means stop producing.
func (b *Bridge) Callback(samples []int16, engineCancel bool) bool {
	if engineCancel || b.cancel.Load() {
		b.queue.Stop()
		b.log.Debug("synthesis cancelled")
		return true
	}
	if b.queue.StopRequested() {
		b.cancel.Store(true)
		b.log.Debug("playback queue requested stop")
		return true
	}
	if len(samples) == 0 {
		// End of stream. Not an error and not a cancellation.
		b.queue.BeforePlay()
		b.queue.AddEndMarker()
		return false
	}
	b.queue.BeforePlay()
	track := Track{
		Bits:       16,
		Channels:   1,
		SampleRate: int(b.sampleRate.Load()),
		Samples:    samples,
	}
	if !b.queue.AddAudio(track) {
		b.log.Warn("playback queue rejected audio frame")
		return true
	}
	return b.cancel.Load()
}

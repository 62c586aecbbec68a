// Package queue provides playback queue implementations: the NATS publisher
// that streams frames to the host, and a WAV capture tee for debugging.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/speechswitch/swbridge/internal/bridge"
	"github.com/speechswitch/swbridge/internal/bus"
	"github.com/speechswitch/swbridge/internal/protocol"
)

// Queue extends the bridge's playback contract with per-utterance framing.
// BeginUtterance is called by the service before each speak, while no
// synthesis task is running.
type Queue interface {
	bridge.PlaybackQueue
	BeginUtterance(id string)
}

// Publisher is the transport the queue publishes frames and statuses on.
// Satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS streams audio frames over the bus to "speech.audio.<target>" and
// completion statuses to "speech.done".
type NATS struct {
	pub     Publisher
	subject string
	log     *slog.Logger

	mu        sync.Mutex
	utterance string
	sequence  int
	announced bool
	ended     bool

	stop   atomic.Bool
	paused atomic.Bool

	frames metric.Int64Counter
}

func NewNATS(busClient *bus.Client, target string, log *slog.Logger) *NATS {
	return newNATS(busClient.Conn(), target, log)
}

func newNATS(pub Publisher, target string, log *slog.Logger) *NATS {
	q := &NATS{
		pub:     pub,
		subject: protocol.SubjectAudioPrefix + "." + target,
		log:     log.With(slog.String("component", "playback-queue")),
	}
	var err error
	q.frames, err = otel.Meter("github.com/speechswitch/swbridge/queue").Int64Counter(
		"swbridge.audio_frames",
		metric.WithDescription("Audio frames published to the playback target"))
	if err != nil {
		q.log.Warn("failed to register frame counter", slog.String("error", err.Error()))
	}
	return q
}

func (q *NATS) BeginUtterance(id string) {
	q.mu.Lock()
	q.utterance = id
	q.sequence = 0
	q.announced = false
	q.ended = false
	q.mu.Unlock()
	q.stop.Store(false)
	q.paused.Store(false)
}

func (q *NATS) BeforePlay() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.announced {
		return
	}
	q.announced = true
	q.log.Debug("utterance playback starting", slog.String("utterance", q.utterance))
}

func (q *NATS) AddAudio(track bridge.Track) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	frame := protocol.AudioFrame{
		UtteranceID: q.utterance,
		Sequence:    q.sequence,
		SampleRate:  track.SampleRate,
		Channels:    track.Channels,
		Bits:        track.Bits,
		PCM:         encodePCM(track.Samples),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		q.log.Warn("failed to marshal audio frame", slog.String("error", err.Error()))
		return false
	}
	if err := q.pub.Publish(q.subject, data); err != nil {
		q.log.Warn("failed to publish audio frame", slog.String("error", err.Error()))
		return false
	}
	q.sequence++
	if q.frames != nil {
		q.frames.Add(context.Background(), 1)
	}
	return true
}

func (q *NATS) AddEndMarker() {
	q.mu.Lock()
	utterance := q.utterance
	sequence := q.sequence
	ended := q.ended
	q.ended = true
	q.mu.Unlock()
	if ended {
		return
	}
	frame := protocol.AudioFrame{UtteranceID: utterance, Sequence: sequence, Final: true}
	if data, err := json.Marshal(frame); err == nil {
		_ = q.pub.Publish(q.subject, data)
	}
	q.publishStatus(protocol.UtteranceStatus{
		UtteranceID: utterance,
		Completed:   true,
		Timestamp:   time.Now().UTC(),
	})
}

func (q *NATS) StopRequested() bool { return q.stop.Load() }

func (q *NATS) Stop() {
	if !q.stop.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	utterance := q.utterance
	q.mu.Unlock()
	q.publishStatus(protocol.UtteranceStatus{
		UtteranceID: utterance,
		Cancelled:   true,
		Timestamp:   time.Now().UTC(),
	})
}

// Pause tells the playback target to hold the current utterance. Published at
// most once per utterance; BeginUtterance rearms it.
func (q *NATS) Pause() {
	if !q.paused.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	utterance := q.utterance
	q.mu.Unlock()
	q.publishStatus(protocol.UtteranceStatus{
		UtteranceID: utterance,
		Paused:      true,
		Timestamp:   time.Now().UTC(),
	})
	q.log.Debug("playback paused", slog.String("utterance", utterance))
}

func (q *NATS) publishStatus(status protocol.UtteranceStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := q.pub.Publish(protocol.SubjectDone, data); err != nil {
		q.log.Warn("failed to publish utterance status", slog.String("error", err.Error()))
	}
}

func encodePCM(samples []int16) []byte {
	raw := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return raw
}

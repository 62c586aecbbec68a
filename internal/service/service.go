// Package service exposes the speak dispatcher over the message bus.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/speechswitch/swbridge/internal/bus"
	"github.com/speechswitch/swbridge/internal/dispatch"
	"github.com/speechswitch/swbridge/internal/history"
	"github.com/speechswitch/swbridge/internal/protocol"
	"github.com/speechswitch/swbridge/internal/queue"
)

type Service struct {
	bus     *bus.Client
	disp    *dispatch.Dispatcher
	queue   queue.Queue
	history *history.Store
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	utterances metric.Int64Counter
	stops      metric.Int64Counter
}

func New(parent context.Context, busClient *bus.Client, disp *dispatch.Dispatcher, q queue.Queue, hist *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		bus:     busClient,
		disp:    disp,
		queue:   q,
		history: hist,
		log:     log.With(slog.String("component", "speech-service")),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter("github.com/speechswitch/swbridge/service")
	var err error
	s.utterances, err = meter.Int64Counter("swbridge.utterances",
		metric.WithDescription("Speak requests accepted or rejected"))
	if err != nil {
		s.log.Warn("failed to register utterance counter", slog.String("error", err.Error()))
	}
	s.stops, err = meter.Int64Counter("swbridge.stops",
		metric.WithDescription("Stop and cancel requests received"))
	if err != nil {
		s.log.Warn("failed to register stop counter", slog.String("error", err.Error()))
	}
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	for subject, handler := range map[string]nats.MsgHandler{
		protocol.SubjectSay:    s.handleSay,
		protocol.SubjectStop:   s.handleStop,
		protocol.SubjectPause:  s.handlePause,
		protocol.SubjectCancel: s.handleCancel,
		protocol.SubjectVoices: s.handleVoices,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			s.Close()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
	s.wg.Wait()
	s.disp.Close()
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

// handleSay stages any parameter updates carried by the request, then hands
// the text to the dispatcher. Speak returns as soon as the background task
// is launched; audio flows out through the playback queue afterwards.
func (s *Service) handleSay(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode speak request", slog.String("error", err.Error()))
		return
	}

	if req.Voice != "" {
		s.disp.SetVoiceName(req.Voice)
	}
	if req.Language != "" {
		s.disp.SetLanguage(req.Language)
	}
	if req.Rate != nil {
		s.disp.SetRate(*req.Rate)
	}
	if req.Pitch != nil {
		s.disp.SetPitch(*req.Pitch)
	}
	if req.Punctuation != nil {
		s.disp.SetPunctuation(*req.Punctuation)
	}
	if req.Volume != nil {
		s.disp.SetVolume(*req.Volume)
	}
	if req.PitchRange != nil {
		s.disp.SetPitchRange(*req.PitchRange)
	}

	id := req.UtteranceID
	if id == "" {
		id = uuid.NewString()
	}
	msgType := dispatch.ParseMessageType(req.Type)

	// The previous task's frames must finish publishing under their own
	// utterance id before the queue state is reset for this one.
	s.disp.Join()
	s.queue.BeginUtterance(id)
	bytes, err := s.disp.Speak(req.Text, msgType)
	outcome := "accepted"
	if err != nil {
		outcome = "failed"
		s.log.Warn("speak request failed",
			slog.String("utterance", id), slog.String("error", err.Error()))
		s.publishStatus(protocol.UtteranceStatus{
			UtteranceID: id,
			Error:       err.Error(),
			Timestamp:   time.Now().UTC(),
		})
	}
	if s.utterances != nil {
		s.utterances.Add(s.ctx, 1,
			metric.WithAttributes(
				attribute.String("outcome", outcome),
				attribute.String("type", msgType.String())))
	}
	s.recordHistory(history.Utterance{
		ID:          id,
		Voice:       req.Voice,
		MessageType: msgType.String(),
		Bytes:       bytes,
		Outcome:     outcome,
	})
}

func (s *Service) handleStop(*nats.Msg) {
	s.disp.Stop()
	s.countStop("stop")
}

func (s *Service) handlePause(*nats.Msg) {
	s.disp.Pause()
}

func (s *Service) handleCancel(*nats.Msg) {
	s.disp.CancelUtterance()
	s.countStop("cancel")
}

func (s *Service) handleVoices(msg *nats.Msg) {
	descriptors := s.disp.Voices()
	voices := make([]protocol.VoiceInfo, 0, len(descriptors))
	for _, d := range descriptors {
		voices = append(voices, protocol.VoiceInfo{Name: d.Name, Language: d.Language, Variant: d.Variant})
	}
	data, err := json.Marshal(voices)
	if err != nil {
		s.log.Warn("failed to marshal voice list", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to reply with voice list", slog.String("error", err.Error()))
	}
}

func (s *Service) countStop(kind string) {
	if s.stops != nil {
		s.stops.Add(s.ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (s *Service) recordHistory(u history.Utterance) {
	if s.history == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.history.Record(ctx, u); err != nil {
			s.log.Warn("failed to record utterance", slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) publishStatus(status protocol.UtteranceStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectDone, data); err != nil {
		s.log.Warn("failed to publish utterance status", slog.String("error", err.Error()))
	}
}

// Package session owns the single active synthesis engine handle and the
// rules for switching it safely.
package session

import (
	"log/slog"

	"github.com/speechswitch/swbridge/internal/engine"
	"github.com/speechswitch/swbridge/internal/params"
	"github.com/speechswitch/swbridge/internal/voice"
)

// Session is either idle (no engine) or active with exactly one live engine
// handle. All methods are foreground-only: the dispatcher guarantees no
// synthesis task is running while the session mutates.
type Session struct {
	driver   engine.Driver
	callback engine.AudioCallback
	log      *slog.Logger

	eng        engine.Engine
	provider   string
	voiceID    string
	sampleRate int
}

func New(driver engine.Driver, callback engine.AudioCallback, log *slog.Logger) *Session {
	return &Session{
		driver:   driver,
		callback: callback,
		log:      log.With(slog.String("component", "session")),
	}
}

func (s *Session) Active() bool          { return s.eng != nil }
func (s *Session) Engine() engine.Engine { return s.eng }
func (s *Session) Provider() string      { return s.provider }
func (s *Session) SampleRate() int       { return s.sampleRate }

// Stop releases the active engine and returns to idle. Idempotent.
func (s *Session) Stop() {
	if s.eng == nil {
		return
	}
	s.eng.Stop()
	s.eng = nil
	s.provider = ""
	s.voiceID = ""
	s.sampleRate = 0
}

// startProvider ensures the named provider is the active engine. The old
// handle is always released before the new one starts; two live handles
// never coexist. Returns false and stays idle when the provider won't start.
func (s *Session) startProvider(name string) bool {
	if s.eng != nil {
		if s.provider == name {
			return true
		}
		s.Stop()
	}
	eng, err := s.driver.Start(name, s.callback)
	if err != nil {
		s.log.Warn("engine failed to start", slog.String("provider", name), slog.String("error", err.Error()))
		return false
	}
	s.eng = eng
	s.provider = name
	s.sampleRate = eng.SampleRate()
	s.log.Info("engine started", slog.String("provider", name), slog.Int("sample_rate", s.sampleRate))
	return true
}

// EnsureVoice makes the session's engine and selected voice match the given
// composite name. Unknown names are ignored with a warning: the host asked
// for a voice we never advertised and the request is simply dropped.
func (s *Session) EnsureVoice(catalog *voice.Catalog, compositeName string) bool {
	desc, ok := catalog.Find(compositeName)
	if !ok {
		s.log.Warn("unknown synthesis voice", slog.String("voice", compositeName))
		return false
	}
	provider, voiceName, err := voice.SplitComposite(desc.Name)
	if err != nil {
		s.log.Warn("unusable voice descriptor", slog.String("error", err.Error()))
		return false
	}
	if s.eng != nil && s.provider != provider {
		s.Stop()
	}
	if s.eng == nil && !s.startProvider(provider) {
		return false
	}
	id := voice.JoinVoiceID(voiceName, desc.Language)
	if s.voiceID != id {
		if !s.eng.SetVoice(id) {
			s.log.Warn("engine rejected voice", slog.String("voice_id", id))
			return false
		}
		s.voiceID = id
	}
	return true
}

// EnsureStarted brings up some engine when speech is required but no voice
// was ever requested: the preferred provider first, then every catalog
// provider in discovery order.
func (s *Session) EnsureStarted(catalog *voice.Catalog, preferred string) bool {
	if s.eng != nil {
		return true
	}
	if preferred != "" && s.startProvider(preferred) {
		return true
	}
	for _, provider := range catalog.Providers() {
		if s.startProvider(provider) {
			return true
		}
	}
	s.log.Warn("all providers failed to start")
	return false
}

// ApplyRate, ApplyPitch and ApplyPunctuation forward translated parameters to
// the active engine. Rejections are logged and otherwise ignored; the
// parameter just doesn't take effect.

func (s *Session) ApplyRate(rate int) {
	if s.eng == nil {
		return
	}
	speed := params.Speed(rate)
	if !s.eng.SetSpeed(speed) {
		s.log.Warn("engine rejected speed", slog.Float64("speed", speed))
	}
}

func (s *Session) ApplyPitch(pitch int) {
	if s.eng == nil {
		return
	}
	mult := params.PitchMultiplier(pitch)
	if !s.eng.SetPitch(mult) {
		s.log.Warn("engine rejected pitch", slog.Float64("pitch", mult))
	}
}

func (s *Session) ApplyPunctuation(mode string) {
	if s.eng == nil {
		return
	}
	level := params.Punctuation(mode)
	if !s.eng.SetPunctuation(level) {
		s.log.Warn("engine rejected punctuation level", slog.String("level", level.String()))
	}
}

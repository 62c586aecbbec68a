// Package dispatch accepts speak requests from the host, keeps the
// foreground responsive, and runs synthesis on a background goroutine.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/speechswitch/swbridge/internal/bridge"
	"github.com/speechswitch/swbridge/internal/engine"
	"github.com/speechswitch/swbridge/internal/session"
	"github.com/speechswitch/swbridge/internal/voice"
)

// MessageType classifies a speak request.
type MessageType int

const (
	MessageText MessageType = iota
	MessageCharacter
	MessageKey
	MessageSoundIcon
	MessageSpell
)

func (m MessageType) String() string {
	switch m {
	case MessageText:
		return "text"
	case MessageCharacter:
		return "character"
	case MessageKey:
		return "key"
	case MessageSoundIcon:
		return "sound_icon"
	case MessageSpell:
		return "spell"
	}
	return "unknown"
}

// ParseMessageType maps the wire name onto a MessageType; anything
// unrecognized is treated as plain text.
func ParseMessageType(s string) MessageType {
	switch s {
	case "character":
		return MessageCharacter
	case "key":
		return MessageKey
	case "sound_icon":
		return MessageSoundIcon
	case "spell":
		return MessageSpell
	}
	return MessageText
}

var (
	ErrClosed   = errors.New("dispatcher closed")
	ErrNoEngine = errors.New("no synthesis engine available")
)

// settings stages parameter updates delivered by the host between speak
// calls. Each flag marks a value that changed since it was last applied.
type settings struct {
	voiceName   string
	voiceDirty  bool
	rate        int
	rateDirty   bool
	pitch       int
	pitchDirty  bool
	punctuation string
	punctDirty  bool
}

// Dispatcher is the host-facing core: voice catalog, engine session,
// streaming bridge and the single background synthesis task.
//
// Speak, the Set* methods, Voices, Refresh and Close are foreground calls and
// are serialized by mu. Stop, Pause and CancelUtterance deliberately take no
// lock: they must stay non-blocking while a synthesis task is mid-flight.
type Dispatcher struct {
	driver  engine.Driver
	queue   bridge.PlaybackQueue
	bridge  *bridge.Bridge
	session *session.Session
	log     *slog.Logger

	catalog atomic.Pointer[voice.Catalog]

	defaultProvider string

	mu      sync.Mutex
	pending settings
	task    chan struct{}
	closed  bool
}

// New builds the catalog and wires the session and bridge. Returns
// voice.ErrNoVoices when no provider yields any voice; the caller must treat
// that as fatal.
func New(driver engine.Driver, queue bridge.PlaybackQueue, defaultProvider string, log *slog.Logger) (*Dispatcher, error) {
	catalog, err := voice.Build(driver, log)
	if err != nil {
		return nil, fmt.Errorf("build voice catalog: %w", err)
	}
	d := &Dispatcher{
		driver:          driver,
		queue:           queue,
		defaultProvider: defaultProvider,
		log:             log.With(slog.String("component", "dispatch")),
	}
	d.catalog.Store(catalog)
	d.bridge = bridge.New(queue, log)
	d.session = session.New(driver, d.bridge.Callback, log)
	return d, nil
}

// Voices returns the current catalog's descriptors, read-only.
func (d *Dispatcher) Voices() []voice.Descriptor {
	catalog := d.catalog.Load()
	if catalog == nil {
		return nil
	}
	return catalog.Descriptors()
}

// Refresh rebuilds the voice catalog and swaps it in atomically. The old
// catalog stays fully valid until the replacement completes; on failure it
// remains in place.
func (d *Dispatcher) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	catalog, err := voice.Build(d.driver, d.log)
	if err != nil {
		return err
	}
	d.catalog.Store(catalog)
	return nil
}

// SetVoiceName stages a voice change applied on the next Speak.
func (d *Dispatcher) SetVoiceName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.voiceName = name
	d.pending.voiceDirty = true
}

// SetRate stages a rate in [-100, 100].
func (d *Dispatcher) SetRate(rate int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.rate = rate
	d.pending.rateDirty = true
}

// SetPitch stages a pitch in [-100, 100].
func (d *Dispatcher) SetPitch(pitch int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.pitch = pitch
	d.pending.pitchDirty = true
}

// SetPunctuation stages a punctuation mode: all, most, some or none.
func (d *Dispatcher) SetPunctuation(mode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.punctuation = mode
	d.pending.punctDirty = true
}

// SetLanguage is accepted and ignored: language is carried by the voice id.
func (d *Dispatcher) SetLanguage(string) {}

// SetVoiceType is accepted and ignored; voice selection goes by name.
func (d *Dispatcher) SetVoiceType(string) {}

// SetVolume is accepted and ignored: providers expose no volume control.
func (d *Dispatcher) SetVolume(int) {}

// SetPitchRange is accepted and ignored: providers expose no equivalent.
func (d *Dispatcher) SetPitchRange(int) {}

// SetCapitalMode is accepted and ignored.
func (d *Dispatcher) SetCapitalMode(string) {}

// Speak runs synthesis for text in the background and returns immediately
// with the accepted byte count. It first waits for any previous task so no
// two provider speak calls ever overlap, then applies staged parameters and
// resolves the engine.
func (d *Dispatcher) Speak(text string, msgType MessageType) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	d.join()

	catalog := d.catalog.Load()
	if d.pending.voiceDirty {
		d.session.EnsureVoice(catalog, d.pending.voiceName)
		d.pending.voiceDirty = false
	}
	if !d.session.Active() && !d.session.EnsureStarted(catalog, d.defaultProvider) {
		return 0, ErrNoEngine
	}
	if d.pending.rateDirty {
		d.session.ApplyRate(d.pending.rate)
		d.pending.rateDirty = false
	}
	if d.pending.pitchDirty {
		d.session.ApplyPitch(d.pending.pitch)
		d.pending.pitchDirty = false
	}
	if d.pending.punctDirty {
		d.session.ApplyPunctuation(d.pending.punctuation)
		d.pending.punctDirty = false
	}

	d.bridge.SetSampleRate(d.session.SampleRate())
	d.bridge.Reset()

	eng := d.session.Engine()
	done := make(chan struct{})
	d.task = done
	go d.runSpeak(eng, text, msgType, done)
	return len(text), nil
}

// Join waits for any in-flight synthesis task to finish without starting a
// new one. Callers that reset per-utterance state ahead of Speak use it as a
// fence: until the previous task is joined, its frames are still flowing into
// the playback queue and must keep their original attribution.
func (d *Dispatcher) Join() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.join()
}

// join waits for the in-flight synthesis task, if any. Callers hold mu.
func (d *Dispatcher) join() {
	if d.task == nil {
		return
	}
	<-d.task
	d.task = nil
}

func (d *Dispatcher) runSpeak(eng engine.Engine, text string, msgType MessageType, done chan struct{}) {
	defer close(done)
	var ok bool
	switch msgType {
	case MessageText, MessageKey:
		ok = eng.Speak(text)
	case MessageCharacter:
		char := text
		if text == "space" {
			char = " "
		}
		ok = eng.SpeakChar(char)
	case MessageSoundIcon, MessageSpell:
		// Accepted but not synthesized here.
		return
	default:
		d.log.Warn("ignoring message", slog.String("type", msgType.String()))
		return
	}
	if !ok {
		d.log.Warn("synthesis failed", slog.String("type", msgType.String()))
	}
}

// Stop cancels the current utterance and flushes host playback. Never
// blocks; termination is observed through the next callback invocation.
func (d *Dispatcher) Stop() {
	d.bridge.Cancel()
	d.queue.Stop()
}

// Pause forwards a pause to the host playback queue.
func (d *Dispatcher) Pause() {
	d.queue.Pause()
}

// CancelUtterance flips the cancellation flag without touching playback.
func (d *Dispatcher) CancelUtterance() {
	d.bridge.Cancel()
}

// Speaking reports whether a synthesis task is currently in flight.
func (d *Dispatcher) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task == nil {
		return false
	}
	select {
	case <-d.task:
		return false
	default:
		return true
	}
}

// Close cancels any in-flight utterance, waits for the task to finish, tears
// down the engine session and releases the catalog. The only blocking stop
// path; no further calls are valid afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.bridge.Cancel()
	if d.task != nil && d.session.Active() {
		// The callback cannot unwind the engine's own loop; force it.
		d.session.Engine().RequestCancel()
	}
	d.join()
	d.session.Stop()
	d.catalog.Store(nil)
	d.log.Info("dispatcher closed")
}

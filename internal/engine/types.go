package engine

// PunctuationLevel selects how much punctuation an engine speaks aloud.
type PunctuationLevel int

const (
	PunctNone PunctuationLevel = iota
	PunctSome
	PunctMost
	PunctAll
)

func (p PunctuationLevel) String() string {
	switch p {
	case PunctNone:
		return "none"
	case PunctSome:
		return "some"
	case PunctMost:
		return "most"
	case PunctAll:
		return "all"
	}
	return "unknown"
}

// AudioCallback receives 16-bit mono PCM from an engine while a speak call is
// in flight. It runs on the goroutine driving synthesis, not the caller's.
// An empty samples slice signals end of stream. cancel is set when the engine
// itself is aborting. Returning true tells the engine to stop producing.
type AudioCallback func(samples []int16, cancel bool) bool

// Engine is a live handle to one synthesis provider.
type Engine interface {
	// SampleRate reports the fixed output rate of this engine in Hz.
	SampleRate() int
	// Voices lists voice ids in "<name>,<language>" form.
	Voices() ([]string, error)
	SetVoice(id string) bool
	SetSpeed(multiplier float64) bool
	SetPitch(multiplier float64) bool
	SetPunctuation(level PunctuationLevel) bool
	// Speak synthesizes text, blocking until the engine finishes or the
	// callback asks it to stop.
	Speak(text string) bool
	// SpeakChar speaks a single UTF-8 character, blocking like Speak.
	SpeakChar(char string) bool
	// RequestCancel asks the engine to abort an in-flight Speak. Safe to
	// call from another goroutine.
	RequestCancel()
	// Stop releases the engine's resources. The handle is dead afterwards.
	Stop()
}

// Driver discovers providers and starts engine handles.
type Driver interface {
	// List returns the available provider names in discovery order.
	List() ([]string, error)
	// Start launches the named provider. A nil callback starts the engine
	// in listing mode: it may enumerate voices but must not speak.
	Start(name string, callback AudioCallback) (Engine, error)
}

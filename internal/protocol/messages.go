package protocol

import "time"

// SpeakRequest asks the bridge to synthesize an utterance. The optional
// fields are parameter updates applied before synthesis starts; absent
// fields leave the previous setting in place.
type SpeakRequest struct {
	UtteranceID string  `json:"utterance_id,omitempty"`
	Text        string  `json:"text"`
	Type        string  `json:"type,omitempty"`
	Voice       string  `json:"voice,omitempty"`
	Language    string  `json:"language,omitempty"`
	Rate        *int    `json:"rate,omitempty"`
	Pitch       *int    `json:"pitch,omitempty"`
	Punctuation *string `json:"punctuation,omitempty"`
	Volume      *int    `json:"volume,omitempty"`
	PitchRange  *int    `json:"pitch_range,omitempty"`
}

// AudioFrame is one chunk of synthesized PCM streamed to the playback
// target. PCM bytes are 16-bit little-endian mono.
type AudioFrame struct {
	UtteranceID string `json:"utterance_id"`
	Sequence    int    `json:"sequence"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Bits        int    `json:"bits"`
	PCM         []byte `json:"pcm"`
	Final       bool   `json:"final"`
}

// UtteranceStatus reports a state change of an utterance's audio stream:
// completed, cancelled, paused or failed.
type UtteranceStatus struct {
	UtteranceID string    `json:"utterance_id"`
	Completed   bool      `json:"completed"`
	Cancelled   bool      `json:"cancelled"`
	Paused      bool      `json:"paused"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// VoiceInfo is one catalog entry in a voices reply.
type VoiceInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Variant  string `json:"variant"`
}

const (
	SubjectSay         = "speech.say"
	SubjectStop        = "speech.stop"
	SubjectPause       = "speech.pause"
	SubjectCancel      = "speech.cancel"
	SubjectVoices      = "speech.voices"
	SubjectAudioPrefix = "speech.audio"
	SubjectDone        = "speech.done"
)

package queue

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/speechswitch/swbridge/internal/bridge"
)

// Capture tees every forwarded frame into a per-utterance WAV file while
// delegating the playback contract to the wrapped queue. Capture failures
// never fail playback; they are logged and the file is abandoned.
type Capture struct {
	inner Queue
	dir   string
	log   *slog.Logger

	mu   sync.Mutex
	file *os.File
	enc  *wav.Encoder
	id   string
}

func NewCapture(inner Queue, dir string, log *slog.Logger) *Capture {
	return &Capture{
		inner: inner,
		dir:   dir,
		log:   log.With(slog.String("component", "wav-capture")),
	}
}

func (c *Capture) BeginUtterance(id string) {
	c.mu.Lock()
	c.closeLocked()
	c.id = id
	c.mu.Unlock()
	c.inner.BeginUtterance(id)
}

func (c *Capture) BeforePlay() { c.inner.BeforePlay() }

func (c *Capture) AddAudio(track bridge.Track) bool {
	accepted := c.inner.AddAudio(track)
	if accepted {
		c.write(track)
	}
	return accepted
}

func (c *Capture) AddEndMarker() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	c.inner.AddEndMarker()
}

func (c *Capture) StopRequested() bool { return c.inner.StopRequested() }

func (c *Capture) Stop() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	c.inner.Stop()
}

func (c *Capture) Pause() { c.inner.Pause() }

// Close finalizes any open capture file. Called on shutdown.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Capture) write(track bridge.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc == nil && !c.openLocked(track) {
		return
	}
	data := make([]int, len(track.Samples))
	for i, s := range track.Samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: track.Channels, SampleRate: track.SampleRate},
		SourceBitDepth: track.Bits,
	}
	if err := c.enc.Write(buf); err != nil {
		c.log.Warn("wav capture write failed", slog.String("error", err.Error()))
		c.closeLocked()
	}
}

func (c *Capture) openLocked(track bridge.Track) bool {
	path := filepath.Join(c.dir, c.id+".wav")
	file, err := os.Create(path)
	if err != nil {
		c.log.Warn("wav capture open failed", slog.String("error", err.Error()))
		return false
	}
	c.file = file
	c.enc = wav.NewEncoder(file, track.SampleRate, track.Bits, track.Channels, 1)
	return true
}

func (c *Capture) closeLocked() {
	if c.enc != nil {
		if err := c.enc.Close(); err != nil {
			c.log.Warn("wav capture close failed", slog.String("error", err.Error()))
		}
		c.enc = nil
	}
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
}

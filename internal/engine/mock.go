package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockProvider describes one scripted provider for the mock driver.
type MockProvider struct {
	Name         string
	Voices       []string
	SampleRate   int
	FailStart    bool
	ChunkCount   int
	ChunkSamples int
	ChunkDelay   time.Duration
}

// MockDriver serves scripted in-process providers. It backs the daemon's
// mock mode and doubles as a controllable fake in tests.
type MockDriver struct {
	providers []MockProvider

	mu   sync.Mutex
	live int
	peak int
}

func NewMockDriver(providers ...MockProvider) *MockDriver {
	return &MockDriver{providers: providers}
}

// DefaultMockDriver returns the provider set used when the daemon runs with
// engines.mode: mock.
func DefaultMockDriver() *MockDriver {
	return NewMockDriver(MockProvider{
		Name:         "mock",
		Voices:       []string{"English,en-us", "Deutsch,de-de"},
		SampleRate:   22050,
		ChunkCount:   3,
		ChunkSamples: 2205,
	})
}

func (d *MockDriver) List() ([]string, error) {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name)
	}
	return names, nil
}

func (d *MockDriver) Start(name string, callback AudioCallback) (Engine, error) {
	for _, p := range d.providers {
		if p.Name != name {
			continue
		}
		if p.FailStart {
			return nil, fmt.Errorf("mock provider %s refuses to start", name)
		}
		d.mu.Lock()
		d.live++
		if d.live > d.peak {
			d.peak = d.live
		}
		d.mu.Unlock()
		return &mockEngine{driver: d, provider: p, callback: callback}, nil
	}
	return nil, fmt.Errorf("unknown mock provider %s", name)
}

// PeakLiveEngines reports the maximum number of concurrently live handles
// observed, for asserting the single-engine invariant in tests.
func (d *MockDriver) PeakLiveEngines() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func (d *MockDriver) LiveEngines() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

type mockEngine struct {
	driver   *MockDriver
	provider MockProvider
	callback AudioCallback

	mu      sync.Mutex
	voice   string
	speed   float64
	pitch   float64
	punct   PunctuationLevel
	stopped bool
	cancel  atomic.Bool
}

func (e *mockEngine) SampleRate() int {
	if e.provider.SampleRate > 0 {
		return e.provider.SampleRate
	}
	return 22050
}

func (e *mockEngine) Voices() ([]string, error) {
	return append([]string(nil), e.provider.Voices...), nil
}

func (e *mockEngine) SetVoice(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voice = id
	return true
}

func (e *mockEngine) SetSpeed(multiplier float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = multiplier
	return true
}

func (e *mockEngine) SetPitch(multiplier float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pitch = multiplier
	return true
}

func (e *mockEngine) SetPunctuation(level PunctuationLevel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.punct = level
	return true
}

func (e *mockEngine) Voice() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voice
}

func (e *mockEngine) Speak(string) bool     { return e.synthesize() }
func (e *mockEngine) SpeakChar(string) bool { return e.synthesize() }

func (e *mockEngine) synthesize() bool {
	if e.callback == nil {
		return false
	}
	e.cancel.Store(false)
	chunks := e.provider.ChunkCount
	if chunks <= 0 {
		chunks = 1
	}
	samplesPerChunk := e.provider.ChunkSamples
	if samplesPerChunk <= 0 {
		samplesPerChunk = 1024
	}
	for i := 0; i < chunks; i++ {
		if e.provider.ChunkDelay > 0 {
			time.Sleep(e.provider.ChunkDelay)
		}
		if e.callback(make([]int16, samplesPerChunk), e.cancel.Load()) {
			return true
		}
	}
	e.callback(nil, false)
	return true
}

func (e *mockEngine) RequestCancel() { e.cancel.Store(true) }

func (e *mockEngine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	e.driver.mu.Lock()
	e.driver.live--
	e.driver.mu.Unlock()
}

package engine

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execDriver hosts each provider as an external binary found in a directory.
// The wire protocol is line-delimited JSON on stdin/stdout: one request line
// per operation, one response line back, except speak which streams chunk
// lines until a final one.
type execDriver struct {
	dir    string
	runner []string
	log    *slog.Logger
}

// NewExecDriver returns a Driver that discovers provider binaries under dir.
// runner, when non-empty, is a command prefix (an interpreter, a sandbox
// wrapper) parsed shell-style and prepended to every engine invocation.
func NewExecDriver(dir, runner string, log *slog.Logger) (Driver, error) {
	if dir == "" {
		return nil, fmt.Errorf("engine directory not set")
	}
	var prefix []string
	if runner != "" {
		parser := shellwords.NewParser()
		args, err := parser.Parse(runner)
		if err != nil {
			return nil, fmt.Errorf("parse engine runner: %w", err)
		}
		prefix = args
	}
	return &execDriver{dir: dir, runner: prefix, log: log}, nil
}

func (d *execDriver) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list engines in %s: %w", d.dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (d *execDriver) Start(name string, callback AudioCallback) (Engine, error) {
	argv := append(append([]string{}, d.runner...), filepath.Join(d.dir, name))
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine %s stdin: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine %s stdout: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	e := &execEngine{
		name:     name,
		cmd:      cmd,
		stdin:    stdin,
		out:      scanner,
		callback: callback,
		log:      d.log.With(slog.String("engine", name)),
	}

	resp, err := e.roundTrip(execRequest{Op: "sample_rate"})
	if err != nil {
		e.Stop()
		return nil, fmt.Errorf("engine %s handshake: %w", name, err)
	}
	if resp.SampleRate <= 0 {
		e.Stop()
		return nil, fmt.Errorf("engine %s reported sample rate %d", name, resp.SampleRate)
	}
	e.sampleRate = resp.SampleRate
	return e, nil
}

type execRequest struct {
	Op    string  `json:"op"`
	Text  string  `json:"text,omitempty"`
	Value string  `json:"value,omitempty"`
	Float float64 `json:"float,omitempty"`
}

type execResponse struct {
	OK         bool     `json:"ok"`
	SampleRate int      `json:"sample_rate,omitempty"`
	Voices     []string `json:"voices,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type execChunk struct {
	PCMBase64 string `json:"pcm_base64,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Error     string `json:"error,omitempty"`
}

type execEngine struct {
	name       string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	out        *bufio.Scanner
	callback   AudioCallback
	log        *slog.Logger
	sampleRate int

	// writeMu guards stdin: RequestCancel may interleave with a streaming
	// speak exchange. reqMu serializes whole request/response exchanges.
	writeMu sync.Mutex
	reqMu   sync.Mutex
	stopped bool
}

func (e *execEngine) send(req execRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err = e.stdin.Write(append(data, '\n'))
	return err
}

func (e *execEngine) readLine(v any) error {
	for e.out.Scan() {
		line := e.out.Bytes()
		if len(line) == 0 {
			continue
		}
		return json.Unmarshal(line, v)
	}
	if err := e.out.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (e *execEngine) roundTrip(req execRequest) (execResponse, error) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if err := e.send(req); err != nil {
		return execResponse{}, err
	}
	var resp execResponse
	if err := e.readLine(&resp); err != nil {
		return execResponse{}, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("engine %s: %s", e.name, resp.Error)
	}
	return resp, nil
}

func (e *execEngine) SampleRate() int { return e.sampleRate }

func (e *execEngine) Voices() ([]string, error) {
	resp, err := e.roundTrip(execRequest{Op: "voices"})
	if err != nil {
		return nil, err
	}
	return resp.Voices, nil
}

func (e *execEngine) control(req execRequest) bool {
	resp, err := e.roundTrip(req)
	if err != nil {
		e.log.Warn("engine control request failed",
			slog.String("op", req.Op), slog.String("error", err.Error()))
		return false
	}
	return resp.OK
}

func (e *execEngine) SetVoice(id string) bool {
	return e.control(execRequest{Op: "set_voice", Value: id})
}

func (e *execEngine) SetSpeed(multiplier float64) bool {
	return e.control(execRequest{Op: "set_speed", Float: multiplier})
}

func (e *execEngine) SetPitch(multiplier float64) bool {
	return e.control(execRequest{Op: "set_pitch", Float: multiplier})
}

func (e *execEngine) SetPunctuation(level PunctuationLevel) bool {
	return e.control(execRequest{Op: "set_punctuation", Value: level.String()})
}

func (e *execEngine) Speak(text string) bool {
	return e.stream(execRequest{Op: "speak", Text: text})
}

func (e *execEngine) SpeakChar(char string) bool {
	return e.stream(execRequest{Op: "speak_char", Text: char})
}

// stream drives one speak exchange, feeding decoded chunks to the callback
// until the engine sends a final line. A true return from the callback asks
// the engine to wind down; the stream is drained to its final line so the
// connection stays usable for the next request.
func (e *execEngine) stream(req execRequest) bool {
	if e.callback == nil {
		e.log.Warn("speak requested on listing-mode engine")
		return false
	}
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if err := e.send(req); err != nil {
		e.log.Warn("engine speak request failed", slog.String("error", err.Error()))
		return false
	}
	cancelled := false
	for {
		var chunk execChunk
		if err := e.readLine(&chunk); err != nil {
			e.log.Warn("engine stream ended unexpectedly", slog.String("error", err.Error()))
			return false
		}
		if chunk.Error != "" {
			e.log.Warn("engine reported synthesis error", slog.String("error", chunk.Error))
			return false
		}
		if !cancelled && chunk.PCMBase64 != "" {
			samples, err := decodePCM(chunk.PCMBase64)
			if err != nil {
				e.log.Warn("engine sent undecodable audio", slog.String("error", err.Error()))
				return false
			}
			if len(samples) > 0 && e.callback(samples, false) {
				cancelled = true
				e.RequestCancel()
			}
		}
		if chunk.Final {
			if !cancelled {
				e.callback(nil, false)
			}
			return true
		}
	}
}

func (e *execEngine) RequestCancel() {
	if err := e.send(execRequest{Op: "cancel"}); err != nil {
		e.log.Warn("engine cancel request failed", slog.String("error", err.Error()))
	}
}

func (e *execEngine) Stop() {
	e.writeMu.Lock()
	if e.stopped {
		e.writeMu.Unlock()
		return
	}
	e.stopped = true
	if data, err := json.Marshal(execRequest{Op: "stop"}); err == nil {
		_, _ = e.stdin.Write(append(data, '\n'))
	}
	_ = e.stdin.Close()
	e.writeMu.Unlock()
	_ = e.cmd.Wait()
}

func decodePCM(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}

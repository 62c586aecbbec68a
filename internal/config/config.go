package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// EnginesConfig selects and locates the synthesis providers.
type EnginesConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Directory string `yaml:"directory"`
	Runner    string `yaml:"runner"`
	Default   string `yaml:"default"`
}

// SynthConfig holds the initial synthesis parameters applied before the
// host's first updates arrive.
type SynthConfig struct {
	Voice       string `yaml:"voice"`
	Rate        int    `yaml:"rate"`
	Pitch       int    `yaml:"pitch"`
	Punctuation string `yaml:"punctuation"`
}

// QueueConfig describes where synthesized audio goes.
type QueueConfig struct {
	Target     string `yaml:"target"`
	CaptureDir string `yaml:"capture_dir"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Engines     EnginesConfig   `yaml:"engines"`
	Synth       SynthConfig     `yaml:"synth"`
	Queue       QueueConfig     `yaml:"queue"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "swbridge",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engines: EnginesConfig{
			Mode:      "mock",
			Directory: "/usr/lib/speechsw",
			Default:   "espeak",
		},
		Synth: SynthConfig{
			Rate:        0,
			Pitch:       0,
			Punctuation: "some",
		},
		Queue: QueueConfig{
			Target: "default",
		},
		History: HistoryConfig{
			Path:          "./data/swbridge-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SWBRIDGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SWBRIDGE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SWBRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SWBRIDGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SWBRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SWBRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SWBRIDGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SWBRIDGE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SWBRIDGE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SWBRIDGE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SWBRIDGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SWBRIDGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SWBRIDGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SWBRIDGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SWBRIDGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SWBRIDGE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engines.Mode, "SWBRIDGE_ENGINES_MODE")
	overrideString(&cfg.Engines.Directory, "SWBRIDGE_ENGINES_DIRECTORY")
	overrideString(&cfg.Engines.Runner, "SWBRIDGE_ENGINES_RUNNER")
	overrideString(&cfg.Engines.Default, "SWBRIDGE_ENGINES_DEFAULT")
	overrideString(&cfg.Synth.Voice, "SWBRIDGE_SYNTH_VOICE")
	overrideInt(&cfg.Synth.Rate, "SWBRIDGE_SYNTH_RATE")
	overrideInt(&cfg.Synth.Pitch, "SWBRIDGE_SYNTH_PITCH")
	overrideString(&cfg.Synth.Punctuation, "SWBRIDGE_SYNTH_PUNCTUATION")
	overrideString(&cfg.Queue.Target, "SWBRIDGE_QUEUE_TARGET")
	overrideString(&cfg.Queue.CaptureDir, "SWBRIDGE_QUEUE_CAPTURE_DIR")
	overrideString(&cfg.History.Path, "SWBRIDGE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "SWBRIDGE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "SWBRIDGE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxUtterances, "SWBRIDGE_HISTORY_MAX_UTTERANCES")
	overrideBool(&cfg.History.VacuumOnStart, "SWBRIDGE_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Engines.Mode {
	case "mock":
	case "exec":
		if cfg.Engines.Directory == "" {
			return errors.New("engines.directory must be set when mode=exec")
		}
	default:
		return errors.New("engines.mode must be one of mock|exec")
	}
	if cfg.Synth.Rate < -100 || cfg.Synth.Rate > 100 {
		return errors.New("synth.rate must be in [-100, 100]")
	}
	if cfg.Synth.Pitch < -100 || cfg.Synth.Pitch > 100 {
		return errors.New("synth.pitch must be in [-100, 100]")
	}
	switch cfg.Synth.Punctuation {
	case "", "all", "most", "some", "none":
	default:
		return errors.New("synth.punctuation must be one of all|most|some|none")
	}
	if cfg.Queue.Target == "" {
		return errors.New("queue.target must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}

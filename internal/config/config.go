package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recognition modes.
const (
	ModeOnline  = "online"
	ModeOffline = "offline"
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
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CaptureConfig controls microphone acquisition for one utterance.
type CaptureConfig struct {
	Backend          string  `yaml:"backend"` // device, mock
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	CalibrationMS    int     `yaml:"calibration_ms"`
	PauseThresholdMS int     `yaml:"pause_threshold_ms"`
	TimeLimitS       int     `yaml:"time_limit_s"`
	EnergyFactor     float64 `yaml:"energy_factor"`
}

// OnlineConfig points at the remote recognition service.
type OnlineConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// OfflineConfig describes the on-device decoder and its model bundle.
type OfflineConfig struct {
	Engine     string `yaml:"engine"` // vosk, exec, mock
	ModelPath  string `yaml:"model_path"`
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
}

type RecognitionConfig struct {
	Mode    string        `yaml:"mode"` // online, offline
	Online  OnlineConfig  `yaml:"online"`
	Offline OfflineConfig `yaml:"offline"`
}

// PhrasesConfig holds the initial target phrase input and the fallback
// used when the operator input is blank.
type PhrasesConfig struct {
	Targets string `yaml:"targets"`
	Default string `yaml:"default"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxCycles     int    `yaml:"max_cycles"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Phrases     PhrasesConfig     `yaml:"phrases"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "phrasewatch",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Backend:          "device",
			SampleRate:       16000,
			Channels:         1,
			CalibrationMS:    500,
			PauseThresholdMS: 1500,
			TimeLimitS:       15,
			EnergyFactor:     1.8,
		},
		Recognition: RecognitionConfig{
			Mode: ModeOnline,
			Online: OnlineConfig{
				Endpoint:  "",
				Language:  "en-US",
				TimeoutMS: 15000,
			},
			Offline: OfflineConfig{
				Engine:     "vosk",
				SampleRate: 16000,
			},
		},
		Phrases: PhrasesConfig{
			Targets: "safety, start, stop, data",
			Default: "safety reset",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/phrasewatch-events.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxCycles:     10000,
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
	overrideString(&cfg.RuntimeName, "PW_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PW_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PW_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PW_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PW_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PW_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PW_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PW_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PW_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PW_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PW_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PW_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PW_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PW_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PW_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PW_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PW_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Backend, "PW_CAPTURE_BACKEND")
	overrideInt(&cfg.Capture.SampleRate, "PW_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "PW_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.CalibrationMS, "PW_CAPTURE_CALIBRATION_MS")
	overrideInt(&cfg.Capture.PauseThresholdMS, "PW_CAPTURE_PAUSE_THRESHOLD_MS")
	overrideInt(&cfg.Capture.TimeLimitS, "PW_CAPTURE_TIME_LIMIT_S")
	overrideFloat(&cfg.Capture.EnergyFactor, "PW_CAPTURE_ENERGY_FACTOR")
	overrideString(&cfg.Recognition.Mode, "PW_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Online.Endpoint, "PW_RECOGNITION_ONLINE_ENDPOINT")
	overrideString(&cfg.Recognition.Online.APIKey, "PW_RECOGNITION_ONLINE_API_KEY")
	overrideString(&cfg.Recognition.Online.Language, "PW_RECOGNITION_ONLINE_LANGUAGE")
	overrideInt(&cfg.Recognition.Online.TimeoutMS, "PW_RECOGNITION_ONLINE_TIMEOUT_MS")
	overrideString(&cfg.Recognition.Offline.Engine, "PW_RECOGNITION_OFFLINE_ENGINE")
	overrideString(&cfg.Recognition.Offline.ModelPath, "PW_RECOGNITION_OFFLINE_MODEL_PATH")
	overrideString(&cfg.Recognition.Offline.Command, "PW_RECOGNITION_OFFLINE_COMMAND")
	overrideInt(&cfg.Recognition.Offline.SampleRate, "PW_RECOGNITION_OFFLINE_SAMPLE_RATE")
	overrideString(&cfg.Phrases.Targets, "PW_PHRASES_TARGETS")
	overrideString(&cfg.Phrases.Default, "PW_PHRASES_DEFAULT")
	overrideString(&cfg.EventStore.Path, "PW_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "PW_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "PW_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxCycles, "PW_EVENT_STORE_MAX_CYCLES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "PW_EVENT_STORE_VACUUM_ON_START")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Backend {
	case "device", "mock":
	default:
		return errors.New("capture.backend must be one of device|mock")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels < 1 || cfg.Capture.Channels > 2 {
		return errors.New("capture.channels must be 1 or 2")
	}
	if cfg.Capture.CalibrationMS <= 0 {
		return errors.New("capture.calibration_ms must be positive")
	}
	if cfg.Capture.PauseThresholdMS <= 0 {
		return errors.New("capture.pause_threshold_ms must be positive")
	}
	if cfg.Capture.TimeLimitS <= 0 {
		return errors.New("capture.time_limit_s must be positive")
	}
	if cfg.Capture.EnergyFactor <= 0 {
		return errors.New("capture.energy_factor must be positive")
	}
	switch cfg.Recognition.Mode {
	case ModeOnline, ModeOffline:
	default:
		return errors.New("recognition.mode must be one of online|offline")
	}
	if cfg.Recognition.Online.TimeoutMS <= 0 {
		return errors.New("recognition.online.timeout_ms must be positive")
	}
	switch cfg.Recognition.Offline.Engine {
	case "vosk", "exec", "mock":
	default:
		return errors.New("recognition.offline.engine must be one of vosk|exec|mock")
	}
	if cfg.Recognition.Offline.Engine == "exec" && cfg.Recognition.Offline.Command == "" {
		return errors.New("recognition.offline.command must be set when engine=exec")
	}
	if cfg.Recognition.Offline.SampleRate <= 0 {
		return errors.New("recognition.offline.sample_rate must be positive")
	}
	if cfg.Phrases.Default == "" {
		return errors.New("phrases.default must not be empty")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Supported transcription backends
const (
	BackendDeepgram    = "deepgram"
	BackendGoogle      = "google"
	BackendGRPC        = "grpc"
	BackendWhisperHTTP = "whisper-http"
	BackendWhisperCLI  = "whisper-cli"
	BackendStub        = "stub"
)

// Config holds all configuration for the transcriber service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Transcription backend selection. Selected once per process and shared by all sessions.
	STTBackend    string `envconfig:"STT_BACKEND" default:"deepgram"`
	STTLanguage   string `envconfig:"STT_LANGUAGE" default:"en"`
	SampleRate    int    `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioEncoding string `envconfig:"AUDIO_ENCODING" default:"linear16"`

	// Deepgram prerecorded API
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Google Cloud Speech-to-Text v2
	GoogleCloudProjectID       string `envconfig:"GOOGLE_CLOUD_PROJECT_ID" default:""`
	GoogleCloudCredentialsJSON string `envconfig:"GOOGLE_CLOUD_CREDENTIALS_JSON" default:""`
	GoogleCloudSpeechLocation  string `envconfig:"GOOGLE_CLOUD_SPEECH_LOCATION" default:"global"`
	GoogleCloudSpeechModel     string `envconfig:"GOOGLE_CLOUD_SPEECH_MODEL" default:"short"`

	// gRPC transcription sidecar
	GRPCAddr        string `envconfig:"STT_GRPC_ADDR" default:"localhost:50052"`
	GRPCTLSEnabled  bool   `envconfig:"STT_GRPC_TLS_ENABLED" default:"false"`
	GRPCMethod      string `envconfig:"STT_GRPC_METHOD" default:"/transcriber.v1.Transcriber/Transcribe"`
	GRPCDialTimeout int    `envconfig:"STT_GRPC_DIAL_TIMEOUT" default:"10"` // seconds

	// Whisper HTTP sidecar
	WhisperURL   string `envconfig:"WHISPER_URL" default:"http://localhost:8387"`
	WhisperModel string `envconfig:"WHISPER_MODEL" default:"base"`

	// Local whisper.cpp binary
	WhisperBinaryPath string `envconfig:"WHISPER_BINARY_PATH" default:"./bin/whisper"`
	WhisperModelPath  string `envconfig:"WHISPER_MODEL_PATH" default:"./models/whisper/small.en-q5_1.gguf"`
	WhisperThreads    int    `envconfig:"WHISPER_THREADS" default:"4"`

	// Stub backend, for local development
	StubText string `envconfig:"STUB_TEXT" default:""`

	// Voice activity detection
	VADSpeechThreshold  float64 `envconfig:"VAD_SPEECH_THRESHOLD" default:"30"`
	VADSilenceThreshold float64 `envconfig:"VAD_SILENCE_THRESHOLD" default:"10"`
	VADSpeechFrames     int     `envconfig:"VAD_SPEECH_FRAMES" default:"3"`   // Debounce count
	VADSilenceMs        int     `envconfig:"VAD_SILENCE_MS" default:"500"`    // Silence needed to end speech
	VADFrameMs          int     `envconfig:"VAD_FRAME_MS" default:"20"`       // Energy sample cadence
	VADMinSpeechMs      int     `envconfig:"VAD_MIN_SPEECH_MS" default:"500"` // Shorter utterances are noise

	// Speaker attribution
	AttributionWindowMs        int     `envconfig:"ATTRIBUTION_WINDOW_MS" default:"500"`
	AttributionEnergyThreshold float64 `envconfig:"ATTRIBUTION_ENERGY_THRESHOLD" default:"30"`
	AttributionOverlapMs       int     `envconfig:"ATTRIBUTION_OVERLAP_MS" default:"200"`
	AttributionRunGapMs        int     `envconfig:"ATTRIBUTION_RUN_GAP_MS" default:"100"`

	// Segment dispatch
	DispatchTimeout        int    `envconfig:"DISPATCH_TIMEOUT" default:"30"` // seconds per backend call
	DispatchRetryBackoffMs int    `envconfig:"DISPATCH_RETRY_BACKOFF_MS" default:"2000"`
	DispatchMaxConcurrent  int    `envconfig:"DISPATCH_MAX_CONCURRENT" default:"0"` // 0 = unlimited
	DispatchPlaceholder    string `envconfig:"DISPATCH_PLACEHOLDER" default:"[transcribing...]"`

	// Audio clip retention used to cut segment payloads
	ClipBufferSeconds int `envconfig:"CLIP_BUFFER_SECONDS" default:"120"`
	ClipPrerollMs     int `envconfig:"CLIP_PREROLL_MS" default:"200"`

	// Continuous recorder
	RecorderEnabled bool   `envconfig:"RECORDER_ENABLED" default:"true"`
	RecorderSliceMs int    `envconfig:"RECORDER_SLICE_MS" default:"1000"`
	RecorderDir     string `envconfig:"RECORDER_DIR" default:""`

	// Stream acquisition
	StreamAcquireTimeout int `envconfig:"STREAM_ACQUIRE_TIMEOUT" default:"10"` // seconds

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.STTBackend = strings.ToLower(strings.TrimSpace(cfg.STTBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend-specific secrets and numeric ranges
func (c *Config) Validate() error {
	switch c.STTBackend {
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_BACKEND=%s", c.STTBackend)
		}
	case BackendGoogle:
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when STT_BACKEND=%s", c.STTBackend)
		}
	case BackendGRPC:
		if c.GRPCAddr == "" {
			return fmt.Errorf("STT_GRPC_ADDR is required when STT_BACKEND=%s", c.STTBackend)
		}
	case BackendWhisperHTTP:
		if c.WhisperURL == "" {
			return fmt.Errorf("WHISPER_URL is required when STT_BACKEND=%s", c.STTBackend)
		}
	case BackendWhisperCLI:
		if c.WhisperBinaryPath == "" || c.WhisperModelPath == "" {
			return fmt.Errorf("WHISPER_BINARY_PATH and WHISPER_MODEL_PATH are required when STT_BACKEND=%s", c.STTBackend)
		}
	case BackendStub:
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STTBackend)
	}

	if c.VADSilenceThreshold > c.VADSpeechThreshold {
		return fmt.Errorf("VAD_SILENCE_THRESHOLD (%.1f) must not exceed VAD_SPEECH_THRESHOLD (%.1f)",
			c.VADSilenceThreshold, c.VADSpeechThreshold)
	}
	if c.VADFrameMs <= 0 {
		return fmt.Errorf("VAD_FRAME_MS must be positive")
	}
	if c.RecorderSliceMs <= 0 {
		return fmt.Errorf("RECORDER_SLICE_MS must be positive")
	}
	return nil
}

// VADSilenceFrames converts the configured silence duration into a sample count
func (c *Config) VADSilenceFrames() int {
	frames := c.VADSilenceMs / c.VADFrameMs
	if frames < 1 {
		frames = 1
	}
	return frames
}

// DispatchTimeoutDuration returns the per-call backend timeout
func (c *Config) DispatchTimeoutDuration() time.Duration {
	return time.Duration(c.DispatchTimeout) * time.Second
}

// DispatchRetryBackoff returns the fixed wait before the single retry
func (c *Config) DispatchRetryBackoff() time.Duration {
	return time.Duration(c.DispatchRetryBackoffMs) * time.Millisecond
}

// SessionStopTimeout bounds a session drain: two attempts and the backoff between them
func (c *Config) SessionStopTimeout() time.Duration {
	return 2*c.DispatchTimeoutDuration() + c.DispatchRetryBackoff()
}

// StreamAcquireTimeoutDuration returns how long a session waits for a stream to connect
func (c *Config) StreamAcquireTimeoutDuration() time.Duration {
	return time.Duration(c.StreamAcquireTimeout) * time.Second
}

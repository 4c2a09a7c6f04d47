package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/resilience"
)

// New builds the configured backend wrapped in a circuit breaker
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*GuardedBackend, error) {
	var (
		backend Backend
		err     error
	)

	switch cfg.STTBackend {
	case config.BackendDeepgram:
		backend, err = NewDeepgramBackend(DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.STTLanguage,
		})
	case config.BackendGoogle:
		backend, err = NewGoogleBackend(ctx, GoogleConfig{
			ProjectID:       cfg.GoogleCloudProjectID,
			CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
			Location:        cfg.GoogleCloudSpeechLocation,
			Model:           cfg.GoogleCloudSpeechModel,
			Language:        cfg.STTLanguage,
		})
	case config.BackendGRPC:
		backend, err = NewGRPCBackend(ctx, GRPCConfig{
			Addr:        cfg.GRPCAddr,
			TLSEnabled:  cfg.GRPCTLSEnabled,
			Method:      cfg.GRPCMethod,
			Language:    cfg.STTLanguage,
			DialTimeout: time.Duration(cfg.GRPCDialTimeout) * time.Second,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:  2.0,
				MaxBackoff:  30 * time.Second,
				Logger:      &logger,
			},
			Logger: logger,
		})
	case config.BackendWhisperHTTP:
		backend = NewWhisperHTTPBackend(WhisperHTTPConfig{
			URL:      cfg.WhisperURL,
			Model:    cfg.WhisperModel,
			Language: cfg.STTLanguage,
			Timeout:  cfg.DispatchTimeoutDuration(),
		})
	case config.BackendWhisperCLI:
		backend, err = NewWhisperCLIBackend(WhisperCLIConfig{
			BinaryPath: cfg.WhisperBinaryPath,
			ModelPath:  cfg.WhisperModelPath,
			Language:   cfg.STTLanguage,
			Threads:    cfg.WhisperThreads,
		})
	case config.BackendStub:
		backend = NewStubBackend(cfg.StubText)
	default:
		return nil, fmt.Errorf("unknown STT backend %q", cfg.STTBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.STTBackend, err)
	}

	logger.Info().Str("backend", backend.Name()).Msg("Transcription backend ready")

	return NewGuardedBackend(
		backend,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		logger,
	), nil
}

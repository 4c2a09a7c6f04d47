package session

import (
	"time"

	"github.com/lexiqai/voice-transcriber/internal/attribution"
	"github.com/lexiqai/voice-transcriber/internal/audio"
	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/dispatch"
	"github.com/lexiqai/voice-transcriber/internal/recorder"
)

// Config is everything a session needs besides its backend
type Config struct {
	VAD           audio.VADConfig
	FrameInterval time.Duration // Energy sample cadence
	Attribution   attribution.Config
	Dispatch      dispatch.Config

	ClipRetention time.Duration
	Preroll       time.Duration

	RecorderEnabled bool
	Recorder        recorder.Config

	AcquireTimeout time.Duration
}

// DefaultConfig returns the defaults used when no environment is loaded
func DefaultConfig() Config {
	return Config{
		VAD:             *audio.DefaultVADConfig(),
		FrameInterval:   20 * time.Millisecond,
		Attribution:     attribution.DefaultConfig(),
		Dispatch:        dispatch.DefaultConfig(),
		ClipRetention:   2 * time.Minute,
		Preroll:         200 * time.Millisecond,
		RecorderEnabled: true,
		Recorder:        recorder.Config{SliceInterval: time.Second},
		AcquireTimeout:  10 * time.Second,
	}
}

// NewConfig maps the service configuration onto a session configuration
func NewConfig(cfg *config.Config) Config {
	return Config{
		VAD: audio.VADConfig{
			SpeechThreshold:   cfg.VADSpeechThreshold,
			SilenceThreshold:  cfg.VADSilenceThreshold,
			SpeechFrames:      cfg.VADSpeechFrames,
			SilenceFrames:     cfg.VADSilenceFrames(),
			MinSpeechDuration: time.Duration(cfg.VADMinSpeechMs) * time.Millisecond,
		},
		FrameInterval: time.Duration(cfg.VADFrameMs) * time.Millisecond,
		Attribution: attribution.Config{
			Window:          time.Duration(cfg.AttributionWindowMs) * time.Millisecond,
			EnergyThreshold: cfg.AttributionEnergyThreshold,
			OverlapDuration: time.Duration(cfg.AttributionOverlapMs) * time.Millisecond,
			RunGap:          time.Duration(cfg.AttributionRunGapMs) * time.Millisecond,
			DefaultSpeaker:  audio.SpeakerA,
		},
		Dispatch: dispatch.Config{
			Timeout:       cfg.DispatchTimeoutDuration(),
			RetryBackoff:  cfg.DispatchRetryBackoff(),
			MaxConcurrent: cfg.DispatchMaxConcurrent,
			Placeholder:   cfg.DispatchPlaceholder,
			SampleRate:    cfg.SampleRate,
			Encoding:      cfg.AudioEncoding,
			Language:      cfg.STTLanguage,
		},
		ClipRetention:   time.Duration(cfg.ClipBufferSeconds) * time.Second,
		Preroll:         time.Duration(cfg.ClipPrerollMs) * time.Millisecond,
		RecorderEnabled: cfg.RecorderEnabled,
		Recorder: recorder.Config{
			SliceInterval: time.Duration(cfg.RecorderSliceMs) * time.Millisecond,
			Dir:           cfg.RecorderDir,
		},
		AcquireTimeout: cfg.StreamAcquireTimeoutDuration(),
	}
}

// silenceHangover is how long a stream stays quiet before the VAD ends an utterance
func (c Config) silenceHangover() time.Duration {
	return time.Duration(c.VAD.SilenceFrames) * c.FrameInterval
}

// attributionConfig keeps enough energy history for the lookback emit does:
// a full window ending one hangover before the utterance end, measured
// against a stream that may lag another stream's newest reading by a window.
func (c Config) attributionConfig() attribution.Config {
	ac := c.Attribution
	window := ac.Window
	if window <= 0 {
		window = attribution.DefaultConfig().Window
	}
	if need := c.silenceHangover() + 2*window; ac.Retention < need {
		ac.Retention = need
	}
	return ac
}

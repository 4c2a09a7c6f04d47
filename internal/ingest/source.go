package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-transcriber/internal/audio"
	"github.com/lexiqai/voice-transcriber/internal/session"
)

const (
	EventStart  = "start"
	EventEnergy = "energy"
	EventMedia  = "media"
	EventStop   = "stop"
)

// Message is one JSON frame sent by a stream client
type Message struct {
	Event      string  `json:"event"`
	Stream     string  `json:"stream,omitempty"`
	SampleRate int     `json:"sampleRate,omitempty"`
	Encoding   string  `json:"encoding,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"` // epoch milliseconds
	Energy     float64 `json:"energy,omitempty"`
	Payload    string  `json:"payload,omitempty"` // base64 audio
}

// SourceConfig holds stream socket settings
type SourceConfig struct {
	SampleRate   int
	Encoding     string
	ReadLimit    int64
	WriteTimeout time.Duration
}

// DefaultSourceConfig returns the defaults for PCM16 mono at 16 kHz
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		SampleRate:   16000,
		Encoding:     "linear16",
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
	}
}

// Source reads one stream's frames from a WebSocket
type Source struct {
	conn   *websocket.Conn
	stream string
	config SourceConfig
	logger zerolog.Logger

	// Once the client sends energy frames, media no longer yields readings
	sawEnergy bool
	clock     streamClock
	closeOnce sync.Once
}

// NewSource wraps an accepted stream socket
func NewSource(conn *websocket.Conn, stream string, cfg SourceConfig, logger zerolog.Logger) *Source {
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultSourceConfig().WriteTimeout
	}
	return &Source{
		conn:   conn,
		stream: stream,
		config: cfg,
		logger: logger.With().Str("stream", stream).Logger(),
	}
}

// Run reads frames until the client stops, the socket fails or ctx ends.
// A stop frame, a normal close or cancellation end the stream; any other
// read failure drops it.
func (s *Source) Run(ctx context.Context, sink session.Sink) error {
	done := make(chan struct{})
	defer close(done)
	defer s.close(websocket.CloseNormalClosure, "stream ended")

	go func() {
		select {
		case <-ctx.Done():
			s.close(websocket.CloseNormalClosure, "session stopped")
		case <-done:
		}
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("Stream socket closed by client")
				return nil
			}
			return fmt.Errorf("%w: %v", session.ErrStreamDropped, err)
		}

		if msgType == websocket.BinaryMessage {
			s.media(sink, s.clock.now(), data)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse stream message")
			continue
		}

		switch msg.Event {
		case EventStart:
			if msg.SampleRate > 0 {
				s.config.SampleRate = msg.SampleRate
			}
			if msg.Encoding != "" {
				s.config.Encoding = msg.Encoding
			}
			s.logger.Info().
				Int("sample_rate", s.config.SampleRate).
				Str("encoding", s.config.Encoding).
				Msg("Stream started")

		case EventEnergy:
			s.sawEnergy = true
			sink.OnEnergy(audio.EnergyReading{Timestamp: s.clock.at(msg.Timestamp), Energy: msg.Energy})

		case EventMedia:
			if msg.Payload == "" {
				s.logger.Warn().Msg("Media event missing payload")
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to decode base64 audio")
				continue
			}
			s.media(sink, s.clock.at(msg.Timestamp), chunk)

		case EventStop:
			s.logger.Info().Msg("Stream stopped by client")
			return nil

		default:
			s.logger.Debug().Str("event", msg.Event).Msg("Unknown stream event")
		}
	}
}

func (s *Source) media(sink session.Sink, ts time.Time, chunk []byte) {
	sink.OnAudio(ts, chunk)

	if s.sawEnergy || s.config.Encoding != "linear16" {
		return
	}
	samples, err := audio.DecodePCM16(chunk)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Skipping energy for odd-sized chunk")
		return
	}
	sink.OnEnergy(audio.EnergyReading{Timestamp: ts, Energy: audio.EnergyLevel(samples)})
}

func (s *Source) close(code int, reason string) {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(s.config.WriteTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

// streamClock maps untimed frames onto the client's timeline so energy
// readings and audio chunks of one stream share a clock. Until the client
// sends a timestamp the server clock is used.
type streamClock struct {
	client time.Time // latest client timestamp
	server time.Time // server time it arrived
}

// at returns the client timestamp ms, or the projected client time when ms is unset
func (c *streamClock) at(ms int64) time.Time {
	if ms <= 0 {
		return c.now()
	}
	c.client = time.UnixMilli(ms)
	c.server = time.Now()
	return c.client
}

func (c *streamClock) now() time.Time {
	if c.client.IsZero() {
		return time.Now()
	}
	return c.client.Add(time.Since(c.server))
}

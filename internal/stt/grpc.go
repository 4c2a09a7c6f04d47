package stt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-transcriber/internal/resilience"
)

const grpcName = "grpc"

// GRPCConfig configures the gRPC sidecar backend
type GRPCConfig struct {
	Addr        string
	TLSEnabled  bool
	Method      string // Full method name, e.g. /transcriber.v1.Transcriber/Transcribe
	Language    string
	DialTimeout time.Duration
	Reconnect   *resilience.ReconnectConfig
	Logger      zerolog.Logger
}

// GRPCBackend calls a transcription sidecar over gRPC. The sidecar takes and
// returns google.protobuf.Struct messages so no generated stubs are needed:
// request {audio (base64), sample_rate, encoding, language},
// response {text, confidence}.
type GRPCBackend struct {
	config GRPCConfig
	mu     sync.RWMutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewGRPCBackend connects to the sidecar, retrying with backoff until it reports serving
func NewGRPCBackend(ctx context.Context, cfg GRPCConfig) (*GRPCBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("grpc sidecar address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	b := &GRPCBackend{config: cfg}
	if err := b.start(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// start runs connect under the reconnect policy. The client is closed when
// the sidecar never reports serving.
func (b *GRPCBackend) start(ctx context.Context) error {
	reconnect := b.config.Reconnect
	if reconnect == nil {
		reconnect = resilience.DefaultReconnectConfig()
	}
	if reconnect.Logger == nil {
		logger := b.config.Logger
		reconnect.Logger = &logger
	}

	if err := resilience.Reconnect(ctx, b.connect, reconnect); err != nil {
		_ = b.Close()
		return fmt.Errorf("failed to connect to transcription sidecar: %w", err)
	}
	return nil
}

// connect establishes the client connection and waits for a SERVING health status
func (b *GRPCBackend) connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		var opts []grpc.DialOption

		if b.config.TLSEnabled {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		} else {
			opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}

		// Keepalive settings for long-lived connections
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}))

		conn, err := grpc.NewClient(b.config.Addr, opts...)
		if err != nil {
			return fmt.Errorf("failed to create client for %s: %w", b.config.Addr, err)
		}
		b.conn = conn
		b.health = healthpb.NewHealthClient(conn)
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.config.DialTimeout)
	defer cancel()

	resp, err := b.health.Check(probeCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health probe to %s failed: %w", b.config.Addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("sidecar at %s is %s", b.config.Addr, resp.GetStatus())
	}

	b.config.Logger.Info().Str("addr", b.config.Addr).Msg("Connected to transcription sidecar")
	return nil
}

// Name returns the backend name
func (b *GRPCBackend) Name() string { return grpcName }

// Transcribe sends one segment to the sidecar
func (b *GRPCBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(grpcName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}

	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return nil, NewError(grpcName, KindNetwork, fmt.Errorf("sidecar client is not connected"))
	}

	language := req.Language
	if language == "" {
		language = b.config.Language
	}

	in, err := structpb.NewStruct(map[string]interface{}{
		"audio":       base64.StdEncoding.EncodeToString(req.Audio),
		"sample_rate": req.SampleRate,
		"encoding":    req.Encoding,
		"language":    language,
	})
	if err != nil {
		return nil, NewError(grpcName, KindInvalidAudio, fmt.Errorf("build request: %w", err))
	}

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, b.config.Method, in, out); err != nil {
		return nil, classifyGRPC(grpcName, err)
	}

	fields := out.GetFields()
	result := &Result{Text: fields["text"].GetStringValue()}
	if c, ok := fields["confidence"]; ok {
		if _, isNumber := c.GetKind().(*structpb.Value_NumberValue); isNumber {
			result.Confidence = floatPtr(c.GetNumberValue())
		}
	}
	return result, nil
}

// HealthCheck checks if the sidecar is serving
func (b *GRPCBackend) HealthCheck(ctx context.Context) (bool, error) {
	b.mu.RLock()
	health := b.health
	b.mu.RUnlock()

	if health == nil {
		return false, fmt.Errorf("sidecar client is not connected")
	}

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (b *GRPCBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	b.health = nil
	return err
}

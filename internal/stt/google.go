package stt

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	googleName            = "google"
	speechAPIEndpointPort = 443
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
)

// GoogleConfig configures the Cloud Speech-to-Text v2 backend
type GoogleConfig struct {
	ProjectID       string
	CredentialsJSON string // Empty falls back to application default credentials
	Location        string
	Model           string
	Language        string
}

// GoogleBackend transcribes segments with Cloud Speech-to-Text v2 Recognize
type GoogleBackend struct {
	config     GoogleConfig
	client     *speech.Client
	recognizer string
}

// NewGoogleBackend dials the Speech API once; the client is shared by all calls
func NewGoogleBackend(ctx context.Context, cfg GoogleConfig) (*GoogleBackend, error) {
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = "short"
	}

	detect := &credentials.DetectOptions{
		Scopes: []string{cloudPlatformScope},
	}
	if cfg.CredentialsJSON != "" {
		detect.CredentialsJSON = []byte(cfg.CredentialsJSON)
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", cfg.Location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	return &GoogleBackend{
		config:     cfg,
		client:     client,
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", cfg.ProjectID, cfg.Location),
	}, nil
}

// Name returns the backend name
func (g *GoogleBackend) Name() string { return googleName }

// Transcribe runs a synchronous Recognize call for one segment
func (g *GoogleBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(googleName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}

	language := req.Language
	if language == "" {
		language = g.config.Language
	}

	config := &speechpb.RecognitionConfig{
		Model:         g.config.Model,
		LanguageCodes: []string{language},
		Features: &speechpb.RecognitionFeatures{
			EnableAutomaticPunctuation: true,
		},
	}
	if req.Encoding == "" || req.Encoding == "linear16" {
		config.DecodingConfig = &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
				SampleRateHertz:   int32(req.SampleRate),
				AudioChannelCount: 1,
			},
		}
	} else {
		config.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{
			AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
		}
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  g.recognizer,
		Config:      config,
		AudioSource: &speechpb.RecognizeRequest_Content{Content: req.Audio},
	})
	if err != nil {
		return nil, classifyGRPC(googleName, err)
	}

	var (
		parts      []string
		confidence float64
		scored     int
	)
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
			confidence += float64(alts[0].GetConfidence())
			scored++
		}
	}

	out := &Result{Text: strings.Join(parts, " ")}
	if scored > 0 {
		out.Confidence = floatPtr(confidence / float64(scored))
	}
	return out, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleBackend) Close() error {
	return g.client.Close()
}

// classifyGRPC maps gRPC status codes onto backend error kinds
func classifyGRPC(backend string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return Classify(backend, err)
	}

	switch st.Code() {
	case codes.DeadlineExceeded, codes.Canceled:
		return &Error{Kind: KindTimeout, Backend: backend, Err: err}
	case codes.ResourceExhausted:
		return &Error{Kind: KindQuotaExceeded, Backend: backend, Err: err}
	case codes.InvalidArgument, codes.OutOfRange:
		return &Error{Kind: KindInvalidAudio, Backend: backend, Err: err}
	case codes.Unavailable, codes.Aborted, codes.Internal, codes.Unknown:
		return &Error{Kind: KindNetwork, Backend: backend, Err: err}
	}
	return &Error{Kind: KindUnknown, Backend: backend, Err: err}
}

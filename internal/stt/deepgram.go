package stt

import (
	"bytes"
	"context"
	"fmt"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

const deepgramName = "deepgram"

// DeepgramConfig configures the Deepgram prerecorded backend
type DeepgramConfig struct {
	APIKey   string
	Model    string // nova-2, enhanced, base
	Language string // Default language when a request carries none
}

// DeepgramBackend transcribes segments with Deepgram's prerecorded REST API
type DeepgramBackend struct {
	config DeepgramConfig
	client *api.Client
}

// NewDeepgramBackend creates a Deepgram backend
func NewDeepgramBackend(cfg DeepgramConfig) (*DeepgramBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}

	c := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{})

	return &DeepgramBackend{
		config: cfg,
		client: api.New(c),
	}, nil
}

// Name returns the backend name
func (d *DeepgramBackend) Name() string { return deepgramName }

// Transcribe sends one segment to Deepgram and returns the top alternative
func (d *DeepgramBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(deepgramName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}

	language := req.Language
	if language == "" {
		language = d.config.Language
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.config.Model,
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
	}

	payload := req.Audio
	if req.Encoding == "" || req.Encoding == "linear16" {
		// Raw PCM needs a container for the prerecorded endpoint
		payload = audio.EncodeWAV(req.Audio, req.SampleRate, 1)
	}

	res, err := d.client.FromStream(ctx, bytes.NewReader(payload), options)
	if err != nil {
		return nil, Classify(deepgramName, err)
	}

	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return &Result{}, nil
	}

	alt := res.Results.Channels[0].Alternatives[0]
	return &Result{
		Text:       alt.Transcript,
		Confidence: floatPtr(alt.Confidence),
	}, nil
}

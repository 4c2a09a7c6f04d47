package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

const (
	whisperHTTPName       = "whisper-http"
	defaultWhisperURL     = "http://localhost:8387"
	defaultWhisperModel   = "base"
	defaultWhisperTimeout = 120 * time.Second
)

// WhisperHTTPConfig configures the faster-whisper HTTP sidecar backend
type WhisperHTTPConfig struct {
	URL      string
	Model    string
	Language string
	Timeout  time.Duration
}

// WhisperHTTPBackend posts segments to a whisper sidecar as multipart form uploads
type WhisperHTTPBackend struct {
	config     WhisperHTTPConfig
	httpClient *http.Client
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text       string   `json:"text"`
		Confidence *float64 `json:"confidence,omitempty"`
	} `json:"segments"`
}

// NewWhisperHTTPBackend creates a whisper sidecar backend
func NewWhisperHTTPBackend(cfg WhisperHTTPConfig) *WhisperHTTPBackend {
	if cfg.URL == "" {
		cfg.URL = defaultWhisperURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultWhisperModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultWhisperTimeout
	}
	return &WhisperHTTPBackend{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the backend name
func (w *WhisperHTTPBackend) Name() string { return whisperHTTPName }

// HealthCheck reports whether the sidecar answers /health
func (w *WhisperHTTPBackend) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.config.URL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Transcribe uploads one segment and returns the sidecar's text
func (w *WhisperHTTPBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(whisperHTTPName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}

	payload := req.Audio
	filename := "audio.wav"
	if req.Encoding == "" || req.Encoding == "linear16" {
		payload = audio.EncodeWAV(req.Audio, req.SampleRate, 1)
	} else {
		filename = "audio." + req.Encoding
	}

	language := req.Language
	if language == "" {
		language = w.config.Language
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", w.config.Model)
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL+"/transcribe", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, Classify(whisperHTTPName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTPStatus(whisperHTTPName, resp.StatusCode, string(body))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(whisperHTTPName, KindUnknown, fmt.Errorf("decode whisper response: %w", err))
	}

	return parsed.result(), nil
}

func (r *whisperResponse) result() *Result {
	text := strings.TrimSpace(r.Text)
	var (
		parts []string
		total float64
		n     int
	)
	for _, seg := range r.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
		if seg.Confidence != nil {
			total += *seg.Confidence
			n++
		}
	}
	if text == "" {
		text = strings.Join(parts, " ")
	}

	out := &Result{Text: text}
	if n > 0 {
		out.Confidence = floatPtr(total / float64(n))
	}
	return out
}

package stt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

const whisperCLIName = "whisper-cli"

// WhisperCLIConfig configures the local whisper.cpp backend
type WhisperCLIConfig struct {
	BinaryPath string
	ModelPath  string
	Language   string
	Threads    int
}

// WhisperCLIBackend runs a local whisper.cpp binary once per segment
type WhisperCLIBackend struct {
	config WhisperCLIConfig
}

// NewWhisperCLIBackend checks that the binary and model exist
func NewWhisperCLIBackend(cfg WhisperCLIConfig) (*WhisperCLIBackend, error) {
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("whisper binary %s: %w", cfg.BinaryPath, err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model %s: %w", cfg.ModelPath, err)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &WhisperCLIBackend{config: cfg}, nil
}

// Name returns the backend name
func (w *WhisperCLIBackend) Name() string { return whisperCLIName }

// Transcribe writes the segment to a temp WAV and runs the binary on it
func (w *WhisperCLIBackend) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.Audio) == 0 {
		return nil, NewError(whisperCLIName, KindInvalidAudio, fmt.Errorf("empty audio payload"))
	}
	if req.Encoding != "" && req.Encoding != "linear16" && req.Encoding != "wav" {
		return nil, NewError(whisperCLIName, KindInvalidAudio, fmt.Errorf("unsupported encoding %q", req.Encoding))
	}

	payload := req.Audio
	if req.Encoding != "wav" {
		payload = audio.EncodeWAV(req.Audio, req.SampleRate, 1)
	}

	tmp, err := os.CreateTemp("", "segment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	language := req.Language
	if language == "" {
		language = w.config.Language
	}

	cmd := exec.CommandContext(ctx, w.config.BinaryPath,
		"-m", w.config.ModelPath,
		"-f", tmp.Name(),
		"-l", language,
		"--threads", strconv.Itoa(w.config.Threads),
		"--no-timestamps",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(whisperCLIName, KindTimeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, NewError(whisperCLIName, KindUnknown,
				fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return nil, NewError(whisperCLIName, KindUnknown, fmt.Errorf("run whisper: %w", err))
	}

	return &Result{Text: parseWhisperOutput(out)}, nil
}

// parseWhisperOutput joins transcript lines, skipping bracketed markers
// such as [BLANK_AUDIO] or timestamp prefixes
func parseWhisperOutput(out []byte) string {
	var parts []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

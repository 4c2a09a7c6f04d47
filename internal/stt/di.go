package stt

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/observability"
)

// RegisterDI provides the configured backend
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*GuardedBackend, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)
		return New(context.Background(), cfg, observability.WithComponent(logger, "stt"))
	})
}

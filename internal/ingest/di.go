package ingest

import (
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/observability"
	"github.com/lexiqai/voice-transcriber/internal/session"
)

// RegisterDI provides the stream hub and the HTTP API
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Hub, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)

		source := DefaultSourceConfig()
		source.SampleRate = cfg.SampleRate
		source.Encoding = cfg.AudioEncoding
		return NewHub(source, observability.WithComponent(logger, "ingest")), nil
	})

	do.Provide(injector, func(i do.Injector) (*API, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)
		hub := do.MustInvoke[*Hub](i)
		logger := do.MustInvoke[zerolog.Logger](i)

		return NewAPI(manager, hub, cfg.SessionStopTimeout(), observability.WithComponent(logger, "api")), nil
	})
}

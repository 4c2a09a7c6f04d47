package session

import (
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/lexiqai/voice-transcriber/internal/config"
	"github.com/lexiqai/voice-transcriber/internal/stt"
)

// RegisterDI provides the session manager
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		backend := do.MustInvoke[*stt.GuardedBackend](i)
		logger := do.MustInvoke[zerolog.Logger](i)
		return NewManager(NewConfig(cfg), backend, logger), nil
	})
}

package obs

import (
	"context"

	"github.com/rs/zerolog"
)

// Logger returns the request-scoped logger stored by RequestLogger, or
// fallback when the context carries none.
func Logger(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return fallback
	}
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

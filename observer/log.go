package observer

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/hermes-islands/event"
)

// LogEvents logs every event on bus. Failures are logged at warn, values
// reported by modules at debug, other lifecycle transitions at info.
func LogEvents(bus *event.Bus, logger *zap.Logger) {
	bus.SubscribeAll(func(e event.Event) {
		lvl := zapcore.InfoLevel
		switch {
		case e.Kind.Failure():
			lvl = zapcore.WarnLevel
		case e.Kind.Reported():
			lvl = zapcore.DebugLevel
		}

		ce := logger.Check(lvl, "island event")
		if ce == nil {
			return
		}
		ce.Write(
			zap.Stringer("kind", e.Kind),
			zap.String("island", e.Island),
			zap.String("subject", e.Subject),
			zap.Uint64("value", e.Value),
		)
	})
}

package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the servers stop before
// closing sinks, so in-flight async emits can complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine bounded by emitTimeout so the caller is
// not blocked. The goroutine does not inherit the caller's cancellation.
// Failures are logged at warn level.
//
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
func EmitAsync[T any](emitter Emitter[T], event *T, log *zap.Logger) {
	if emitter == nil || event == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			log.Warn("telemetry: async emit failed", zap.Error(err))
		}
	}()
}

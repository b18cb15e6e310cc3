// Package telemetry holds the best-effort event streaming shared by the
// violation sinks (OTel logs, Kafka) and the Prometheus metrics.
package telemetry

import "context"

// Emitter emits events of type T. Best-effort; callers log and ignore errors.
type Emitter[T any] interface {
	Emit(ctx context.Context, event *T) error
}

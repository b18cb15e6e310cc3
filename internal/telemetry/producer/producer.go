// Package producer streams violations to a message broker.
package producer

import (
	"context"

	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// Producer emits violations. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single violation. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, v *vdomain.Violation) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}

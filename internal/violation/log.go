// Package violation keeps the bounded in-memory security violation log and fans
// each entry out to the durable store and the streaming sinks.
package violation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// Recorder is what enforcement code depends on to report anomalies.
type Recorder interface {
	Record(ctx context.Context, v domain.Violation) domain.Violation
}

// Store persists violations durably. Called synchronously under SinkTimeout.
type Store interface {
	Create(ctx context.Context, v *domain.Violation) error
}

// Sink streams violations elsewhere (Kafka, OTel logs). Called asynchronously, best-effort.
type Sink = telemetry.Emitter[domain.Violation]

// Filter selects entries in List. Zero fields match everything.
type Filter struct {
	TenantID string
	Kind     domain.Kind
	Severity domain.Severity // minimum severity
	Since    time.Time
	Limit    int
}

// Options configures a Log.
type Options struct {
	Capacity    int
	Retention   time.Duration
	SinkTimeout time.Duration
	Store       Store
	Sinks       []Sink
	// Observe is called after each Record, outside the lock (metrics).
	Observe func(domain.Violation)
	Logger  *zap.Logger
	Now     func() time.Time
}

const (
	defaultCapacity    = 10000
	defaultRetention   = 24 * time.Hour
	defaultSinkTimeout = 2 * time.Second
)

// Log is the process-wide violation record. Entries are kept oldest first.
type Log struct {
	mu      sync.Mutex
	entries []domain.Violation

	capacity    int
	retention   time.Duration
	sinkTimeout time.Duration
	store       Store
	sinks       []Sink
	observe     func(domain.Violation)
	logger      *zap.Logger
	now         func() time.Time
}

// NewLog returns an empty Log. Zero option values take defaults.
func NewLog(opts Options) *Log {
	l := &Log{
		capacity:    opts.Capacity,
		retention:   opts.Retention,
		sinkTimeout: opts.SinkTimeout,
		store:       opts.Store,
		sinks:       opts.Sinks,
		observe:     opts.Observe,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if l.capacity <= 0 {
		l.capacity = defaultCapacity
	}
	if l.retention <= 0 {
		l.retention = defaultRetention
	}
	if l.sinkTimeout <= 0 {
		l.sinkTimeout = defaultSinkTimeout
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Record assigns an id and timestamp, appends the entry, then writes it to the
// durable store before returning. Streaming sinks run in the background. The
// store write is detached from ctx cancellation so an aborted request still
// leaves a durable trace.
func (l *Log) Record(ctx context.Context, v domain.Violation) domain.Violation {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.OccurredAt.IsZero() {
		v.OccurredAt = l.now().UTC()
	}
	v = v.Clone()

	l.mu.Lock()
	l.entries = append(l.entries, v)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = l.entries[over:]
	}
	l.mu.Unlock()

	l.logger.Warn("security violation",
		zap.String("violation_id", v.ID),
		zap.String("kind", string(v.Kind)),
		zap.String("severity", string(v.Severity)),
		zap.String("tenant_id", v.TenantID),
		zap.String("user_id", v.UserID),
		zap.String("session_id", v.SessionID),
		zap.Any("metadata", v.Metadata),
	)

	if l.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sinkTimeout)
		stored := v.Clone()
		if err := l.store.Create(storeCtx, &stored); err != nil {
			l.logger.Error("violation: durable write failed", zap.String("violation_id", v.ID), zap.Error(err))
		}
		cancel()
	}
	for _, s := range l.sinks {
		emitted := v.Clone()
		telemetry.EmitAsync(s, &emitted, l.logger.With(zap.String("violation_id", v.ID)))
	}
	if l.observe != nil {
		l.observe(v)
	}
	return v.Clone()
}

// List returns matching entries, newest first.
func (l *Log) List(f Filter) []domain.Violation {
	l.mu.Lock()
	out := make([]domain.Violation, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		v := l.entries[i]
		if f.TenantID != "" && v.TenantID != f.TenantID {
			continue
		}
		if f.Kind != "" && v.Kind != f.Kind {
			continue
		}
		if f.Severity != "" && !v.Severity.AtLeast(f.Severity) {
			continue
		}
		if !f.Since.IsZero() && v.OccurredAt.Before(f.Since) {
			continue
		}
		out = append(out, v.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	l.mu.Unlock()
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep drops entries older than the retention window and trims to capacity.
// Returns the number of entries removed.
func (l *Log) Sweep() int {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.entries)
	kept := make([]domain.Violation, 0, len(l.entries))
	for _, v := range l.entries {
		if !v.OccurredAt.Before(cutoff) {
			kept = append(kept, v)
		}
	}
	if over := len(kept) - l.capacity; over > 0 {
		kept = kept[over:]
	}
	l.entries = kept
	return before - len(l.entries)
}

// Run sweeps every interval until ctx is cancelled.
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("violation: swept expired entries", zap.Int("removed", n))
			}
		}
	}
}

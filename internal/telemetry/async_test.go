package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type event struct {
	Name string
}

// mockEmitter implements Emitter[event] for tests.
type mockEmitter struct {
	mu      sync.Mutex
	events  []*event
	emitErr error
	done    chan struct{}
	ctxErr  error
}

func newMockEmitter(err error) *mockEmitter {
	return &mockEmitter{emitErr: err, done: make(chan struct{}, 8)}
}

func (m *mockEmitter) Emit(ctx context.Context, e *event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.ctxErr = ctx.Err()
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.emitErr
}

func (m *mockEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("emit not called")
	}
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync[event](nil, &event{Name: "x"}, nil)

	m := newMockEmitter(nil)
	EmitAsync[event](m, nil, nil)
	time.Sleep(10 * time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) != 0 {
		t.Errorf("expected 0 events, got %d", len(m.events))
	}
}

func TestEmitAsync_Emits(t *testing.T) {
	m := newMockEmitter(nil)
	EmitAsync[event](m, &event{Name: "login"}, nil)
	m.wait(t)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) != 1 || m.events[0].Name != "login" {
		t.Errorf("events = %+v", m.events)
	}
	if m.ctxErr != nil {
		t.Errorf("emit context already done: %v", m.ctxErr)
	}
}

func TestEmitAsync_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := newMockEmitter(errors.New("broker down"))
	EmitAsync[event](m, &event{Name: "x"}, zap.New(core))
	m.wait(t)

	deadline := time.Now().Add(time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 warning, got %d", logs.Len())
	}
}

func TestShutdownDrainDuration(t *testing.T) {
	if ShutdownDrainDuration < emitTimeout {
		t.Errorf("ShutdownDrainDuration %v < emitTimeout %v", ShutdownDrainDuration, emitTimeout)
	}
}

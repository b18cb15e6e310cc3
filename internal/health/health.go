// Package health reports readiness for load balancers and Kubernetes probes.
// The same checks drive the gRPC health service and the HTTP /readyz route.
package health

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks a backing store (e.g. *pgxpool.Pool or the session store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PolicyChecker checks that the severity policy evaluates (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker runs the readiness checks. Nil dependencies are skipped.
type Checker struct {
	pingers map[string]Pinger
	policy  PolicyChecker
	timeout time.Duration
}

// NewChecker returns a Checker over the named pingers and the optional policy checker.
func NewChecker(pingers map[string]Pinger, policy PolicyChecker) *Checker {
	return &Checker{pingers: pingers, policy: policy, timeout: 2 * time.Second}
}

// Check returns nil when every dependency is reachable. Failures are joined.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var errs []error
	for name, p := range c.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, errors.New(name+": "+err.Error()))
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			errs = append(errs, errors.New("policy: "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

// Status maps Check to a gRPC serving status.
func (c *Checker) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := c.Check(ctx); err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Watch updates hs with the overall ("") status every interval until ctx is done.
// The first update happens immediately.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, interval time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		err := c.Check(ctx)
		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if st != last {
			log.Info("readiness changed", zap.String("status", st.String()), zap.Error(err))
			last = st
		}
		hs.SetServingStatus("", st)
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}

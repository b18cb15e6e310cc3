package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

const policyQuery = "data.tenantguard.session"

// Built-in mismatch policy. Severities and the fatal threshold come from
// configuration through input.config; a custom policy file may ignore them.
const defaultRegoPolicy = `package tenantguard.session

rank = {"low": 1, "medium": 2, "high": 3, "critical": 4}

default severity = "medium"

severity = input.config.ip_severity if {
	input.anomaly == "ip_mismatch"
}

severity = input.config.user_agent_severity if {
	input.anomaly == "user_agent_mismatch"
}

default fatal = false

fatal if {
	rank[severity] >= rank[input.config.fatal_severity]
}
`

// Anomaly describes a session mismatch to classify.
type Anomaly struct {
	Kind        vdomain.Kind // ip_mismatch or user_agent_mismatch
	Role        string
	SessionKind string
	TenantID    string
	Stored      string
	Observed    string
}

// Decision is the policy's verdict for one anomaly.
type Decision struct {
	Severity vdomain.Severity
	Fatal    bool
}

// Evaluator classifies session anomalies.
type Evaluator interface {
	EvaluateAnomaly(ctx context.Context, a Anomaly) (Decision, error)
}

// Defaults are the configured severities used as policy input and as the
// fallback when evaluation fails.
type Defaults struct {
	IPMismatch        vdomain.Severity
	UserAgentMismatch vdomain.Severity
	FatalAt           vdomain.Severity
}

// DefaultSeverities are high for IP changes, medium for user-agent changes,
// and only critical anomalies end the session.
func DefaultSeverities() Defaults {
	return Defaults{
		IPMismatch:        vdomain.SeverityHigh,
		UserAgentMismatch: vdomain.SeverityMedium,
		FatalAt:           vdomain.SeverityCritical,
	}
}

// StaticEvaluator applies Defaults without Rego.
type StaticEvaluator struct {
	Defaults Defaults
}

func (s StaticEvaluator) EvaluateAnomaly(_ context.Context, a Anomaly) (Decision, error) {
	sev := vdomain.SeverityMedium
	switch a.Kind {
	case vdomain.KindIPMismatch:
		sev = s.Defaults.IPMismatch
	case vdomain.KindUserAgentMismatch:
		sev = s.Defaults.UserAgentMismatch
	}
	if !sev.Valid() {
		sev = vdomain.SeverityMedium
	}
	fatalAt := s.Defaults.FatalAt
	if !fatalAt.Valid() {
		fatalAt = vdomain.SeverityCritical
	}
	return Decision{Severity: sev, Fatal: sev.AtLeast(fatalAt)}, nil
}

// OPAEvaluator evaluates session anomalies with a Rego policy.
type OPAEvaluator struct {
	query    rego.PreparedEvalQuery
	fallback StaticEvaluator
	log      *zap.Logger
}

// NewOPAEvaluator compiles policy (the built-in one when empty) and prepares
// it for evaluation.
func NewOPAEvaluator(ctx context.Context, policy string, defaults Defaults, log *zap.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	compiler, err := ast.CompileModules(map[string]string{"session_policy.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile session policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare session policy: %w", err)
	}
	return &OPAEvaluator{query: q, fallback: StaticEvaluator{Defaults: defaults}, log: log}, nil
}

// LoadPolicyFile reads a Rego policy from path. An empty path returns "".
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck evaluates the prepared policy against a representative input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, Anomaly{Kind: vdomain.KindIPMismatch, Role: "user", SessionKind: "web"})
	return err
}

// EvaluateAnomaly returns the policy's decision. When the policy fails or
// yields an unusable result the configured defaults are used and the error
// is logged; the returned error is always nil so a broken policy never blocks
// validation.
func (e *OPAEvaluator) EvaluateAnomaly(ctx context.Context, a Anomaly) (Decision, error) {
	d, err := e.eval(ctx, a)
	if err != nil {
		e.log.Warn("session policy evaluation failed, using defaults", zap.String("anomaly", string(a.Kind)), zap.Error(err))
		return e.fallback.EvaluateAnomaly(ctx, a)
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, a Anomaly) (Decision, error) {
	d := e.fallback.Defaults
	input := map[string]interface{}{
		"anomaly": string(a.Kind),
		"session": map[string]interface{}{
			"role":      a.Role,
			"kind":      a.SessionKind,
			"tenant_id": a.TenantID,
		},
		"stored":   a.Stored,
		"observed": a.Observed,
		"config": map[string]interface{}{
			"ip_severity":         string(d.IPMismatch),
			"user_agent_severity": string(d.UserAgentMismatch),
			"fatal_severity":      string(d.FatalAt),
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errors.New("policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, errors.New("policy result is not an object")
	}
	sevStr, _ := doc["severity"].(string)
	sev := vdomain.Severity(sevStr)
	if !sev.Valid() {
		return Decision{}, fmt.Errorf("policy returned unknown severity %q", sevStr)
	}
	fatal, _ := doc["fatal"].(bool)
	return Decision{Severity: sev, Fatal: fatal}, nil
}

package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/loomworks/loom/pkg/manifest"
	"github.com/loomworks/loom/pkg/telemetry"
)

// Engine evaluates rego policies against manifests.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   *telemetry.Logger
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.NewComponentLogger("policy-engine"),
	}

	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := e.add(&p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// LoadDir loads workspace policies from *.rego files in dir. Loaded
// policies are enforced at error severity.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read policy directory: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", entry.Name(), err)
		}
		p := &Policy{
			Name:     strings.TrimSuffix(entry.Name(), ".rego"),
			Severity: SeverityError,
			Enabled:  true,
			Rego:     string(content),
		}
		if err := e.add(p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		count++
	}

	e.logger.Infof("Loaded %d workspace policies from %s", count, dir)
	return nil
}

// add compile-checks and stores a policy. Callers hold the lock, or
// own the engine exclusively during construction.
func (e *Engine) add(p *Policy) error {
	if _, err := ast.ParseModule(p.Name, p.Rego); err != nil {
		return err
	}
	e.policies[p.Name] = p
	return nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, *p)
	}
	return policies
}

// EvaluateManifest evaluates every enabled policy against a manifest.
func (e *Engine) EvaluateManifest(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := buildInput(m)
	result := &Result{Allowed: true}

	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}
		violations, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			e.logger.WithError(err).Warnf("Policy %s evaluation failed", p.Name)
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity == string(SeverityError) {
			result.Allowed = false
			break
		}
	}
	return result, nil
}

// buildInput projects the manifest into the shape policies query.
func buildInput(m *manifest.Manifest) map[string]interface{} {
	phases := make([]map[string]interface{}, 0, len(m.Phases))
	for i := range m.Phases {
		p := &m.Phases[i]
		phases = append(phases, map[string]interface{}{
			"id":             p.ID,
			"type":           string(p.Type),
			"depends_on":     p.DependsOn,
			"produces":       p.Produces,
			"manual_pattern": p.ManualPattern,
			"has_verifier":   len(m.DirectVerifiers(p.ID)) > 0,
		})
	}
	return map[string]interface{}{
		"series":  m.Series,
		"version": m.Version.String(),
		"phases":  phases,
	}
}

func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input map[string]interface{}) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.createViolation(p, d))
			}
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from rego source.
func extractPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "loom.policies"
}

func (e *Engine) createViolation(p *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: string(p.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if phase, ok := v["phase"].(string); ok {
			violation.PhaseID = phase
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

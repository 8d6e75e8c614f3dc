// Package policy gates manifests with OPA rego policies. Built-in
// policies cover the structural rules every workspace wants; a
// workspace can add its own under the configured policy directory.
package policy

// Severity classifies how a violation is treated.
type Severity string

// Severities. Error violations block a run in enforcing mode; warning
// violations are always advisory.
const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Policy is one rego policy with its metadata.
type Policy struct {
	Name        string
	Description string
	Severity    Severity
	Enabled     bool
	Rego        string
}

// Violation is one policy denial.
type Violation struct {
	Policy   string
	PhaseID  string
	Message  string
	Severity string
}

// Result is the outcome of evaluating all policies against a manifest.
type Result struct {
	// Allowed is false when any error-severity violation fired.
	Allowed    bool
	Violations []Violation
	Warnings   []string
}

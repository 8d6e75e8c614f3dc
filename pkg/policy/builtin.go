package policy

// GetBuiltinPolicies returns the policies loaded into every engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		generationVerifiedPolicy(),
		producesInWorkspacePolicy(),
	}
}

// generationVerifiedPolicy flags generation phases no verification
// phase depends on. Unverified generated code is legal but worth a
// warning.
func generationVerifiedPolicy() Policy {
	return Policy{
		Name:        "generation-verified",
		Description: "Warns when a generation phase has no verification phase depending on it",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package loom.policies.verified

import rego.v1

deny contains violation if {
	some phase in input.phases
	phase.type == "generation"
	not phase.has_verifier
	violation := {
		"message": sprintf("generation phase %s has no verification phase depending on it", [phase.id]),
		"severity": "warning",
		"phase": phase.id,
	}
}
`,
	}
}

// producesInWorkspacePolicy rejects produces paths that escape the
// workspace root.
func producesInWorkspacePolicy() Policy {
	return Policy{
		Name:        "produces-in-workspace",
		Description: "Rejects produces paths that are absolute or escape the workspace",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package loom.policies.workspace

import rego.v1

deny contains violation if {
	some phase in input.phases
	some path in phase.produces
	startswith(path, "/")
	violation := {
		"message": sprintf("phase %s produces absolute path %s", [phase.id, path]),
		"severity": "error",
		"phase": phase.id,
	}
}

deny contains violation if {
	some phase in input.phases
	some path in phase.produces
	contains(path, "..")
	violation := {
		"message": sprintf("phase %s produces path %s that escapes the workspace", [phase.id, path]),
		"severity": "error",
		"phase": phase.id,
	}
}
`,
	}
}

package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// DeriveEvaluator runs a phase's Starlark derive script to compute
// input values from the ones already resolved. The script sees the
// resolved inputs as the `inputs` dict; every non-underscore global it
// leaves behind becomes a derived input.
type DeriveEvaluator struct {
	timeout time.Duration
}

// NewDeriveEvaluator creates an evaluator.
func NewDeriveEvaluator(timeout time.Duration) *DeriveEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &DeriveEvaluator{timeout: timeout}
}

// Derive executes the script and returns the derived inputs.
func (e *DeriveEvaluator) Derive(ctx context.Context, script string, inputs map[string]string) (map[string]string, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan map[string]string, 1)
	errCh := make(chan error, 1)

	go func() {
		derived, err := e.deriveSync(script, inputs)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- derived
		}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("derive script timeout after %v", e.timeout)
	case err := <-errCh:
		return nil, err
	case derived := <-resultCh:
		return derived, nil
	}
}

func (e *DeriveEvaluator) deriveSync(script string, inputs map[string]string) (map[string]string, error) {
	thread := &starlark.Thread{
		Name: "loom-derive",
		Print: func(_ *starlark.Thread, _ string) {
			// Scripts compute values; print output is discarded.
		},
	}

	dict := starlark.NewDict(len(inputs))
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := dict.SetKey(starlark.String(k), starlark.String(inputs[k])); err != nil {
			return nil, fmt.Errorf("failed to build inputs dict: %w", err)
		}
	}

	predeclared := starlark.StringDict{"inputs": dict}

	globals, err := starlark.ExecFile(thread, "derive.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("derive script failed: %w", err)
	}

	derived := make(map[string]string)
	for name, val := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		s, err := stringify(val)
		if err != nil {
			return nil, fmt.Errorf("derived input %s: %w", name, err)
		}
		derived[name] = s
	}
	return derived, nil
}

func stringify(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		return val.String(), nil
	case starlark.Float:
		return val.String(), nil
	case starlark.Bool:
		if bool(val) {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("unsupported type %s (derived inputs must be scalar)", v.Type())
	}
}

package dispatch

import (
	"context"
	"time"

	"github.com/openconveyor/conveyor/pkg/browser"
	"github.com/openconveyor/conveyor/pkg/policy"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

// Func is the module contract. A module receives its parameters through the
// execution Context and may return any raw shape understood by
// result.Normalize, or a typed *result.Error.
type Func func(ctx context.Context, mc *Context) (any, error)

// Context carries the per-execution inputs handed to a module body.
type Context struct {
	// Params are the raw module parameters.
	Params map[string]any

	// RequestID uniquely identifies this execution.
	RequestID string

	// Env is the environment the execution was resolved to.
	Env policy.Environment

	// Logger is a child logger scoped to this execution.
	Logger *telemetry.Logger

	// Browser optionally carries a pre-acquired session handle for
	// in-process browser workflows. Modules that need cross-process
	// reattachment go through browser.Manager.Attach instead.
	Browser *browser.Handle
}

// Param returns a parameter value and whether it was present.
func (mc *Context) Param(key string) (any, bool) {
	v, ok := mc.Params[key]
	return v, ok
}

// StringParam returns a string parameter, or ok=false when absent or not a
// string.
func (mc *Context) StringParam(key string) (string, bool) {
	v, ok := mc.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Request describes one execution to be dispatched.
type Request struct {
	// ModuleID names the module, e.g. "http.fetch".
	ModuleID string

	// Params are passed through to the module Context.
	Params map[string]any

	// Capabilities the module requires. Checked against the policy gate
	// before the module body runs.
	Capabilities []policy.Capability

	// Env overrides the dispatcher's resolved environment when non-empty.
	Env policy.Environment

	// Timeout bounds the module body. Zero uses the dispatcher default.
	Timeout time.Duration

	// Browser is an optional pre-acquired session handle passed through
	// to the module Context.
	Browser *browser.Handle
}

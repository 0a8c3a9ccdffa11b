// Package result defines the canonical result envelope and error taxonomy
// shared by every Conveyor module. Module outcomes are normalized into a
// Result before they reach any caller, so the rest of the system only ever
// deals with one shape.
package result

import (
	"fmt"
)

// Meta keys emitted by the dispatcher and the error taxonomy. Keys listed in
// internalMetaKeys never cross a process or trust boundary.
const (
	MetaModuleID     = "module_id"
	MetaRequestID    = "request_id"
	MetaDurationMS   = "duration_ms"
	MetaAttempts     = "attempts"
	MetaErrorDetails = "error_details"
	MetaEnvironment  = "environment"

	MetaStackTrace = "stack_trace"
	MetaDebug      = "debug"
)

// internalMetaKeys is the set of meta keys reserved for same-process
// diagnostics.
var internalMetaKeys = map[string]bool{
	MetaStackTrace: true,
	MetaDebug:      true,
}

// Result is the canonical success/failure envelope. Exactly one of Data
// (OK=true) or Error+ErrorCode (OK=false) is meaningful.
type Result struct {
	// OK indicates whether the module execution succeeded.
	OK bool `json:"ok"`

	// Data is the success payload. Only meaningful when OK is true.
	Data any `json:"data,omitempty"`

	// Error is the human-readable failure message. Only set when OK is false.
	Error string `json:"error,omitempty"`

	// ErrorCode is the stable failure code. Only set when OK is false.
	ErrorCode Code `json:"error_code,omitempty"`

	// Meta carries execution metadata (module id, duration, request id,
	// structured error details) plus internal-only diagnostics.
	Meta map[string]any `json:"meta,omitempty"`
}

// Success builds a success Result carrying data and optional metadata.
func Success(data any, meta map[string]any) Result {
	return Result{
		OK:   true,
		Data: data,
		Meta: cloneMeta(meta),
	}
}

// Failure builds a failure Result. Structured details, when present, are
// stored under the error_details meta key so they survive serialization.
func Failure(message string, code Code, details map[string]any, meta map[string]any) Result {
	if code == "" {
		code = CodeExecutionError
	}
	m := cloneMeta(meta)
	if len(details) > 0 {
		if m == nil {
			m = make(map[string]any, 1)
		}
		m[MetaErrorDetails] = details
	}
	return Result{
		OK:        false,
		Error:     message,
		ErrorCode: code,
		Meta:      m,
	}
}

// WithMeta returns a copy of the Result with the given meta key set.
func (r Result) WithMeta(key string, value any) Result {
	m := cloneMeta(r.Meta)
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[key] = value
	r.Meta = m
	return r
}

// Details returns the structured error details, or nil if absent.
func (r Result) Details() map[string]any {
	if r.Meta == nil {
		return nil
	}
	if d, ok := r.Meta[MetaErrorDetails].(map[string]any); ok {
		return d
	}
	return nil
}

// ToDict renders the Result as a plain mapping. Internal meta keys are
// filtered out unless includeInternal is set. When the filtered meta subset
// is empty the meta field is omitted entirely rather than emitted as an
// empty object.
func (r Result) ToDict(includeInternal bool) map[string]any {
	d := map[string]any{"ok": r.OK}
	if r.OK {
		d["data"] = r.Data
	} else {
		d["error"] = r.Error
		d["error_code"] = string(r.ErrorCode)
	}

	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		if !includeInternal && internalMetaKeys[k] {
			continue
		}
		meta[k] = v
	}
	if len(meta) > 0 {
		d["meta"] = meta
	}
	return d
}

// ToPublicDict renders the Result for consumers outside the trust boundary.
func (r Result) ToPublicDict() map[string]any {
	return r.ToDict(false)
}

// ToInternalDict renders the Result including internal-only diagnostics.
// The output is for same-process use and must never cross a trust boundary.
func (r Result) ToInternalDict() map[string]any {
	return r.ToDict(true)
}

// ToLegacyDict renders the Result in the nested wire shape used by
// backward-compatible consumers: failures become {code, message, field, hint}.
func (r Result) ToLegacyDict() map[string]any {
	if r.OK {
		return map[string]any{"ok": true, "data": r.Data}
	}
	e := map[string]any{
		"code":    string(r.ErrorCode),
		"message": r.Error,
	}
	if details := r.Details(); details != nil {
		if f, ok := details["field"].(string); ok && f != "" {
			e["field"] = f
		}
		if h, ok := details["hint"].(string); ok && h != "" {
			e["hint"] = h
		}
	}
	return map[string]any{"ok": false, "error": e}
}

// Unwrap returns the success payload, or an error wrapping the failure
// message for failure Results.
func (r Result) Unwrap() (any, error) {
	if r.OK {
		return r.Data, nil
	}
	return nil, fmt.Errorf("module execution failed [%s]: %s", r.ErrorCode, r.Error)
}

// UnwrapOr returns the success payload, or def for failure Results. It never
// returns an error.
func (r Result) UnwrapOr(def any) any {
	if r.OK {
		return r.Data
	}
	return def
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	m := make(map[string]any, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return m
}

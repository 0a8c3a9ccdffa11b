package result

import (
	"errors"
	"fmt"
	"time"
)

// Code is a stable, machine-readable failure code.
type Code string

// Failure codes. Each error kind fixes exactly one code; FORBIDDEN and
// RETRY_EXHAUSTED are produced by the policy gate and the retry layer
// rather than by modules.
const (
	CodeMissingParam      Code = "MISSING_PARAM"
	CodeInvalidParamType  Code = "INVALID_PARAM_TYPE"
	CodeInvalidParamValue Code = "INVALID_PARAM_VALUE"
	CodeConfigMissing     Code = "CONFIG_MISSING"
	CodeTimeout           Code = "TIMEOUT"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeAPIError          Code = "API_ERROR"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeAuthError         Code = "AUTH_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeElementNotFound   Code = "ELEMENT_NOT_FOUND"
	CodeFileNotFound      Code = "FILE_NOT_FOUND"
	CodeExecutionError    Code = "EXECUTION_ERROR"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRetryExhausted    Code = "RETRY_EXHAUSTED"
)

// Kind classifies a typed module error. The set is closed: modules pick the
// most specific kind that applies and fall back to KindExecution.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindInvalidType     Kind = "invalid_type"
	KindInvalidValue    Kind = "invalid_value"
	KindConfigMissing   Kind = "config_missing"
	KindTimeout         Kind = "timeout"
	KindNetwork         Kind = "network"
	KindAPI             Kind = "api"
	KindRateLimited     Kind = "rate_limited"
	KindAuthentication  Kind = "authentication"
	KindNotFound        Kind = "not_found"
	KindElementNotFound Kind = "element_not_found"
	KindFileNotFound    Kind = "file_not_found"
	KindExecution       Kind = "execution"
)

// kindCodes maps each error kind to its canonical failure code.
var kindCodes = map[Kind]Code{
	KindValidation:      CodeMissingParam,
	KindInvalidType:     CodeInvalidParamType,
	KindInvalidValue:    CodeInvalidParamValue,
	KindConfigMissing:   CodeConfigMissing,
	KindTimeout:         CodeTimeout,
	KindNetwork:         CodeNetworkError,
	KindAPI:             CodeAPIError,
	KindRateLimited:     CodeRateLimited,
	KindAuthentication:  CodeAuthError,
	KindNotFound:        CodeNotFound,
	KindElementNotFound: CodeElementNotFound,
	KindFileNotFound:    CodeFileNotFound,
	KindExecution:       CodeExecutionError,
}

// codeKinds is the reverse mapping used by FromCode.
var codeKinds = func() map[Code]Kind {
	m := make(map[Code]Kind, len(kindCodes))
	for k, c := range kindCodes {
		m[c] = k
	}
	return m
}()

// Error is a typed module failure. It is constructed at the point a module
// detects the failure, propagated unchanged to the dispatcher, and converted
// 1:1 into a failure Result.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Field is the offending parameter name, for validation-class errors.
	Field string

	// Hint suggests how to remediate the failure.
	Hint string

	// URL is the request target, for network and API errors.
	URL string

	// StatusCode is the HTTP status, for API errors.
	StatusCode int

	// Timeout is the exceeded bound, for timeout errors.
	Timeout time.Duration

	// RetryAfter is the server-provided backoff hint, for rate limits.
	RetryAfter time.Duration

	// Selector is the missing element selector, for element-not-found errors.
	Selector string

	// Path is the missing file path, for file-not-found errors.
	Path string

	// Err is the underlying error, if any.
	Err error

	// Details carries additional structured context.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field=%s)", e.Code(), e.Message, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two typed errors match when
// their kinds match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Code returns the canonical failure code fixed by the error kind.
func (e *Error) Code() Code {
	if c, ok := kindCodes[e.Kind]; ok {
		return c
	}
	return CodeExecutionError
}

// Transient reports whether the error belongs to the transient family
// (network, API, rate limited) that the retry layer may re-attempt.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindAPI, KindRateLimited:
		return true
	}
	return false
}

// WithHint attaches a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithDetail attaches a structured detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// StructuredDetails flattens the variant-specific fields into the details
// payload emitted on the failure Result.
func (e *Error) StructuredDetails() map[string]any {
	d := make(map[string]any, len(e.Details)+4)
	for k, v := range e.Details {
		d[k] = v
	}
	if e.Field != "" {
		d["field"] = e.Field
	}
	if e.Hint != "" {
		d["hint"] = e.Hint
	}
	if e.URL != "" {
		d["url"] = e.URL
	}
	if e.StatusCode != 0 {
		d["status_code"] = e.StatusCode
	}
	if e.Timeout > 0 {
		d["timeout_ms"] = e.Timeout.Milliseconds()
	}
	if e.RetryAfter > 0 {
		d["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	if e.Selector != "" {
		d["selector"] = e.Selector
	}
	if e.Path != "" {
		d["path"] = e.Path
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// ToResult converts the typed error 1:1 into a failure Result.
func (e *Error) ToResult() Result {
	return Failure(e.Message, e.Code(), e.StructuredDetails(), nil)
}

// NewValidationError reports a missing required parameter.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NewInvalidTypeError reports a parameter of the wrong type.
func NewInvalidTypeError(field, expected string) *Error {
	return &Error{
		Kind:    KindInvalidType,
		Field:   field,
		Message: fmt.Sprintf("parameter %q must be of type %s", field, expected),
	}
}

// NewInvalidValueError reports a parameter outside its allowed values.
func NewInvalidValueError(field, message string) *Error {
	return &Error{Kind: KindInvalidValue, Field: field, Message: message}
}

// NewConfigMissingError reports absent required configuration.
func NewConfigMissingError(key string) *Error {
	return &Error{
		Kind:    KindConfigMissing,
		Field:   key,
		Message: fmt.Sprintf("required configuration %q is not set", key),
	}
}

// NewTimeoutError reports an exceeded execution bound.
func NewTimeoutError(bound time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Timeout: bound,
		Message: fmt.Sprintf("execution exceeded timeout of %s", bound),
	}
}

// NewNetworkError reports a transport-level failure.
func NewNetworkError(message, url string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, URL: url, Err: err}
}

// NewAPIError reports an upstream API failure.
func NewAPIError(message, url string, statusCode int) *Error {
	return &Error{Kind: KindAPI, Message: message, URL: url, StatusCode: statusCode}
}

// NewRateLimitedError reports an upstream rate limit with a backoff hint.
func NewRateLimitedError(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// NewAuthenticationError reports rejected credentials.
func NewAuthenticationError(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// NewNotFoundError reports an absent resource.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewElementNotFoundError reports a missing page element.
func NewElementNotFoundError(selector string) *Error {
	return &Error{
		Kind:     KindElementNotFound,
		Selector: selector,
		Message:  fmt.Sprintf("no element matches selector %q", selector),
	}
}

// NewFileNotFoundError reports a missing file.
func NewFileNotFoundError(path string) *Error {
	return &Error{
		Kind:    KindFileNotFound,
		Path:    path,
		Message: fmt.Sprintf("file not found: %s", path),
	}
}

// NewExecutionError reports an unexpected failure.
func NewExecutionError(message string, err error) *Error {
	return &Error{Kind: KindExecution, Message: message, Err: err}
}

// FromCode reconstructs a typed error from a wire code. Unrecognized codes
// map permissively to the base execution kind; FromCode itself never fails.
func FromCode(code Code, message string, fields map[string]any) *Error {
	kind, ok := codeKinds[code]
	if !ok {
		kind = KindExecution
	}
	e := &Error{Kind: kind, Message: message}
	for k, v := range fields {
		switch k {
		case "field":
			if s, ok := v.(string); ok {
				e.Field = s
			}
		case "hint":
			if s, ok := v.(string); ok {
				e.Hint = s
			}
		case "url":
			if s, ok := v.(string); ok {
				e.URL = s
			}
		case "selector":
			if s, ok := v.(string); ok {
				e.Selector = s
			}
		case "path":
			if s, ok := v.(string); ok {
				e.Path = s
			}
		default:
			e = e.WithDetail(k, v)
		}
	}
	return e
}

// AsTyped extracts a typed error from an error chain.
func AsTyped(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient reports whether err carries a transient typed error.
func IsTransient(err error) bool {
	if e, ok := AsTyped(err); ok {
		return e.Transient()
	}
	return false
}

// TransientCode reports whether a failure code belongs to the transient
// family the retry layer may re-attempt.
func TransientCode(code Code) bool {
	switch code {
	case CodeNetworkError, CodeAPIError, CodeRateLimited:
		return true
	}
	return false
}

package result

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		err  *Error
		code Code
	}{
		{NewValidationError("name", "name is required"), CodeMissingParam},
		{NewInvalidTypeError("count", "int"), CodeInvalidParamType},
		{NewInvalidValueError("mode", "mode must be one of: fast, slow"), CodeInvalidParamValue},
		{NewConfigMissingError("API_KEY"), CodeConfigMissing},
		{NewTimeoutError(5 * time.Second), CodeTimeout},
		{NewNetworkError("connection refused", "https://example.com", nil), CodeNetworkError},
		{NewAPIError("upstream returned 502", "https://api.example.com", 502), CodeAPIError},
		{NewRateLimitedError("too many requests", 30 * time.Second), CodeRateLimited},
		{NewAuthenticationError("invalid token"), CodeAuthError},
		{NewNotFoundError("record 17 does not exist"), CodeNotFound},
		{NewElementNotFoundError("#submit"), CodeElementNotFound},
		{NewFileNotFoundError("/tmp/input.csv"), CodeFileNotFound},
		{NewExecutionError("unexpected failure", nil), CodeExecutionError},
	}

	for _, tt := range tests {
		if got := tt.err.Code(); got != tt.code {
			t.Errorf("%s: Code() = %s, want %s", tt.err.Kind, got, tt.code)
		}
	}
}

func TestTransientFamily(t *testing.T) {
	transient := []*Error{
		NewNetworkError("down", "", nil),
		NewAPIError("bad gateway", "", 502),
		NewRateLimitedError("slow down", time.Second),
	}
	for _, e := range transient {
		if !e.Transient() {
			t.Errorf("%s should be transient", e.Kind)
		}
	}

	permanent := []*Error{
		NewValidationError("x", "x is required"),
		NewTimeoutError(time.Second),
		NewNotFoundError("gone"),
		NewExecutionError("boom", nil),
	}
	for _, e := range permanent {
		if e.Transient() {
			t.Errorf("%s should not be transient", e.Kind)
		}
	}
}

func TestErrorChain(t *testing.T) {
	cause := errors.New("socket closed")
	e := NewNetworkError("request failed", "https://example.com", cause)
	wrapped := fmt.Errorf("module http.fetch: %w", e)

	typed, ok := AsTyped(wrapped)
	if !ok {
		t.Fatal("AsTyped failed to find typed error in chain")
	}
	if typed.Kind != KindNetwork {
		t.Errorf("Kind = %s", typed.Kind)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("underlying cause lost from chain")
	}
	if !IsTransient(wrapped) {
		t.Error("IsTransient failed through wrapping")
	}
}

func TestToResult(t *testing.T) {
	e := NewAPIError("upstream returned 503", "https://api.example.com/v1", 503)
	r := e.ToResult()

	if r.OK {
		t.Fatal("typed error produced OK result")
	}
	if r.ErrorCode != CodeAPIError {
		t.Errorf("ErrorCode = %s", r.ErrorCode)
	}
	details := r.Details()
	if details["url"] != "https://api.example.com/v1" {
		t.Errorf("details url = %v", details["url"])
	}
	if details["status_code"] != 503 {
		t.Errorf("details status_code = %v", details["status_code"])
	}
}

func TestToResultRetryAfter(t *testing.T) {
	r := NewRateLimitedError("too many requests", 45*time.Second).ToResult()
	if r.Details()["retry_after_ms"] != int64(45000) {
		t.Errorf("retry_after_ms = %v", r.Details()["retry_after_ms"])
	}
}

func TestFromCode(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
	}{
		{CodeMissingParam, KindValidation},
		{CodeTimeout, KindTimeout},
		{CodeRateLimited, KindRateLimited},
		{CodeElementNotFound, KindElementNotFound},
		// Unknown codes default permissively to the base execution kind.
		{Code("SOMETHING_NEW"), KindExecution},
		{Code(""), KindExecution},
	}

	for _, tt := range tests {
		e := FromCode(tt.code, "msg", nil)
		if e.Kind != tt.kind {
			t.Errorf("FromCode(%s).Kind = %s, want %s", tt.code, e.Kind, tt.kind)
		}
	}
}

func TestFromCodeFields(t *testing.T) {
	e := FromCode(CodeMissingParam, "name is required", map[string]any{
		"field": "name",
		"hint":  "pass a name",
		"extra": 7,
	})
	if e.Field != "name" || e.Hint != "pass a name" {
		t.Errorf("fields not restored: field=%q hint=%q", e.Field, e.Hint)
	}
	if e.Details["extra"] != 7 {
		t.Errorf("extra detail not kept: %v", e.Details)
	}
}

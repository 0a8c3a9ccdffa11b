package result

import (
	"reflect"
	"testing"
)

func TestSuccessFailureInvariant(t *testing.T) {
	s := Success(map[string]any{"value": 42}, nil)
	if !s.OK {
		t.Fatal("Success result is not OK")
	}
	if s.Error != "" || s.ErrorCode != "" {
		t.Errorf("Success result carries error fields: %q %q", s.Error, s.ErrorCode)
	}

	f := Failure("boom", CodeAPIError, nil, nil)
	if f.OK {
		t.Fatal("Failure result is OK")
	}
	if f.Data != nil {
		t.Errorf("Failure result carries data: %v", f.Data)
	}
	if f.Error != "boom" || f.ErrorCode != CodeAPIError {
		t.Errorf("Failure fields wrong: %q %q", f.Error, f.ErrorCode)
	}
}

func TestFailureDefaultsCode(t *testing.T) {
	f := Failure("boom", "", nil, nil)
	if f.ErrorCode != CodeExecutionError {
		t.Errorf("expected default EXECUTION_ERROR, got %s", f.ErrorCode)
	}
}

func TestToDictFiltersInternalMeta(t *testing.T) {
	r := Success("data", map[string]any{
		MetaModuleID:   "string.trim",
		MetaStackTrace: "goroutine 1 [running]...",
		MetaDebug:      map[string]any{"raw": "dump"},
	})

	pub := r.ToPublicDict()
	meta, ok := pub["meta"].(map[string]any)
	if !ok {
		t.Fatal("public dict has no meta")
	}
	if _, leaked := meta[MetaStackTrace]; leaked {
		t.Error("stack_trace leaked into public dict")
	}
	if _, leaked := meta[MetaDebug]; leaked {
		t.Error("debug leaked into public dict")
	}
	if meta[MetaModuleID] != "string.trim" {
		t.Errorf("module_id missing from public meta: %v", meta)
	}

	internal := r.ToInternalDict()
	imeta := internal["meta"].(map[string]any)
	if _, ok := imeta[MetaStackTrace]; !ok {
		t.Error("internal dict dropped stack_trace")
	}
}

func TestToDictOmitsEmptyMeta(t *testing.T) {
	// Meta holding only internal keys must vanish entirely from the public
	// dict, not appear as an empty object.
	r := Success("data", map[string]any{MetaStackTrace: "trace"})
	pub := r.ToPublicDict()
	if _, present := pub["meta"]; present {
		t.Errorf("empty public meta should be omitted, got %v", pub["meta"])
	}

	bare := Success("data", nil)
	if _, present := bare.ToPublicDict()["meta"]; present {
		t.Error("nil meta should be omitted")
	}
}

func TestToLegacyDict(t *testing.T) {
	f := Failure("name is required", CodeMissingParam,
		map[string]any{"field": "name", "hint": "pass a non-empty name"}, nil)

	legacy := f.ToLegacyDict()
	e, ok := legacy["error"].(map[string]any)
	if !ok {
		t.Fatalf("legacy failure has no nested error: %v", legacy)
	}
	want := map[string]any{
		"code":    "MISSING_PARAM",
		"message": "name is required",
		"field":   "name",
		"hint":    "pass a non-empty name",
	}
	if !reflect.DeepEqual(e, want) {
		t.Errorf("legacy error = %v, want %v", e, want)
	}

	s := Success([]int{1, 2}, nil).ToLegacyDict()
	if s["ok"] != true {
		t.Errorf("legacy success ok = %v", s["ok"])
	}
}

func TestUnwrap(t *testing.T) {
	s := Success("payload", nil)
	v, err := s.Unwrap()
	if err != nil || v != "payload" {
		t.Errorf("Unwrap() = %v, %v", v, err)
	}

	f := Failure("boom", CodeNetworkError, nil, nil)
	if _, err := f.Unwrap(); err == nil {
		t.Error("Unwrap() on failure returned nil error")
	}

	if got := f.UnwrapOr("fallback"); got != "fallback" {
		t.Errorf("UnwrapOr() = %v", got)
	}
	if got := s.UnwrapOr("fallback"); got != "payload" {
		t.Errorf("UnwrapOr() on success = %v", got)
	}
}

func TestWithMetaDoesNotMutate(t *testing.T) {
	r := Success("x", map[string]any{"a": 1})
	r2 := r.WithMeta("b", 2)
	if _, ok := r.Meta["b"]; ok {
		t.Error("WithMeta mutated the original result")
	}
	if r2.Meta["b"] != 2 || r2.Meta["a"] != 1 {
		t.Errorf("WithMeta result meta = %v", r2.Meta)
	}
}

package result

// protocolKeys are the envelope keys that must never leak into a normalized
// data payload.
var protocolKeys = map[string]bool{
	"ok":      true,
	"status":  true,
	"message": true,
	"meta":    true,
}

// Normalize converts any raw module return value into the canonical Result.
// The mapping is total and deterministic: the same raw input always produces
// the same Result, and protocol keys never survive into the data payload.
//
// Accepted shapes:
//   - a Result (passed through unchanged)
//   - a mapping with no ok/status key (treated wholesale as success data)
//   - a mapping with ok=true and a data key (data becomes the payload,
//     sibling keys are discarded)
//   - a mapping with ok=true and no data key (all keys except the protocol
//     set become the payload)
//   - a mapping with ok=false (error text from an error string, a nested
//     {code, message, field} object, or a {status: "error", message} shape)
//   - anything else (treated directly as success data)
func Normalize(raw any) Result {
	switch v := raw.(type) {
	case Result:
		return v
	case *Result:
		if v != nil {
			return *v
		}
		return Success(nil, nil)
	case map[string]any:
		return normalizeMap(v)
	default:
		return Success(raw, nil)
	}
}

func normalizeMap(m map[string]any) Result {
	okVal, hasOK := m["ok"]
	statusVal, hasStatus := m["status"]

	// No protocol marker at all: the mapping is plain business data.
	if !hasOK && !hasStatus {
		return Success(m, nil)
	}

	// Resolve the success flag. A bare status string acts as the marker when
	// no ok key is present.
	ok, okIsBool := okVal.(bool)
	if !hasOK {
		status, _ := statusVal.(string)
		ok = status != "error"
		okIsBool = true
	}
	if !okIsBool {
		// An ok key of a non-bool type is not the protocol; treat the
		// mapping as opaque success data.
		return Success(m, nil)
	}

	if ok {
		if data, hasData := m["data"]; hasData {
			// Explicit payload: sibling keys are protocol residue and are
			// discarded so they cannot leak into business data.
			return Success(data, nil)
		}
		payload := make(map[string]any, len(m))
		for k, v := range m {
			if protocolKeys[k] || k == "data" {
				continue
			}
			payload[k] = v
		}
		return Success(payload, nil)
	}

	return normalizeFailure(m)
}

// normalizeFailure extracts the error message, code, and details from the
// failure envelope shapes modules are known to return.
func normalizeFailure(m map[string]any) Result {
	code := CodeExecutionError
	message := "module execution failed"
	var details map[string]any

	if c, ok := m["error_code"].(string); ok && c != "" {
		code = Code(c)
	}

	switch e := m["error"].(type) {
	case string:
		if e != "" {
			message = e
		}
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			message = msg
		}
		if c, ok := e["code"].(string); ok && c != "" {
			code = Code(c)
		}
		if f, ok := e["field"].(string); ok && f != "" {
			details = map[string]any{"field": f}
		}
	default:
		if msg, ok := m["message"].(string); ok && msg != "" {
			message = msg
		}
	}

	return Failure(message, code, details, nil)
}

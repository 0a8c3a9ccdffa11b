package modules

import (
	"context"
	"time"

	"github.com/openconveyor/conveyor/pkg/dispatch"
	"github.com/openconveyor/conveyor/pkg/result"
)

// Echo returns the request parameters unchanged.
func Echo(_ context.Context, mc *dispatch.Context) (any, error) {
	if mc.Params == nil {
		return map[string]any{}, nil
	}
	return mc.Params, nil
}

// Sleep blocks for the "duration" parameter (a Go duration string),
// honoring cancellation. Useful for exercising the dispatch timeout.
func Sleep(ctx context.Context, mc *dispatch.Context) (any, error) {
	raw, ok := mc.StringParam("duration")
	if !ok {
		return nil, result.NewValidationError("duration", "duration is required")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, result.NewInvalidValueError("duration", "duration must be a valid Go duration")
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept": raw}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

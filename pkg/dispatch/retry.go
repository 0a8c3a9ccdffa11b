package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openconveyor/conveyor/pkg/result"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

// ExecuteWithRetry runs fn like Execute but retries transient failures
// (NETWORK_ERROR, API_ERROR, RATE_LIMITED) up to maxRetries additional
// attempts with exponential backoff starting at retryDelay. Non-transient
// failures and successes return immediately. When every attempt fails with
// a transient code, the final failure is re-coded RETRY_EXHAUSTED with its
// last message and details preserved.
//
// Every result carries meta.attempts with the number of attempts made.
func (d *Dispatcher) ExecuteWithRetry(ctx context.Context, fn Func, req Request, maxRetries int, retryDelay time.Duration) result.Result {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	requestID := uuid.NewString()
	env := d.resolveEnv(req.Env)
	started := time.Now()

	ctx, span := d.tel.Tracer.StartExecution(ctx, req.ModuleID, requestID)
	defer span.End()

	logger := d.logger.WithModuleID(req.ModuleID).WithRequestID(requestID).WithEnvironment(string(env))

	var res result.Result
	attempts := 0
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		attempts = attempt
		d.tel.Metrics.ExecutionStarted(req.ModuleID, string(env))
		res = d.execute(ctx, fn, req, requestID, env, logger)

		if res.OK || !result.TransientCode(res.ErrorCode) {
			break
		}
		if attempt > maxRetries {
			break
		}

		d.tel.Metrics.RetryAttempted(req.ModuleID, string(res.ErrorCode))
		delay := backoffDelay(retryDelay, attempt)
		logger.WithField("error_code", string(res.ErrorCode)).
			Warnf("transient failure, retrying in %s (attempt %d/%d)", delay, attempt, maxRetries+1)
		if err := sleepCtx(ctx, delay); err != nil {
			res = result.NewExecutionError("execution canceled during retry wait", err).ToResult()
			break
		}
	}

	if !res.OK && result.TransientCode(res.ErrorCode) && attempts == maxRetries+1 {
		res = recodeExhausted(res)
	}

	res = d.annotate(res, req.ModuleID, requestID, started).
		WithMeta(result.MetaAttempts, attempts)

	telemetry.RecordOutcome(span, res.OK, string(res.ErrorCode))
	d.observe(ctx, res, req.ModuleID, requestID, env, started, attempts, logger)
	return res
}

// recodeExhausted rewrites a transient failure as RETRY_EXHAUSTED while
// keeping its message, details, and meta.
func recodeExhausted(res result.Result) result.Result {
	res.ErrorCode = result.CodeRetryExhausted
	return res
}

// backoffDelay doubles the base delay per completed attempt, capped at
// one minute.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > time.Minute {
			return time.Minute
		}
	}
	return delay
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

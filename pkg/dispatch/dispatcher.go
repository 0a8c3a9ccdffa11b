package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openconveyor/conveyor/pkg/policy"
	"github.com/openconveyor/conveyor/pkg/result"
	"github.com/openconveyor/conveyor/pkg/telemetry"
)

// DefaultTimeout bounds module bodies when the request does not set one.
const DefaultTimeout = 30 * time.Second

// Gate is a capability policy evaluator. A nil return allows the execution.
type Gate interface {
	Check(ctx context.Context, caps []policy.Capability, moduleID string, env policy.Environment) *result.Result
}

// tableGate adapts the static denial table to the Gate interface.
type tableGate struct {
	table *policy.Table
}

func (g tableGate) Check(_ context.Context, caps []policy.Capability, moduleID string, env policy.Environment) *result.Result {
	return g.table.Check(caps, moduleID, env)
}

// TableGate wraps a static policy table as a Gate.
func TableGate(t *policy.Table) Gate {
	return tableGate{table: t}
}

// ExecutionRecord is the durable summary of one dispatch.
type ExecutionRecord struct {
	ModuleID    string
	RequestID   string
	Status      string
	ErrorCode   string
	Attempts    int
	DurationMS  int64
	Environment string
	StartedAt   time.Time
}

// Recorder persists execution records. Recording failures are logged and
// never affect the execution outcome.
type Recorder interface {
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
}

// Options configures a Dispatcher.
type Options struct {
	// Environment is the environment resolved once at startup. Requests
	// may override it per execution. Empty falls back to production.
	Environment policy.Environment

	// Gate evaluates capability policy. Nil uses the default denial table.
	Gate Gate

	// DefaultTimeout bounds module bodies when requests do not set one.
	DefaultTimeout time.Duration

	// Telemetry supplies logging, metrics, and tracing. Nil uses a no-op
	// bundle.
	Telemetry *telemetry.Telemetry

	// Recorder optionally persists execution records.
	Recorder Recorder
}

// Dispatcher runs module functions under the execution contract.
type Dispatcher struct {
	env            policy.Environment
	gate           Gate
	defaultTimeout time.Duration
	tel            *telemetry.Telemetry
	logger         *telemetry.Logger
	recorder       Recorder
}

// NewDispatcher creates a dispatcher from the options.
func NewDispatcher(opts Options) *Dispatcher {
	env := policy.ParseEnvironment(string(opts.Environment))
	gate := opts.Gate
	if gate == nil {
		gate = TableGate(policy.DefaultTable())
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	return &Dispatcher{
		env:            env,
		gate:           gate,
		defaultTimeout: timeout,
		tel:            tel,
		logger:         tel.Logger.NewComponentLogger("dispatcher"),
		recorder:       opts.Recorder,
	}
}

// Environment returns the dispatcher's resolved default environment.
func (d *Dispatcher) Environment() policy.Environment {
	return d.env
}

// Execute runs fn under the execution contract and returns exactly one
// canonical result.
func (d *Dispatcher) Execute(ctx context.Context, fn Func, req Request) result.Result {
	requestID := uuid.NewString()
	env := d.resolveEnv(req.Env)
	started := time.Now()

	ctx, span := d.tel.Tracer.StartExecution(ctx, req.ModuleID, requestID)
	defer span.End()

	logger := d.logger.WithModuleID(req.ModuleID).WithRequestID(requestID).WithEnvironment(string(env))
	d.tel.Metrics.ExecutionStarted(req.ModuleID, string(env))

	res := d.execute(ctx, fn, req, requestID, env, logger)
	res = d.annotate(res, req.ModuleID, requestID, started)

	telemetry.RecordOutcome(span, res.OK, string(res.ErrorCode))
	d.observe(ctx, res, req.ModuleID, requestID, env, started, 1, logger)
	return res
}

// execute performs the gate check and runs the module body under its
// timeout. Meta annotation happens in the caller.
func (d *Dispatcher) execute(ctx context.Context, fn Func, req Request, requestID string, env policy.Environment, logger *telemetry.Logger) result.Result {
	if denial := d.gate.Check(ctx, req.Capabilities, req.ModuleID, env); denial != nil {
		d.tel.Metrics.CapabilityDenied(req.ModuleID, string(env))
		logger.Warnf("capability denied: %s", denial.Error)
		return *denial
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mc := &Context{
		Params:    req.Params,
		RequestID: requestID,
		Env:       env,
		Logger:    logger,
		Browser:   req.Browser,
	}

	type outcome struct {
		raw any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: result.NewExecutionError(
					fmt.Sprintf("module panicked: %v", r), nil)}
			}
		}()
		raw, err := fn(execCtx, mc)
		done <- outcome{raw: raw, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			// A module that notices the expired deadline and returns its
			// error is reported the same as one that overran it.
			if errors.Is(out.err, context.DeadlineExceeded) && execCtx.Err() != nil && ctx.Err() == nil {
				return result.NewTimeoutError(timeout).ToResult()
			}
			return failureFromError(out.err)
		}
		return result.Normalize(out.raw)
	case <-execCtx.Done():
		// A late result from the module goroutine is discarded; the
		// buffered channel lets the goroutine exit.
		if ctx.Err() != nil {
			return result.NewExecutionError("execution canceled", ctx.Err()).ToResult()
		}
		return result.NewTimeoutError(timeout).ToResult()
	}
}

// failureFromError maps a module error to a canonical failure.
func failureFromError(err error) result.Result {
	if typed, ok := result.AsTyped(err); ok {
		return typed.ToResult()
	}
	return result.NewExecutionError(err.Error(), err).ToResult()
}

// annotate stamps the standard execution metadata onto a result.
func (d *Dispatcher) annotate(res result.Result, moduleID, requestID string, started time.Time) result.Result {
	return res.
		WithMeta(result.MetaDurationMS, time.Since(started).Milliseconds()).
		WithMeta(result.MetaModuleID, moduleID).
		WithMeta(result.MetaRequestID, requestID)
}

// observe emits the completion log line, metrics, and history record.
func (d *Dispatcher) observe(ctx context.Context, res result.Result, moduleID, requestID string, env policy.Environment, started time.Time, attempts int, logger *telemetry.Logger) {
	status := "success"
	if !res.OK {
		status = "failure"
	}
	duration := time.Since(started)
	d.tel.Metrics.ExecutionCompleted(moduleID, status, string(res.ErrorCode), duration)

	if res.OK {
		logger.Infof("execution completed in %s", duration.Round(time.Millisecond))
	} else {
		logger.WithField("error_code", string(res.ErrorCode)).Warnf("execution failed: %s", res.Error)
	}

	if d.recorder == nil {
		return
	}
	rec := ExecutionRecord{
		ModuleID:    moduleID,
		RequestID:   requestID,
		Status:      status,
		ErrorCode:   string(res.ErrorCode),
		Attempts:    attempts,
		DurationMS:  duration.Milliseconds(),
		Environment: string(env),
		StartedAt:   started,
	}
	if err := d.recorder.RecordExecution(ctx, rec); err != nil {
		logger.WithError(err).Warn("failed to record execution")
	}
}

// resolveEnv picks the effective environment for one execution. Overrides
// are normalized so an unrecognized name is evaluated as production; gates
// never see a raw environment string.
func (d *Dispatcher) resolveEnv(override policy.Environment) policy.Environment {
	if override != "" {
		return policy.ParseEnvironment(string(override))
	}
	return d.env
}

// Package telemetry provides the observability layer for Conveyor:
// structured logging (zerolog), Prometheus metrics, and OpenTelemetry
// tracing, behind one Telemetry bundle that components share through
// context.
//
// Components never construct their own loggers or metric registries; they
// derive child loggers via NewComponentLogger and record through the shared
// Metrics instance so every execution surface is observable with the same
// labels (module_id, status, error_code, environment).
package telemetry

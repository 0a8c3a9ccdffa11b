// Package dispatch runs automation modules under a uniform contract:
// capability gating before invocation, a hard timeout around the module
// body, panic containment, raw-shape normalization of the return value,
// and transient-only retry with exponential backoff.
//
// Every execution produces exactly one observable result.Result carrying
// duration, module id, and request id metadata, no matter how the module
// body exits.
package dispatch

// Package policy implements capability-based admission control for module
// execution.
//
// Every module declares the capabilities it needs (network access, command
// execution, browser control). Before a module runs, the dispatcher checks
// the declared set against the active environment's policy. The check is
// strict-before-execution: a denied module is never invoked.
//
// Two gate implementations are provided:
//
//   - Table: an immutable capability/environment denial table. This is the
//     default gate and is fully deterministic.
//   - RegoGate: an OPA-backed gate that evaluates Rego policies, allowing
//     per-deployment override rules loaded from disk (with optional hot
//     reload via the Loader).
//
// Unrecognized environment names always evaluate under the production
// policy; the strictest policy is the fail-closed default.
package policy

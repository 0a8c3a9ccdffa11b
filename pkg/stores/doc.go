// Package stores persists execution history. The SQLite store records one
// row per dispatch (module, request, status, error code, attempts,
// duration, environment) and serves the history queries behind the CLI.
package stores

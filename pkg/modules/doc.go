// Package modules provides the built-in automation modules and the
// registry that maps module ids to their functions and required
// capabilities.
package modules

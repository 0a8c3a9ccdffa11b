// Package config loads the Conveyor YAML configuration and resolves the
// runtime environment. The environment is resolved exactly once at startup
// (explicit flag, then CONVEYOR_ENV, then the config file, then the
// production default) and passed down as a value; nothing else reads the
// process environment afterwards.
package config

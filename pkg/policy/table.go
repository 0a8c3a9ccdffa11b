package policy

import (
	"fmt"
	"sort"

	"github.com/openconveyor/conveyor/pkg/result"
)

// Capability is an opaque permission string declared by a module.
type Capability string

// Well-known capabilities. The set is open: integrations may declare their
// own strings, and capabilities absent from a table row are allowed.
const (
	CapabilityShellExec        Capability = "shell.exec"
	CapabilityNetworkLocalhost Capability = "network.localhost"
	CapabilityNetworkPublic    Capability = "network.public"
	CapabilityBrowserControl   Capability = "browser.control"
	CapabilityDesktopControl   Capability = "desktop.control"
)

// Environment names a deployment tier.
type Environment string

const (
	EnvLocal       Environment = "local"
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ParseEnvironment maps a raw environment name to a known Environment.
// Unrecognized names evaluate as production: the strictest policy is the
// fail-closed default.
func ParseEnvironment(name string) Environment {
	switch Environment(name) {
	case EnvLocal, EnvDevelopment, EnvStaging, EnvProduction:
		return Environment(name)
	default:
		return EnvProduction
	}
}

// Table is an immutable capability denial table keyed by environment. It is
// an explicit configuration value injected into the dispatcher, not a hidden
// process-wide constant, so deployments can override it without rebuilding.
type Table struct {
	denied map[Environment]map[Capability]bool
}

// NewTable builds an immutable Table from per-environment denial lists. The
// input is copied; later mutation of the argument does not affect the table.
func NewTable(denials map[Environment][]Capability) *Table {
	t := &Table{denied: make(map[Environment]map[Capability]bool, len(denials))}
	for env, caps := range denials {
		set := make(map[Capability]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		t.denied[env] = set
	}
	return t
}

// DefaultTable returns the built-in policy:
//
//	local, development: everything allowed
//	staging:            shell.exec denied
//	production:         shell.exec, network.localhost, desktop.control denied
//
// Production keeps outbound public network access and interactive browser
// automation available while blocking command execution and request forgery
// against loopback or internal targets.
func DefaultTable() *Table {
	return NewTable(map[Environment][]Capability{
		EnvLocal:       nil,
		EnvDevelopment: nil,
		EnvStaging:     {CapabilityShellExec},
		EnvProduction:  {CapabilityShellExec, CapabilityNetworkLocalhost, CapabilityDesktopControl},
	})
}

// Denied reports whether cap is denied for env.
func (t *Table) Denied(cap Capability, env Environment) bool {
	set, ok := t.denied[env]
	if !ok {
		// Unknown environments evaluate under the production row.
		set = t.denied[EnvProduction]
	}
	return set[cap]
}

// Check evaluates the declared capability set for moduleID under env. It
// returns nil when every capability is allowed. On denial it returns a
// FORBIDDEN failure naming one offending capability and the active
// environment, with a details payload enumerating every denied capability
// so one round trip surfaces the complete remediation picture.
func (t *Table) Check(caps []Capability, moduleID string, env Environment) *result.Result {
	var denied []string
	for _, c := range caps {
		if t.Denied(c, env) {
			denied = append(denied, string(c))
		}
	}
	if len(denied) == 0 {
		return nil
	}
	sort.Strings(denied)

	r := result.Failure(
		fmt.Sprintf("module %q requires capability %q which is not allowed in the %s environment",
			moduleID, denied[0], env),
		result.CodeForbidden,
		map[string]any{
			"denied_capabilities": denied,
			"environment":         string(env),
			"module_id":           moduleID,
		},
		nil,
	)
	return &r
}

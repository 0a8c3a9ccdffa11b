package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openconveyor/conveyor/pkg/result"
)

// RegoPolicy is a named Rego policy evaluated by the RegoGate.
type RegoPolicy struct {
	// Name uniquely identifies the policy.
	Name string

	// Source identifies where the policy was loaded from (builtin or a path).
	Source string

	// Rego is the policy source code. It must define a deny set under its
	// package; each deny entry is either a message string or an object with
	// message and capability keys.
	Rego string

	// Enabled indicates whether the policy participates in evaluation.
	Enabled bool
}

// capabilityInput is the document passed to Rego evaluation.
type capabilityInput struct {
	ModuleID     string   `json:"module_id"`
	Environment  string   `json:"environment"`
	Capabilities []string `json:"capabilities"`
}

// RegoGate evaluates capability requests against Rego policies. It ships
// with a builtin policy equivalent to DefaultTable and accepts per-deployment
// override policies loaded from disk.
type RegoGate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared query.
type compiledPolicy struct {
	policy   *RegoPolicy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewRegoGate creates a gate with the builtin capability policy compiled and
// ready for evaluation.
func NewRegoGate(logger zerolog.Logger) (*RegoGate, error) {
	g := &RegoGate{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}
	builtin := builtinCapabilityPolicy()
	if err := g.AddPolicy(context.Background(), &builtin); err != nil {
		return nil, fmt.Errorf("failed to compile builtin capability policy: %w", err)
	}
	return g, nil
}

// AddPolicy compiles and registers a policy, replacing any policy with the
// same name.
func (g *RegoGate) AddPolicy(ctx context.Context, p *RegoPolicy) error {
	pkg := extractPackageName(p.Rego)
	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	g.mu.Lock()
	g.policies[p.Name] = &compiledPolicy{policy: p, query: query, compiled: time.Now()}
	g.mu.Unlock()

	g.logger.Debug().Str("policy", p.Name).Str("source", p.Source).Msg("Policy compiled")
	return nil
}

// LoadPolicies compiles and registers a batch of policies.
func (g *RegoGate) LoadPolicies(ctx context.Context, policies []RegoPolicy) error {
	for i := range policies {
		if err := g.AddPolicy(ctx, &policies[i]); err != nil {
			return err
		}
	}
	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// ReplaceOverrides drops every non-builtin policy and registers the given
// set in its place. Used by the loader's hot-reload path.
func (g *RegoGate) ReplaceOverrides(ctx context.Context, policies []RegoPolicy) error {
	g.mu.Lock()
	for name, cp := range g.policies {
		if cp.policy.Source != builtinSource {
			delete(g.policies, name)
		}
	}
	g.mu.Unlock()
	return g.LoadPolicies(ctx, policies)
}

// ListPolicies returns the registered policies.
func (g *RegoGate) ListPolicies() []RegoPolicy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]RegoPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check evaluates the declared capability set for moduleID under env against
// every enabled policy. Evaluation is deterministic for a given policy set:
// denials are collected from all policies, deduplicated, and sorted. It
// returns nil when no policy denies the request.
func (g *RegoGate) Check(ctx context.Context, caps []Capability, moduleID string, env Environment) *result.Result {
	// Unrecognized environment names evaluate under the production policy,
	// matching Table. Policies only ever see known environment strings.
	env = ParseEnvironment(string(env))

	input := capabilityInput{
		ModuleID:    moduleID,
		Environment: string(env),
	}
	for _, c := range caps {
		input.Capabilities = append(input.Capabilities, string(c))
	}

	g.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	g.mu.RUnlock()

	deniedSet := make(map[string]bool)
	var firstMessage string

	for _, cp := range compiled {
		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			// A broken policy fails closed for safety: the request is
			// rejected rather than silently waved through.
			g.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("Policy evaluation failed")
			r := result.Failure(
				fmt.Sprintf("policy %s could not be evaluated", cp.policy.Name),
				result.CodeForbidden,
				map[string]any{"environment": string(env), "module_id": moduleID},
				nil,
			)
			return &r
		}
		for _, res := range rs {
			for _, expr := range res.Expressions {
				set, ok := expr.Value.([]any)
				if !ok {
					continue
				}
				for _, entry := range set {
					msg, capName := decodeDenyEntry(entry)
					if capName != "" {
						deniedSet[capName] = true
					}
					if firstMessage == "" {
						firstMessage = msg
					}
				}
			}
		}
	}

	if len(deniedSet) == 0 && firstMessage == "" {
		return nil
	}

	denied := make([]string, 0, len(deniedSet))
	for c := range deniedSet {
		denied = append(denied, c)
	}
	sort.Strings(denied)

	if firstMessage == "" {
		firstMessage = fmt.Sprintf("module %q is not allowed in the %s environment", moduleID, env)
	}
	r := result.Failure(firstMessage, result.CodeForbidden, map[string]any{
		"denied_capabilities": denied,
		"environment":         string(env),
		"module_id":           moduleID,
	}, nil)
	return &r
}

// decodeDenyEntry extracts the message and capability from a deny set entry.
func decodeDenyEntry(entry any) (message, capability string) {
	switch v := entry.(type) {
	case string:
		return v, ""
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			message = m
		}
		if c, ok := v["capability"].(string); ok {
			capability = c
		}
		return message, capability
	default:
		return fmt.Sprintf("%v", entry), ""
	}
}

// extractPackageName pulls the package path out of Rego source.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "conveyor.policies"
}

const builtinSource = "builtin"

// builtinCapabilityPolicy mirrors DefaultTable as a Rego policy so table and
// gate deployments enforce identical baselines.
func builtinCapabilityPolicy() RegoPolicy {
	return RegoPolicy{
		Name:    "capability-baseline",
		Source:  builtinSource,
		Enabled: true,
		Rego: `package conveyor.policies.capabilities

import rego.v1

# Command execution is denied outside local and development.
deny contains violation if {
	input.environment in {"staging", "production"}
	some cap in input.capabilities
	cap == "shell.exec"
	violation := {
		"message": sprintf("module %q requires capability \"shell.exec\" which is not allowed in the %s environment", [input.module_id, input.environment]),
		"capability": cap,
	}
}

# Loopback network access and desktop control are denied in production to
# block request forgery against internal targets.
deny contains violation if {
	input.environment == "production"
	some cap in input.capabilities
	cap in {"network.localhost", "desktop.control"}
	violation := {
		"message": sprintf("module %q requires capability %q which is not allowed in the production environment", [input.module_id, cap]),
		"capability": cap,
	}
}
`,
	}
}

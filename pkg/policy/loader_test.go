package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const validOverride = `package conveyor.policies.testing

import rego.v1

deny contains violation if {
	input.environment == "development"
	some cap in input.capabilities
	cap == "desktop.control"
	violation := {
		"message": "desktop control is disabled on shared dev hosts",
		"capability": cap,
	}
}
`

func TestLoaderLoadsRegoFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dev-desktop.rego"), []byte(validOverride), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("loaded %d policies, want 1", len(policies))
	}
	if policies[0].Name != "dev-desktop" {
		t.Errorf("Name = %q", policies[0].Name)
	}
	if !policies[0].Enabled {
		t.Error("loaded policy not enabled")
	}
}

func TestLoaderSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.rego")
	if err := os.WriteFile(path, []byte(validOverride), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths([]string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 || policies[0].Source != path {
		t.Errorf("policies = %v", policies)
	}
}

func TestLoaderMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	if _, err := loader.LoadFromPaths([]string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoadedOverrideEnforced(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dev-desktop.rego"), []byte(validOverride), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	gate, err := NewRegoGate(logger)
	if err != nil {
		t.Fatal(err)
	}
	loader := NewLoader(logger)
	policies, err := loader.LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := gate.LoadPolicies(ctx, policies); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	r := gate.Check(ctx, []Capability{CapabilityDesktopControl}, "desktop.click", EnvDevelopment)
	if r == nil {
		t.Fatal("loaded override not enforced")
	}
	denied, _ := r.Details()["denied_capabilities"].([]string)
	if len(denied) != 1 || denied[0] != "desktop.control" {
		t.Errorf("denied_capabilities = %v", denied)
	}
}

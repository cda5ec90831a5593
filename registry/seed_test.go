package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hearthai/hearth/core"
)

const testSeed = `
services:
  - name: phi4
    endpoint: http://127.0.0.1:8001
    trust_level: trusted
    actions:
      - name: intent.parse
        idempotent: true
      - name: text.generate
  - name: coreference
    endpoint: http://127.0.0.1:8003
    trust_level: trusted
  - name: memory
    endpoint: http://127.0.0.1:8002
    trust_level: trusted
  - name: conversation
    endpoint: http://127.0.0.1:8004
    trust_level: trusted
  - name: websearch
    endpoint: http://127.0.0.1:8005
    trust_level: trusted
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing seed: %v", err)
	}
	return path
}

func TestSeedFromFile(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeed)

	if err := reg.SeedFromFile(ctx, path); err != nil {
		t.Fatalf("SeedFromFile: %v", err)
	}
	if err := reg.VerifyCoreServices(); err != nil {
		t.Fatalf("VerifyCoreServices: %v", err)
	}

	svc, err := reg.Get("phi4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !svc.Core || !svc.Trusted {
		t.Errorf("phi4 core=%t trusted=%t", svc.Core, svc.Trusted)
	}
	if !svc.ActionIdempotent("intent.parse") {
		t.Error("intent.parse not idempotent")
	}
	if svc.ActionIdempotent("text.generate") {
		t.Error("text.generate should not be idempotent")
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()
	path := writeSeedFile(t, testSeed)

	if err := reg.SeedFromFile(ctx, path); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	// local edits survive a reseed
	if _, err := reg.Update(ctx, "phi4", map[string]interface{}{"endpoint": "http://127.0.0.1:8011"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := reg.SeedFromFile(ctx, path); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	svc, _ := reg.Get("phi4")
	if svc.Endpoint != "http://127.0.0.1:8011" {
		t.Errorf("reseed overwrote endpoint: %q", svc.Endpoint)
	}
}

func TestSeedRejectsIncompleteEntries(t *testing.T) {
	if _, err := ParseCatalogSeed([]byte("services:\n  - name: nameless\n")); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Errorf("entry without endpoint accepted, err = %v", err)
	}
}

func TestVerifyCoreServicesMissing(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.VerifyCoreServices(); !errors.Is(err, core.ErrMissingConfiguration) {
		t.Errorf("empty catalog passed verification, err = %v", err)
	}
}

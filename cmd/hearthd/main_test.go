package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const partialCatalog = `
services:
  - name: phi4
    endpoint: http://127.0.0.1:8001
    trust_level: trusted
`

func TestRunFailsOnIncompleteConfiguredCatalog(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(seed, []byte(partialCatalog), 0o600); err != nil {
		t.Fatalf("writing seed: %v", err)
	}

	t.Setenv("HEARTH_DATA_DIR", dir)
	t.Setenv("HEARTH_CATALOG_FILE", seed)

	err := run()
	if err == nil {
		t.Fatal("run accepted a catalog missing core services")
	}
	if !strings.Contains(err.Error(), "verifying core services") {
		t.Errorf("err = %v, want core service verification failure", err)
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hearthai/hearth/core"
)

// CatalogSeed is the YAML shape of a catalog seed file:
//
//	services:
//	  - name: phi4
//	    endpoint: http://127.0.0.1:8001
//	    trust_level: trusted
//	    actions:
//	      - name: intent.parse
//	        idempotent: true
type CatalogSeed struct {
	Services []ServiceConfig `yaml:"services"`
}

// ParseCatalogSeed parses a YAML catalog seed
func ParseCatalogSeed(data []byte) (*CatalogSeed, error) {
	var seed CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing catalog seed: %w", err)
	}
	for _, svc := range seed.Services {
		if svc.Name == "" || svc.Endpoint == "" {
			return nil, fmt.Errorf("catalog seed entries need name and endpoint: %w", core.ErrInvalidConfiguration)
		}
	}
	return &seed, nil
}

// SeedFromFile registers every service from a YAML seed file. Already
// registered services are left untouched, so seeding is idempotent across
// restarts.
func (r *Registry) SeedFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog seed %s: %w", path, err)
	}
	seed, err := ParseCatalogSeed(data)
	if err != nil {
		return err
	}

	for _, cfg := range seed.Services {
		if _, err := r.Register(ctx, cfg); err != nil {
			if errors.Is(err, core.ErrServiceExists) {
				continue
			}
			return fmt.Errorf("seeding service %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// VerifyCoreServices checks that every core service is present in the
// catalog. Called at startup; a missing core service is a configuration
// error.
func (r *Registry) VerifyCoreServices() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range CoreServices {
		if _, ok := r.services[name]; !ok {
			return fmt.Errorf("core service %s missing from catalog: %w", name, core.ErrMissingConfiguration)
		}
	}
	return nil
}

package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthai/hearth/core"
)

// Registry mediates all access to the service catalog. The catalog lives in
// memory and every mutation writes through to the Store. Reads are served
// from memory under a registry-wide RWMutex.
type Registry struct {
	store  Store
	cipher *core.CredentialCipher
	logger core.Logger

	mu       sync.RWMutex
	services map[string]*Service
}

// New creates a Registry over the given store and credential cipher
func New(store Store, cipher *core.CredentialCipher, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		store:    store,
		cipher:   cipher,
		logger:   logger,
		services: make(map[string]*Service),
	}
}

// Load rebuilds the in-memory catalog from the store. Called once at startup;
// a credential that cannot be decrypted later surfaces as ErrDecryptionFailed
// at call time, never as a silent empty key.
func (r *Registry) Load(ctx context.Context) error {
	services, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading service catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]*Service, len(services))
	for _, svc := range services {
		r.services[svc.Name] = svc
	}

	r.logger.Info("Service catalog loaded", map[string]interface{}{
		"service_count": len(services),
	})
	return nil
}

// Register adds a new service to the catalog.
// Fails with ErrServiceExists if the name is taken. Credentials are
// encrypted before the record is stored; health defaults to unknown.
func (r *Registry) Register(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("service name is required: %w", core.ErrInvalidConfiguration)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("service endpoint is required: %w", core.ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[cfg.Name]; exists {
		return nil, fmt.Errorf("service %s: %w", cfg.Name, core.ErrServiceExists)
	}

	trustLevel := cfg.TrustLevel
	if trustLevel == "" {
		trustLevel = core.TrustAskOnce
	}

	svc := &Service{
		ID:             uuid.New().String(),
		Name:           cfg.Name,
		DisplayName:    cfg.DisplayName,
		Endpoint:       cfg.Endpoint,
		Capability:     cfg.Capability,
		Actions:        append([]ActionSpec(nil), cfg.Actions...),
		Version:        cfg.Version,
		Trusted:        cfg.Trusted || trustLevel == core.TrustTrusted,
		TrustLevel:     trustLevel,
		AllowedActions: append([]string(nil), cfg.AllowedActions...),
		RateLimit:      cfg.RateLimit,
		Core:           CoreServices[cfg.Name],
		Enabled:        true,
		Health:         core.HealthUnknown,
		RegisteredAt:   time.Now(),
		UpdatedAt:      time.Now(),
	}

	if cfg.Credential != "" {
		encrypted, err := r.cipher.Encrypt(cfg.Credential)
		if err != nil {
			return nil, fmt.Errorf("encrypting credential for %s: %w", cfg.Name, err)
		}
		svc.EncryptedCredential = encrypted
	}

	if err := r.store.SaveService(ctx, svc); err != nil {
		return nil, err
	}
	r.services[svc.Name] = svc

	r.logger.Info("Service registered", map[string]interface{}{
		"service":     svc.Name,
		"endpoint":    svc.Endpoint,
		"trust_level": string(svc.TrustLevel),
		"core":        svc.Core,
	})
	return svc.clone(), nil
}

// Update applies a partial update to a service record. Unknown keys are
// ignored. Disabling a core service fails with ErrProtectedCore; credential
// updates re-encrypt.
func (r *Registry) Update(ctx context.Context, name string, partial map[string]interface{}) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}

	for key, value := range partial {
		switch key {
		case "display_name":
			if v, ok := value.(string); ok {
				svc.DisplayName = v
			}
		case "endpoint":
			if v, ok := value.(string); ok && v != "" {
				svc.Endpoint = v
			}
		case "credential":
			v, ok := value.(string)
			if !ok {
				continue
			}
			encrypted, err := r.cipher.Encrypt(v)
			if err != nil {
				return nil, fmt.Errorf("re-encrypting credential for %s: %w", name, err)
			}
			svc.EncryptedCredential = encrypted
		case "version":
			if v, ok := value.(string); ok {
				svc.Version = v
			}
		case "trust_level":
			if v, ok := value.(string); ok {
				svc.TrustLevel = core.TrustLevel(v)
				svc.Trusted = svc.TrustLevel == core.TrustTrusted
			}
		case "trusted":
			if v, ok := value.(bool); ok {
				svc.Trusted = v
			}
		case "allowed_actions":
			if v, ok := value.([]string); ok {
				svc.AllowedActions = append([]string(nil), v...)
			}
		case "rate_limit":
			switch v := value.(type) {
			case int:
				svc.RateLimit = v
			case float64:
				svc.RateLimit = int(v)
			}
		case "enabled":
			v, ok := value.(bool)
			if !ok {
				continue
			}
			if !v && svc.Core {
				return nil, fmt.Errorf("cannot disable %s: %w", name, core.ErrProtectedCore)
			}
			svc.Enabled = v
		}
		// Unknown keys ignored
	}
	svc.UpdatedAt = time.Now()

	if err := r.store.SaveService(ctx, svc); err != nil {
		return nil, err
	}
	return svc.clone(), nil
}

// Remove deletes a service from the catalog. Core services are protected.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, exists := r.services[name]
	if !exists {
		return fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}
	if svc.Core {
		return fmt.Errorf("cannot remove %s: %w", name, core.ErrProtectedCore)
	}

	if err := r.store.DeleteService(ctx, name); err != nil {
		return err
	}
	delete(r.services, name)

	r.logger.Info("Service removed", map[string]interface{}{
		"service": name,
	})
	return nil
}

// Get returns a copy of the named service record
func (r *Registry) Get(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}
	return svc.clone(), nil
}

// List returns all services sorted by name
func (r *Registry) List() []*Service {
	return r.listWhere(func(*Service) bool { return true })
}

// ListEnabled returns all enabled services
func (r *Registry) ListEnabled() []*Service {
	return r.listWhere(func(s *Service) bool { return s.Enabled })
}

// ListCore returns the core services
func (r *Registry) ListCore() []*Service {
	return r.listWhere(func(s *Service) bool { return s.Core })
}

// ListExternal returns the non-core services
func (r *Registry) ListExternal() []*Service {
	return r.listWhere(func(s *Service) bool { return !s.Core })
}

func (r *Registry) listWhere(keep func(*Service) bool) []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		if keep(svc) {
			out = append(out, svc.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Credential decrypts and returns the credential for a service. Decryption
// failures are surfaced, never silently replaced with an empty key.
func (r *Registry) Credential(name string) (string, error) {
	r.mu.RLock()
	svc, exists := r.services[name]
	var encrypted string
	if exists {
		encrypted = svc.EncryptedCredential
	}
	r.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}
	if encrypted == "" {
		return "", nil
	}
	plaintext, err := r.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("credential for %s: %w", name, err)
	}
	return plaintext, nil
}

// RecordHealth updates a service's health status and appends to its health
// history log. A healthy status resets the consecutive failure counter.
func (r *Registry) RecordHealth(ctx context.Context, name string, status core.HealthStatus, latencyMS float64, probeErr error) error {
	r.mu.Lock()
	svc, exists := r.services[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("service %s: %w", name, core.ErrServiceNotFound)
	}

	svc.Health = status
	if status == core.HealthHealthy {
		svc.ConsecutiveFailures = 0
	} else {
		svc.ConsecutiveFailures++
	}
	svc.UpdatedAt = time.Now()

	record := HealthRecord{
		Status:    status,
		LatencyMS: latencyMS,
		Timestamp: time.Now(),
	}
	if probeErr != nil {
		record.Error = probeErr.Error()
	}

	if err := r.store.SaveService(ctx, svc); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	return r.store.AppendHealth(ctx, name, record)
}

// RecordCall updates rolling stats after a service call.
// The running mean is weighted by prior request count:
// avg = (avg*n + latency) / (n+1)
func (r *Registry) RecordCall(ctx context.Context, name string, success bool, latencyMS float64) {
	r.mu.Lock()
	svc, exists := r.services[name]
	if !exists {
		r.mu.Unlock()
		return
	}

	n := float64(svc.Stats.TotalRequests)
	svc.Stats.AvgLatencyMS = (svc.Stats.AvgLatencyMS*n + latencyMS) / (n + 1)
	svc.Stats.TotalRequests++
	if !success {
		svc.Stats.TotalErrors++
	}
	svc.Stats.LastRequestAt = time.Now()
	snapshot := *svc
	r.mu.Unlock()

	// Stats are diagnostic; persistence failures are logged, not surfaced
	if err := r.store.SaveService(ctx, &snapshot); err != nil {
		r.logger.Warn("Failed to persist call stats", map[string]interface{}{
			"service": name,
			"error":   err.Error(),
		})
	}
}

// HealthHistory returns the recent health records for a service
func (r *Registry) HealthHistory(ctx context.Context, name string, limit int) ([]HealthRecord, error) {
	return r.store.HealthHistory(ctx, name, limit)
}

// IsSensitive reports whether an action belongs to the sensitive set
func (r *Registry) IsSensitive(action string) bool {
	return IsSensitive(action)
}

// Package registry maintains the persistent catalog of microservices the
// orchestrator can reach: endpoints, encrypted credentials, declared actions,
// trust levels, health and rolling call statistics.
package registry

import (
	"time"

	"github.com/hearthai/hearth/core"
)

// CoreServices is the fixed closed set of services the assistant cannot run
// without. Core services cannot be removed or disabled.
var CoreServices = map[string]bool{
	"phi4":         true,
	"coreference":  true,
	"memory":       true,
	"conversation": true,
	"websearch":    true,
}

// SensitiveActions is the fixed closed set of actions that require explicit
// caller opt-in when invoked against a non-trusted service.
var SensitiveActions = map[string]bool{
	"memory.store":   true,
	"memory.delete":  true,
	"file.write":     true,
	"system.execute": true,
}

// IsSensitive reports whether an action belongs to the sensitive set
func IsSensitive(action string) bool {
	return SensitiveActions[action]
}

// ActionSpec describes one action a service declares
type ActionSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Idempotent actions may be retried on transport failure
	Idempotent bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty"`
}

// ServiceStats holds rolling call statistics for a service.
// AvgLatencyMS is a running mean weighted by prior request count.
type ServiceStats struct {
	TotalRequests int64     `json:"total_requests"`
	TotalErrors   int64     `json:"total_errors"`
	AvgLatencyMS  float64   `json:"avg_latency_ms"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// HealthRecord is one entry in a service's health history log
type HealthRecord struct {
	Status    core.HealthStatus `json:"status"`
	LatencyMS float64           `json:"latency_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Service is a catalog record. Credential material is held encrypted and is
// never included in logs or traces.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Endpoint    string `json:"endpoint"`

	// EncryptedCredential is the AES-GCM sealed credential, base64-encoded
	EncryptedCredential string `json:"encrypted_credential,omitempty"`

	Capability string       `json:"capability,omitempty"`
	Actions    []ActionSpec `json:"actions"`
	Version    string       `json:"version,omitempty"`

	Trusted        bool            `json:"trusted"`
	TrustLevel     core.TrustLevel `json:"trust_level"`
	AllowedActions []string        `json:"allowed_actions,omitempty"`
	RateLimit      int             `json:"rate_limit,omitempty"`

	Core    bool `json:"core"`
	Enabled bool `json:"enabled"`

	Health              core.HealthStatus `json:"health"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Stats               ServiceStats      `json:"stats"`

	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ServiceConfig is the caller-supplied shape for Register. Credential is
// plaintext here; the registry encrypts it before the record is stored.
type ServiceConfig struct {
	Name           string          `json:"name" yaml:"name"`
	DisplayName    string          `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Endpoint       string          `json:"endpoint" yaml:"endpoint"`
	Credential     string          `json:"credential,omitempty" yaml:"credential,omitempty"`
	Capability     string          `json:"capability,omitempty" yaml:"capability,omitempty"`
	Actions        []ActionSpec    `json:"actions,omitempty" yaml:"actions,omitempty"`
	Version        string          `json:"version,omitempty" yaml:"version,omitempty"`
	Trusted        bool            `json:"trusted,omitempty" yaml:"trusted,omitempty"`
	TrustLevel     core.TrustLevel `json:"trust_level,omitempty" yaml:"trust_level,omitempty"`
	AllowedActions []string        `json:"allowed_actions,omitempty" yaml:"allowed_actions,omitempty"`
	RateLimit      int             `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// DeclaresAction reports whether the service declares the named action.
// A service with no declared actions accepts any action; the trust allow-list
// is checked separately.
func (s *Service) DeclaresAction(action string) bool {
	if len(s.Actions) == 0 {
		return true
	}
	for _, a := range s.Actions {
		if a.Name == action {
			return true
		}
	}
	return false
}

// ActionIdempotent reports whether the named action is declared idempotent
func (s *Service) ActionIdempotent(action string) bool {
	for _, a := range s.Actions {
		if a.Name == action {
			return a.Idempotent
		}
	}
	return false
}

// ActionPermitted checks the optional trust allow-list
func (s *Service) ActionPermitted(action string) bool {
	if len(s.AllowedActions) == 0 {
		return true
	}
	for _, a := range s.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// clone returns a deep-enough copy so callers cannot mutate registry state
func (s *Service) clone() *Service {
	c := *s
	c.Actions = append([]ActionSpec(nil), s.Actions...)
	c.AllowedActions = append([]string(nil), s.AllowedActions...)
	return &c
}

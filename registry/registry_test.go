package registry

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hearthai/hearth/core"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cipher, err := core.NewCredentialCipher(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewCredentialCipher: %v", err)
	}
	return New(NewMemoryStore(), cipher, &core.NoOpLogger{})
}

func TestRegisterAndGet(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	svc, err := reg.Register(ctx, ServiceConfig{
		Name:       "weather",
		Endpoint:   "http://127.0.0.1:9001",
		Credential: "api-key-123",
		Actions:    []ActionSpec{{Name: "forecast.get", Idempotent: true}},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if svc.ID == "" {
		t.Error("no ID assigned")
	}
	if svc.Health != core.HealthUnknown {
		t.Errorf("initial health = %q, want unknown", svc.Health)
	}
	if !svc.Enabled {
		t.Error("new service not enabled")
	}
	if svc.Core {
		t.Error("external service flagged core")
	}
	if svc.TrustLevel != core.TrustAskOnce {
		t.Errorf("default trust = %q, want ask_once", svc.TrustLevel)
	}
	if svc.EncryptedCredential == "api-key-123" {
		t.Error("credential stored in plaintext")
	}

	got, err := reg.Get("weather")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Endpoint != "http://127.0.0.1:9001" {
		t.Errorf("endpoint = %q", got.Endpoint)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	cfg := ServiceConfig{Name: "weather", Endpoint: "http://127.0.0.1:9001"}
	if _, err := reg.Register(ctx, cfg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register(ctx, cfg); !errors.Is(err, core.ErrServiceExists) {
		t.Errorf("duplicate register err = %v, want ErrServiceExists", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Endpoint: "http://x"}); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Errorf("missing name err = %v", err)
	}
	if _, err := reg.Register(ctx, ServiceConfig{Name: "x"}); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Errorf("missing endpoint err = %v", err)
	}
}

func TestCoreServiceProtection(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	svc, err := reg.Register(ctx, ServiceConfig{Name: "memory", Endpoint: "http://127.0.0.1:8002"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !svc.Core {
		t.Fatal("memory not flagged core")
	}

	if err := reg.Remove(ctx, "memory"); !errors.Is(err, core.ErrProtectedCore) {
		t.Errorf("Remove core err = %v, want ErrProtectedCore", err)
	}
	if _, err := reg.Update(ctx, "memory", map[string]interface{}{"enabled": false}); !errors.Is(err, core.ErrProtectedCore) {
		t.Errorf("disable core err = %v, want ErrProtectedCore", err)
	}

	// endpoint updates on core services are fine
	updated, err := reg.Update(ctx, "memory", map[string]interface{}{"endpoint": "http://127.0.0.1:8012"})
	if err != nil {
		t.Fatalf("Update endpoint: %v", err)
	}
	if updated.Endpoint != "http://127.0.0.1:8012" {
		t.Errorf("endpoint = %q", updated.Endpoint)
	}
}

func TestRemove(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Remove(ctx, "weather"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove(ctx, "weather"); !errors.Is(err, core.ErrServiceNotFound) {
		t.Errorf("second Remove err = %v, want ErrServiceNotFound", err)
	}
	if _, err := reg.Get("weather"); !errors.Is(err, core.ErrServiceNotFound) {
		t.Errorf("Get after Remove err = %v", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x", Credential: "old"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	svc, err := reg.Update(ctx, "weather", map[string]interface{}{
		"credential":  "new-key",
		"trust_level": "trusted",
		"rate_limit":  float64(10), // JSON numbers decode as float64
		"unknown_key": "ignored",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if svc.TrustLevel != core.TrustTrusted || !svc.Trusted {
		t.Errorf("trust not applied: level=%q trusted=%t", svc.TrustLevel, svc.Trusted)
	}
	if svc.RateLimit != 10 {
		t.Errorf("rate limit = %d", svc.RateLimit)
	}

	cred, err := reg.Credential("weather")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if cred != "new-key" {
		t.Errorf("credential = %q, want re-encrypted value", cred)
	}

	if _, err := reg.Update(ctx, "ghost", nil); !errors.Is(err, core.ErrServiceNotFound) {
		t.Errorf("Update missing err = %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x", Credential: "sk-123"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cred, err := reg.Credential("weather")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if cred != "sk-123" {
		t.Errorf("credential = %q", cred)
	}

	// no credential configured is an empty string, not an error
	if _, err := reg.Register(ctx, ServiceConfig{Name: "open", Endpoint: "http://y"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cred, err = reg.Credential("open")
	if err != nil || cred != "" {
		t.Errorf("Credential(open) = %q, %v", cred, err)
	}
}

func TestRecordHealth(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := reg.RecordHealth(ctx, "weather", core.HealthUnhealthy, 0, errors.New("connection refused")); err != nil {
			t.Fatalf("RecordHealth: %v", err)
		}
	}
	svc, _ := reg.Get("weather")
	if svc.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", svc.ConsecutiveFailures)
	}

	if err := reg.RecordHealth(ctx, "weather", core.HealthHealthy, 12.5, nil); err != nil {
		t.Fatalf("RecordHealth: %v", err)
	}
	svc, _ = reg.Get("weather")
	if svc.ConsecutiveFailures != 0 {
		t.Errorf("healthy probe did not reset failures: %d", svc.ConsecutiveFailures)
	}
	if svc.Health != core.HealthHealthy {
		t.Errorf("health = %q", svc.Health)
	}

	history, err := reg.HealthHistory(ctx, "weather", 10)
	if err != nil {
		t.Fatalf("HealthHistory: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("history length = %d, want 4", len(history))
	}
}

func TestRecordCallRunningMean(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reg.RecordCall(ctx, "weather", true, 100)
	reg.RecordCall(ctx, "weather", true, 200)
	reg.RecordCall(ctx, "weather", false, 300)

	svc, _ := reg.Get("weather")
	if svc.Stats.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d", svc.Stats.TotalRequests)
	}
	if svc.Stats.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d", svc.Stats.TotalErrors)
	}
	if math.Abs(svc.Stats.AvgLatencyMS-200) > 1e-9 {
		t.Errorf("AvgLatencyMS = %f, want 200", svc.Stats.AvgLatencyMS)
	}
	if svc.Stats.LastRequestAt.IsZero() {
		t.Error("LastRequestAt not set")
	}

	// recording against an unknown service is a no-op
	reg.RecordCall(ctx, "ghost", true, 1)
}

func TestListFilters(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	for _, cfg := range []ServiceConfig{
		{Name: "memory", Endpoint: "http://a"},
		{Name: "phi4", Endpoint: "http://b"},
		{Name: "weather", Endpoint: "http://c"},
	} {
		if _, err := reg.Register(ctx, cfg); err != nil {
			t.Fatalf("Register %s: %v", cfg.Name, err)
		}
	}
	if _, err := reg.Update(ctx, "weather", map[string]interface{}{"enabled": false}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := len(reg.List()); got != 3 {
		t.Errorf("List = %d", got)
	}
	if got := len(reg.ListEnabled()); got != 2 {
		t.Errorf("ListEnabled = %d", got)
	}
	if got := len(reg.ListCore()); got != 2 {
		t.Errorf("ListCore = %d", got)
	}
	if got := len(reg.ListExternal()); got != 1 {
		t.Errorf("ListExternal = %d", got)
	}

	// List is sorted by name
	names := []string{}
	for _, svc := range reg.List() {
		names = append(names, svc.Name)
	}
	if names[0] != "memory" || names[1] != "phi4" || names[2] != "weather" {
		t.Errorf("List order = %v", names)
	}
}

func TestLoadRebuildsCatalog(t *testing.T) {
	cipher, _ := core.NewCredentialCipher(make([]byte, 32))
	store := NewMemoryStore()
	ctx := context.Background()

	first := New(store, cipher, &core.NoOpLogger{})
	if _, err := first.Register(ctx, ServiceConfig{Name: "weather", Endpoint: "http://x", Credential: "sk-1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	second := New(store, cipher, &core.NoOpLogger{})
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cred, err := second.Credential("weather")
	if err != nil || cred != "sk-1" {
		t.Errorf("Credential after reload = %q, %v", cred, err)
	}
}

func TestIsSensitive(t *testing.T) {
	reg := testRegistry(t)
	for action, want := range map[string]bool{
		"memory.store":   true,
		"memory.delete":  true,
		"file.write":     true,
		"system.execute": true,
		"memory.search":  false,
		"forecast.get":   false,
	} {
		if got := reg.IsSensitive(action); got != want {
			t.Errorf("IsSensitive(%s) = %t, want %t", action, got, want)
		}
	}
}

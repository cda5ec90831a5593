package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/registry"
)

func TestHealthCheckAll(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer degraded.Close()

	reg, cli := testSetup(t)
	register(t, reg, registry.ServiceConfig{Name: "up", Endpoint: healthy.URL})
	register(t, reg, registry.ServiceConfig{Name: "down", Endpoint: degraded.URL})
	register(t, reg, registry.ServiceConfig{Name: "gone", Endpoint: "http://127.0.0.1:1"})

	statuses := cli.HealthCheckAll(context.Background(), 2*time.Second)
	if statuses["up"] != core.HealthHealthy {
		t.Errorf("up = %q", statuses["up"])
	}
	if statuses["down"] == core.HealthHealthy {
		t.Errorf("down = %q", statuses["down"])
	}
	if statuses["gone"] != core.HealthUnhealthy {
		t.Errorf("gone = %q", statuses["gone"])
	}

	// results land in the registry and its history
	svc, err := reg.Get("up")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if svc.Health != core.HealthHealthy {
		t.Errorf("registry health = %q", svc.Health)
	}
	history, err := reg.HealthHistory(context.Background(), "gone", 5)
	if err != nil {
		t.Fatalf("HealthHistory: %v", err)
	}
	if len(history) != 1 || history[0].Error == "" {
		t.Errorf("history = %+v, want one failed probe with error", history)
	}
}

func TestHealthCheckSkipsDisabled(t *testing.T) {
	reg, cli := testSetup(t)
	register(t, reg, registry.ServiceConfig{Name: "off", Endpoint: "http://127.0.0.1:1"})
	if _, err := reg.Update(context.Background(), "off", map[string]interface{}{"enabled": false}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	statuses := cli.HealthCheckAll(context.Background(), time.Second)
	if _, probed := statuses["off"]; probed {
		t.Error("disabled service was probed")
	}
}

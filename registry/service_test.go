package registry

import "testing"

func TestDeclaresAction(t *testing.T) {
	open := &Service{Name: "open"}
	if !open.DeclaresAction("anything.goes") {
		t.Error("service with no declared actions should accept any action")
	}

	strict := &Service{Name: "strict", Actions: []ActionSpec{{Name: "forecast.get"}}}
	if !strict.DeclaresAction("forecast.get") {
		t.Error("declared action rejected")
	}
	if strict.DeclaresAction("forecast.delete") {
		t.Error("undeclared action accepted")
	}
}

func TestActionPermitted(t *testing.T) {
	svc := &Service{Name: "s", AllowedActions: []string{"forecast.get"}}
	if !svc.ActionPermitted("forecast.get") {
		t.Error("allow-listed action rejected")
	}
	if svc.ActionPermitted("forecast.delete") {
		t.Error("action outside allow-list permitted")
	}

	svc.AllowedActions = nil
	if !svc.ActionPermitted("anything") {
		t.Error("empty allow-list should permit all")
	}
}

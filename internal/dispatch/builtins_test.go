package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestDispatcher() (*Registry, *Dispatcher) {
	reg := NewRegistry()
	return reg, NewDispatcher(reg, zerolog.Nop())
}

func TestListGroupsEntitiesByClass(t *testing.T) {
	reg, d := newTestDispatcher()
	lister := func() map[string][]string {
		return map[string][]string{
			"AppInstance": {"foo/1 [up]", "foo/0 [crashed]"},
			"Server":      {"peer-b:8080", "peer-a:8080"},
		}
	}
	RegisterBuiltins(reg, d, "test/1.0", nil, lister)

	a, err := reg.Lookup("list")
	if err != nil {
		t.Fatalf("lookup list: %v", err)
	}
	res := a.Run(context.Background(), "")
	if res.Error {
		t.Fatalf("list returned error: %s", res.Description)
	}

	lines := strings.Split(res.Description, "\n")
	want := []string{
		"AppInstance\tfoo/0 [crashed]",
		"AppInstance\tfoo/1 [up]",
		"Server\tpeer-a:8080",
		"Server\tpeer-b:8080",
	}
	if len(lines) != len(want) {
		t.Fatalf("list output = %q, want %d lines", res.Description, len(want))
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}

	extra, ok := res.Extra["entities"].(map[string][]string)
	if !ok {
		t.Fatalf("expected entities extra field, got %#v", res.Extra)
	}
	if len(extra["AppInstance"]) != 2 {
		t.Errorf("entities extra AppInstance count = %d, want 2", len(extra["AppInstance"]))
	}
}

func TestListWithNilListerReportsNothing(t *testing.T) {
	reg, d := newTestDispatcher()
	RegisterBuiltins(reg, d, "test/1.0", nil, nil)

	a, err := reg.Lookup("list")
	if err != nil {
		t.Fatalf("lookup list: %v", err)
	}
	res := a.Run(context.Background(), "")
	if res.Error {
		t.Fatalf("list returned error: %s", res.Description)
	}
	if res.Description != "" {
		t.Errorf("list output = %q, want empty", res.Description)
	}
}

func TestShellReturnsRealExitCode(t *testing.T) {
	reg, d := newTestDispatcher()
	RegisterBuiltins(reg, d, "test/1.0", nil, nil)

	a, err := reg.Lookup("shell")
	if err != nil {
		t.Fatalf("lookup shell: %v", err)
	}

	res := a.Run(context.Background(), "exit 7")
	if res.Code != 7 {
		t.Errorf("Code = %d, want 7", res.Code)
	}
	if !res.Error {
		t.Error("expected Error=true for nonzero exit")
	}
	if res.Extra["exit_code"] != 7 {
		t.Errorf("exit_code extra = %v, want 7", res.Extra["exit_code"])
	}
}

func TestShellSuccessReportsZeroExitCode(t *testing.T) {
	reg, d := newTestDispatcher()
	RegisterBuiltins(reg, d, "test/1.0", nil, nil)

	a, err := reg.Lookup("shell")
	if err != nil {
		t.Fatalf("lookup shell: %v", err)
	}

	res := a.Run(context.Background(), "echo hello")
	if res.Error {
		t.Fatalf("shell returned error: %s", res.Description)
	}
	if res.Code != 0 {
		t.Errorf("Code = %d, want 0", res.Code)
	}
	if res.Extra["exit_code"] != 0 {
		t.Errorf("exit_code extra = %v, want 0", res.Extra["exit_code"])
	}
	if strings.TrimSpace(res.Description) != "hello" {
		t.Errorf("Description = %q, want %q", res.Description, "hello")
	}
}

func TestShellRequiresCommand(t *testing.T) {
	reg, d := newTestDispatcher()
	RegisterBuiltins(reg, d, "test/1.0", nil, nil)

	a, err := reg.Lookup("shell")
	if err != nil {
		t.Fatalf("lookup shell: %v", err)
	}
	res := a.Run(context.Background(), "   ")
	if !res.Error || res.Code != 400 {
		t.Errorf("empty shell command = %+v, want Error=true Code=400", res)
	}
}

package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAppFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0644); err != nil {
		t.Fatalf("write app file: %v", err)
	}
}

func TestLoadAppsMissingDirReturnsEmpty(t *testing.T) {
	files, err := loadApps(AppsConfig{ConfigDir: filepath.Join(t.TempDir(), "does-not-exist")})
	if err != nil {
		t.Fatalf("loadApps: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no app files, got %d", len(files))
	}
}

func TestLoadAppsParsesDeclaredInstances(t *testing.T) {
	dir := t.TempDir()
	writeAppFile(t, dir, "foo-0.toml", `
label = "0"
app = "foo"
path = "/usr/bin/foo"
args = ["--serve"]
enabled = true
auto_recover = true
`)
	writeAppFile(t, dir, "bar-0.toml", `
label = "0"
path = "/usr/bin/bar"
`)

	files, err := loadApps(AppsConfig{ConfigDir: dir})
	if err != nil {
		t.Fatalf("loadApps: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("loadApps returned %d files, want 2", len(files))
	}

	foo := files[0]
	if foo.App != "foo" || foo.Label != "0" || foo.Path != "/usr/bin/foo" {
		t.Errorf("foo-0.toml parsed as %+v", foo)
	}
	if !foo.Enabled || !foo.AutoRecover {
		t.Errorf("expected foo-0.toml to parse enabled=true auto_recover=true, got %+v", foo)
	}

	bar := files[1]
	if bar.App != "bar" {
		t.Errorf("expected bar's missing app to default to its label, got App=%q", bar.App)
	}
}

func TestLoadAppsRejectsMissingLabel(t *testing.T) {
	dir := t.TempDir()
	writeAppFile(t, dir, "nolabel.toml", `path = "/usr/bin/foo"`)

	if _, err := loadApps(AppsConfig{ConfigDir: dir}); err == nil {
		t.Fatal("expected an error for an app file with no label")
	}
}

func TestSplitSubcommand(t *testing.T) {
	cases := []struct {
		in        string
		sub, label string
	}{
		{"start 0", "start", "0"},
		{"status  0 ", "status", "0"},
		{"start", "start", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		sub, label := splitSubcommand(c.in)
		if sub != c.sub || label != c.label {
			t.Errorf("splitSubcommand(%q) = (%q, %q), want (%q, %q)", c.in, sub, label, c.sub, c.label)
		}
	}
}

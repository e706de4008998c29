package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a prose.toml
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "shop"
version = "0.1.0"

[source]
dirs = ["src", "lib"]
entry = "src/app.prose"

[build]
output = "out"
format = "cbor"
debug = true
cache = "tmp/cache.db"

[run]
max-steps = 5000
max-call-depth = 64

[log]
verbosity = 2
file = "prose.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "shop" {
		t.Errorf("project name = %q, want shop", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "src/app.prose" {
		t.Errorf("source entry = %q, want src/app.prose", m.Source.Entry)
	}
	if m.Build.Output != "out" || m.Build.Format != "cbor" || !m.Build.Debug {
		t.Errorf("build = %+v", m.Build)
	}
	if m.Run.MaxSteps != 5000 || m.Run.MaxCallDepth != 64 {
		t.Errorf("run = %+v", m.Run)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}

	if got, want := m.CachePath(), filepath.Join(m.Dir, "tmp", "cache.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
	if p := m.LogPath(); p == nil || *p != filepath.Join(m.Dir, "prose.log") {
		t.Errorf("LogPath() = %v", p)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "." {
		t.Errorf("default source dirs = %v, want [.]", m.Source.Dirs)
	}
	if m.Source.Entry != "main.prose" {
		t.Errorf("default entry = %q, want main.prose", m.Source.Entry)
	}
	if m.Build.Output != "build" || m.Build.Format != "json" {
		t.Errorf("default build = %+v", m.Build)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".prose", "cache.db"); got != want {
		t.Errorf("default CachePath() = %q, want %q", got, want)
	}
	if m.LogPath() != nil {
		t.Errorf("default LogPath() = %v, want nil", *m.LogPath())
	}
}

func TestEmptyCacheDisablesCaching(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[build]
cache = ""
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.CachePath() != "" {
		t.Errorf("CachePath() = %q, want empty", m.CachePath())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[project\nname = 1", "parse error"},
		{"format", "[build]\nformat = \"xml\"", "format must be json or cbor"},
		{"steps", "[run]\nmax-steps = -1", "max-steps"},
		{"depth", "[run]\nmax-call-depth = -5", "max-call-depth"},
		{"unknown key", "[build]\noptimize = true", "unknown keys"},
		{"wrong type", "[build]\ndebug = \"yes\"", "parse error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load should fail without prose.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no prose.toml exists")
	}
}

func TestPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs:  []string{"src", "/shared/lib"},
			Entry: "src/main.prose",
		},
		Build: Build{Output: "build"},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/shared/lib" {
		t.Errorf("paths[1] = %q, want /shared/lib", paths[1])
	}
	if got := m.EntryPath(); got != "/app/src/main.prose" {
		t.Errorf("EntryPath() = %q, want /app/src/main.prose", got)
	}
	if got := m.OutputPath("src/main.prose", ".pbcb"); got != "/app/build/main.pbcb" {
		t.Errorf("OutputPath() = %q, want /app/build/main.pbcb", got)
	}
	if m.CachePath() != "" {
		t.Errorf("CachePath() with no cache = %q", m.CachePath())
	}
}

func TestDefault(t *testing.T) {
	m := Default("/work")
	if m.EntryPath() != "/work/main.prose" {
		t.Errorf("EntryPath() = %q", m.EntryPath())
	}
	if m.CachePath() != "/work/.prose/cache.db" {
		t.Errorf("CachePath() = %q", m.CachePath())
	}
}

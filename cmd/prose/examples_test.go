package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestExamples runs every testdata/*.prose program and compares its output
// with the matching .out file.
func TestExamples(t *testing.T) {
	sources, err := filepath.Glob(filepath.Join("testdata", "*.prose"))
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) == 0 {
		t.Fatal("no example programs found")
	}

	for _, src := range sources {
		name := strings.TrimSuffix(filepath.Base(src), ".prose")
		t.Run(name, func(t *testing.T) {
			want, err := os.ReadFile(strings.TrimSuffix(src, ".prose") + ".out")
			if err != nil {
				t.Fatal(err)
			}
			got, err := runCLI(t, runCommand, "-no-cache", src)
			if err != nil {
				t.Fatalf("run %s: %v", src, err)
			}
			if got != string(want) {
				t.Errorf("output of %s:\n%s\nwant:\n%s", src, got, want)
			}
		})
	}
}

// TestExamplesCheckClean expects the example programs to produce no
// semantic warnings.
func TestExamplesCheckClean(t *testing.T) {
	sources, _ := filepath.Glob(filepath.Join("testdata", "*.prose"))
	for _, src := range sources {
		out, err := runCLI(t, checkCommand, src)
		if err != nil {
			t.Errorf("check %s: %v", src, err)
			continue
		}
		if !strings.HasSuffix(strings.TrimSpace(out), ": ok") {
			t.Errorf("check %s reported:\n%s", src, out)
		}
	}
}

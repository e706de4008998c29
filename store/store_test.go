package store

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/prose/compiler"
	"github.com/chazu/prose/pkg/bytecode"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "prose.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func compile(t *testing.T, src string) *bytecode.File {
	t.Helper()
	prog, err := compiler.ParseSource(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := bytecode.Generate(prog, bytecode.Options{SourceFile: "main.prose", BuildID: "test-build"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return f
}

func TestKey(t *testing.T) {
	a := Key("display 1", "prose 0.1.0")
	if len(a) != 32 {
		t.Errorf("len(Key) = %d, want 32", len(a))
	}
	if a != Key("display 1", "prose 0.1.0") {
		t.Error("Key is not deterministic")
	}
	if a == Key("display 2", "prose 0.1.0") {
		t.Error("different sources share a key")
	}
	if a == Key("display 1", "prose 0.2.0") {
		t.Error("different compiler versions share a key")
	}
	// The separator keeps the two inputs apart.
	if Key("ab", "c") == Key("b", "ca") {
		t.Error("keys collide across the version/source boundary")
	}
}

func TestPutGet(t *testing.T) {
	s := openTemp(t)
	f := compile(t, "set x to 3\ndisplay x plus 1")
	key := Key("set x to 3\ndisplay x plus 1", bytecode.CompilerVersion)

	if _, ok, err := s.Get(key); err != nil || ok {
		t.Fatalf("Get on empty store = ok %v, err %v", ok, err)
	}

	if err := s.Put(key, f); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get after Put = ok %v, err %v", ok, err)
	}

	want, _ := bytecode.MarshalFile(f)
	have, _ := bytecode.MarshalFile(got)
	if !bytes.Equal(want, have) {
		t.Error("cached file differs from the stored one")
	}
	if got.Metadata.BuildID != "test-build" {
		t.Errorf("BuildID = %q, want test-build", got.Metadata.BuildID)
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTemp(t)
	if err := s.Put("k", compile(t, "display 1")); err != nil {
		t.Fatal(err)
	}
	second := compile(t, "display 1\ndisplay 2")
	if err := s.Put("k", second); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if len(got.Instructions) != len(second.Instructions) {
		t.Errorf("instructions = %d, want %d", len(got.Instructions), len(second.Instructions))
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].SourceFile != "main.prose" || entries[0].CompilerVersion != bytecode.CompilerVersion {
		t.Errorf("entry = %+v", entries[0])
	}
	if entries[0].Size == 0 {
		t.Error("entry size should be non-zero")
	}
}

func TestPrune(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := compile(t, "display 1")

	s.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := s.Put("old", f); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(-time.Hour) }
	if err := s.Put("recent", f); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base }
	n, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if _, ok, _ := s.Get("old"); ok {
		t.Error("old entry survived Prune")
	}
	if _, ok, _ := s.Get("recent"); !ok {
		t.Error("recent entry was pruned")
	}

	n, err = s.Prune(0)
	if err != nil || n != 1 {
		t.Errorf("Prune(0) = %d, %v; want 1, nil", n, err)
	}
}

func TestGetCorruptPayload(t *testing.T) {
	s := openTemp(t)
	if _, err := s.db.Exec(
		"INSERT INTO artifacts (key, created_at, payload) VALUES (?, ?, ?)",
		"bad", 0, []byte{0xff, 0x00}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get("bad"); err == nil {
		t.Error("Get should fail on an undecodable payload")
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prose.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", compile(t, "display 1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if _, ok, err := s.Get("k"); err != nil || !ok {
		t.Errorf("Get after reopen = ok %v, err %v", ok, err)
	}
}

func TestBusyTimeoutOnEveryConnection(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	// Hold two connections at once so the pool has to open a second one.
	var conns []*sql.Conn
	for i := 0; i < 2; i++ {
		c, err := s.db.Conn(ctx)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		conns = append(conns, c)
	}
	for i, c := range conns {
		var timeout int
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatal(err)
		}
		if timeout != 5000 {
			t.Errorf("connection %d busy_timeout = %d, want 5000", i, timeout)
		}
	}
}

package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations_ArePaired(t *testing.T) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		t.Fatalf("ReadDir() unexpected error: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %q", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("migration %s has no down file", name)
		}
	}
}

func TestEmbeddedMigrations_CreateShortlinksTable(t *testing.T) {
	b, err := fs.ReadFile(sqlFS, "sql/000001_create_shortlinks.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() unexpected error: %v", err)
	}
	sql := string(b)
	for _, want := range []string{"shortlinks", "hash", "encoded_params", "expires_at", "shortlinks_expires_at_idx"} {
		if !strings.Contains(sql, want) {
			t.Errorf("up migration missing %q", want)
		}
	}
}

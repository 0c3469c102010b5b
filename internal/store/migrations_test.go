package store

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no embedded migrations found")
	}

	seen := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			t.Errorf("unexpected migration file name %q", name)
		}
		version := strings.SplitN(name, "_", 2)[0]
		if seen[version] {
			t.Errorf("duplicate migration version prefix %q", version)
		}
		seen[version] = true

		contents, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(strings.TrimSpace(string(contents))) == 0 {
			t.Errorf("migration %s is empty", name)
		}
	}
}

func TestInitMigrationCoversCoreTables(t *testing.T) {
	contents, err := migrationFS.ReadFile("migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(contents)
	for _, table := range []string{"users", "documents", "signin_links", "refresh_sessions"} {
		if !strings.Contains(sql, table) {
			t.Errorf("init migration missing table %q", table)
		}
	}
}

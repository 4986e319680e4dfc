package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Ordered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_second.sql": {Data: []byte("ALTER TABLE x ADD COLUMN y INT;")},
		"migrations/0001_init.sql":   {Data: []byte("CREATE TABLE x (id INT);")},
		"migrations/README.md":       {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2", len(got))
	}
	if got[0].Version != "0001_init" || got[1].Version != "0002_second" {
		t.Errorf("versions = %q, %q", got[0].Version, got[1].Version)
	}
	if got[0].SQL != "CREATE TABLE x (id INT);" {
		t.Errorf("SQL = %q", got[0].SQL)
	}
}

func TestMigrations_EmbeddedSchemaCoversRepositories(t *testing.T) {
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}

	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.SQL)
	}
	schema := all.String()

	for _, table := range []string{
		"users", "items", "accounts", "link_tokens", "link_events",
		"transfers", "app_funds", "device_tokens", "notification_preferences", "notifications",
		"identity_checks",
	} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema does not create table %s", table)
		}
	}
	if !strings.Contains(schema, "verify_identity BOOLEAN") {
		t.Error("schema does not add users.verify_identity")
	}
}

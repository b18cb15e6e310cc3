package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/askeywa/Immigration-V2-sub004/internal/db"
)

func TestParseDirection(t *testing.T) {
	for _, ok := range []string{"up", "down"} {
		if _, err := ParseDirection(ok); err != nil {
			t.Errorf("ParseDirection(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "UP", "Up", "sideways"} {
		if _, err := ParseDirection(bad); err == nil {
			t.Errorf("ParseDirection(%q) should fail", bad)
		}
	}
}

func TestRun_Validation(t *testing.T) {
	if err := Run("", Up); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("empty DSN: err = %v", err)
	}
	if err := Run("postgres://localhost/test", Direction("left")); err == nil || !strings.Contains(err.Error(), "direction") {
		t.Errorf("bad direction: err = %v", err)
	}
	if _, _, err := Status("  "); err == nil {
		t.Error("Status with empty DSN should fail")
	}
}

// Every migration has a matching down file.
func TestMigrationFiles_Paired(t *testing.T) {
	ups, err := fs.Glob(db.MigrationFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(db.MigrationFS, down); err != nil {
			t.Errorf("%s has no down migration", up)
		}
	}
}

package migrator_test

import (
	"testing"
	"testing/fstest"

	"github.com/archon-research/stl/stl-balances/db/migrations"
	"github.com/archon-research/stl/stl-balances/db/migrator"
)

func TestPending_OrdersAndFilters(t *testing.T) {
	files := fstest.MapFS{
		"20250302_000001_b.sql": {Data: []byte("SELECT 2;")},
		"20250301_000001_a.sql": {Data: []byte("SELECT 1;")},
		"README.sql":            {Data: []byte("-- docs")},
		"notes.txt":             {Data: []byte("ignored")},
		"sub/20250101_x.sql":    {Data: []byte("SELECT 0;")},
	}

	got, err := migrator.Pending(files)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	want := []string{"20250301_000001_a.sql", "20250302_000001_b.sql"}
	if len(got) != len(want) {
		t.Fatalf("Pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Pending[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := migrator.Pending(migrations.FS)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("embedded migrations = %v, want the schema files", got)
	}
}

func TestChecksum_Stable(t *testing.T) {
	a := migrator.Checksum([]byte("CREATE TABLE x ();"))
	b := migrator.Checksum([]byte("CREATE TABLE x ();"))
	c := migrator.Checksum([]byte("CREATE TABLE y ();"))
	if a != b {
		t.Error("checksum should be deterministic")
	}
	if a == c {
		t.Error("different content should change the checksum")
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(a))
	}
}

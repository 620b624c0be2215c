package migrations

import "testing"

func TestMigrationsRegistered(t *testing.T) {
	sorted := Migrations.Sorted()
	if len(sorted) != 1 {
		t.Fatalf("expected one migration, got %d", len(sorted))
	}
	m := sorted[0]
	if m.Name != "2026101701" || m.Comment != "create_game_results" {
		t.Fatalf("unexpected migration %s", m.String())
	}
	if m.Up == nil || m.Down == nil {
		t.Fatalf("migration must register up and down")
	}
	if createGameResultsSQL == "" {
		t.Fatalf("embedded schema is empty")
	}
}

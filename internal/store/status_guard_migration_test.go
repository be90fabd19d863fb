package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStatusGuardMigrationBlocksReopenAndDelete(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0003_sos_status_guard.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"sos_requests_status_guard",
		"OLD.status <> 'open' AND NEW.status <> OLD.status",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_sos_requests_status_guard",
		"CREATE TRIGGER trg_sos_requests_block_delete",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestDonorEntriesMigrationHasUniquePair(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0002_sos_requests.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(sqlBytes), "CONSTRAINT sos_donor_entries_request_donor_key UNIQUE (request_id, donor_id)") {
		t.Fatal("expected unique (request_id, donor_id) constraint used by AppendDonor")
	}
}

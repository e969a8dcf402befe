package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDocumentsMigrationBumpsRevisionOnlyOnChange(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"CREATE TRIGGER trg_documents_bump_revision",
		"BEFORE UPDATE OF snapshot_json ON documents",
		"OLD.snapshot_json IS DISTINCT FROM NEW.snapshot_json",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestCommentsMigrationAllowsOrphanedReplies(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0002_comments.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if strings.Contains(string(sqlBytes), "REFERENCES comments") {
		t.Fatal("parent_id must not reference comments")
	}
}

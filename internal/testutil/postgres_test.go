//go:build integration

package testutil

import (
	"context"
	"testing"
)

// TestSetupTestDB verifies the container infrastructure itself: pgvector
// installed and every migrated table present.
//
// Run with: go test -tags=integration ./internal/testutil -v
func TestSetupTestDB(t *testing.T) {
	db, cleanup := SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := db.Pool.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var hasExtension bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&hasExtension)
	if err != nil {
		t.Fatalf("extension check: %v", err)
	}
	if !hasExtension {
		t.Error("pgvector extension not installed")
	}

	for _, table := range []string{"documents", "conversations", "conversation_messages"} {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		if err != nil {
			t.Fatalf("table check %q: %v", table, err)
		}
		if !exists {
			t.Errorf("table %q missing", table)
		}
	}
}

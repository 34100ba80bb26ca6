package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/proconnect/backend/internal/connections"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsDedupesConnectionPairs(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&connections.Connection{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	duplicates := []connections.Connection{
		{ID: "conn-1", RequesterID: "alice", ReceiverID: "bob", Status: connections.StatusAccepted},
		{ID: "conn-2", RequesterID: "bob", ReceiverID: "alice", Status: connections.StatusPending},
		{ID: "conn-3", RequesterID: "alice", ReceiverID: "carol", Status: connections.StatusPending},
	}
	for _, connection := range duplicates {
		if err := database.Create(&connection).Error; err != nil {
			testContext.Fatalf("failed to insert connection: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var remaining []connections.Connection
	if err := database.Order("id ASC").Find(&remaining).Error; err != nil {
		testContext.Fatalf("failed to reload connections: %v", err)
	}
	if len(remaining) != 2 {
		testContext.Fatalf("expected duplicate pair collapsed to 2 rows, got %d", len(remaining))
	}
	if remaining[0].ID != "conn-1" || remaining[1].ID != "conn-3" {
		testContext.Fatalf("expected oldest records to survive, got %+v", remaining)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDedupeConnectionPairs).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// a second run is a no-op
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
}

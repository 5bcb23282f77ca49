package database

import (
	"context"
	"embed"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMigrationsDir = "testdata"

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations swaps in the testdata migrations for one test.
func useTestMigrations(t *testing.T, fsys embed.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = fsys
	MigrationsDir = dir
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t, testMigrationsFS, testMigrationsDir)

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, db.Migrate(ctx))

	for _, table := range []string{"test_commands", "test_addresses"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s not created", table)
	}

	applied, pending, err := db.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Empty(t, pending)

	// Running again should be idempotent
	require.NoError(t, db.Migrate(ctx))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20260102_000000", version)
}

func TestMigrateNoMigrations(t *testing.T) {
	var emptyFS embed.FS
	useTestMigrations(t, emptyFS, ".")

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Empty(t, version)
}

func TestMigrationStatus_Pending(t *testing.T) {
	useTestMigrations(t, testMigrationsFS, testMigrationsDir)

	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	applied, pending, err := db.MigrationStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
	require.Len(t, pending, 2)
	assert.Equal(t, "test_commands", pending[0].Name)
	assert.Equal(t, "test_addresses", pending[1].Name)
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantOk      bool
	}{
		{"valid up migration", "20260118_120000_command_inventory.up.sql", "20260118_120000", true},
		{"down migration ignored", "20260118_120000_command_inventory.down.sql", "", false},
		{"not sql file", "readme.txt", "", false},
		{"missing direction", "20260118_120000_command_inventory.sql", "", false},
		{"invalid format", "invalid.up.sql", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, ok := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20260118_120000_command_inventory.up.sql", "command_inventory"},
		{"20260118_120000_add_invalid_count.up.sql", "add_invalid_count"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, extractMigrationName(tt.filename))
		})
	}
}

package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"deskline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, dialect, err := db.Open(context.Background(), db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, dialect))
	require.NoError(t, Migrate(conn, dialect))

	var version int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	require.Equal(t, 1, version)

	for _, table := range []string{"users", "teams", "tickets", "tags", "tag_types", "ticket_metadata_field_types",
		"ticket_metadata", "ticket_tags", "ticket_messages", "skills", "proficiencies", "agent_skills", "changes"} {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT count(*) FROM `+table).Scan(&n), table)
	}
}

func TestBothDialectsShipMigrations(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	require.NoError(t, err)
	pg, err := loadMigrations(db.Postgres)
	require.NoError(t, err)
	require.Equal(t, len(lite), len(pg))
}

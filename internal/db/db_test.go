package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	t.Parallel()
	require.Equal(t, "pgx5://u:p@localhost:5432/payflow?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/payflow?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/payflow", migrateURL("postgresql://localhost/payflow"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestMigrationsArePaired(t *testing.T) {
	t.Parallel()
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

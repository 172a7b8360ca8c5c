package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(body)} }

func TestLoadMigrationsFromFS_PairsAndSorts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_orders.up.sql":     sqlFile("CREATE TABLE orders (id TEXT);"),
		"sql/migrations/0002_orders.down.sql":   sqlFile("DROP TABLE orders;"),
		"sql/migrations/0001_products.up.sql":   sqlFile("CREATE TABLE products (id TEXT);"),
		"sql/migrations/0001_products.down.sql": sqlFile("  DROP TABLE products;\n"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001_products", migrations[0].String())
	assert.Equal(t, "DROP TABLE products;", migrations[0].DownSQL)
	assert.Equal(t, "0002_orders", migrations[1].String())
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "no files",
			fsys:    fstest.MapFS{},
			wantErr: "no migration files",
		},
		{
			name: "missing down",
			fsys: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql": sqlFile("CREATE TABLE carts (user_id TEXT);"),
			},
			wantErr: "both up and down",
		},
		{
			name: "bad file name",
			fsys: fstest.MapFS{
				"sql/migrations/carts.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "invalid migration file name",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql":   sqlFile(" \n"),
				"sql/migrations/0001_carts.down.sql": sqlFile("DROP TABLE carts;"),
			},
			wantErr: "empty",
		},
		{
			name: "name mismatch",
			fsys: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql":  sqlFile("CREATE TABLE carts (user_id TEXT);"),
				"sql/migrations/0001_cart.down.sql": sqlFile("DROP TABLE carts;"),
			},
			wantErr: "name mismatch",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(tc.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEmbeddedMigrations_CoverCheckoutSchema(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	var up strings.Builder
	for i, m := range migrations {
		assert.EqualValues(t, i+1, m.Version, "versions must be contiguous")
		up.WriteString(m.UpSQL)
	}
	for _, table := range []string{"products", "carts", "users", "orders", "order_items", "timeline_events", "outbox_messages", "idempotency_keys"} {
		assert.Contains(t, up.String(), table)
	}
}

func TestLoadMigrationsFromFS_ChecksumTracksUpScript(t *testing.T) {
	t.Parallel()

	load := func(up string) migration {
		migrations, err := loadMigrationsFromFS(fstest.MapFS{
			"sql/migrations/0001_carts.up.sql":   sqlFile(up),
			"sql/migrations/0001_carts.down.sql": sqlFile("DROP TABLE carts;"),
		})
		require.NoError(t, err)
		return migrations[0]
	}

	first := load("CREATE TABLE carts (user_id TEXT);")
	assert.Len(t, first.Checksum, 64)
	assert.Equal(t, first.Checksum, load("CREATE TABLE carts (user_id TEXT);\n\n").Checksum)
	assert.NotEqual(t, first.Checksum, load("CREATE TABLE carts (user_id TEXT, items JSONB);").Checksum)
}

func TestSchemaPlan_State(t *testing.T) {
	t.Parallel()

	migrations := []migration{
		{Version: 1, Name: "catalog", Checksum: "aaa"},
		{Version: 2, Name: "orders", Checksum: "bbb"},
		{Version: 3, Name: "outbox", Checksum: "ccc"},
	}

	tests := []struct {
		name        string
		applied     map[int64]string
		wantCurrent int64
		wantPending []string
		wantDrifted []string
		wantUnknown []int64
	}{
		{
			name:        "fresh database",
			applied:     map[int64]string{},
			wantPending: []string{"0001_catalog", "0002_orders", "0003_outbox"},
		},
		{
			name:        "partially applied",
			applied:     map[int64]string{1: "aaa"},
			wantCurrent: 1,
			wantPending: []string{"0002_orders", "0003_outbox"},
		},
		{
			name:        "legacy rows without checksum are trusted",
			applied:     map[int64]string{1: "", 2: "", 3: ""},
			wantCurrent: 3,
		},
		{
			name:        "modified migration",
			applied:     map[int64]string{1: "aaa", 2: "changed"},
			wantCurrent: 2,
			wantPending: []string{"0003_outbox"},
			wantDrifted: []string{"0002_orders"},
		},
		{
			name:        "database ahead of binary",
			applied:     map[int64]string{1: "aaa", 2: "bbb", 3: "ccc", 5: "eee", 4: "ddd"},
			wantCurrent: 3,
			wantUnknown: []int64{4, 5},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			plan := schemaPlan{migrations: migrations, applied: tc.applied}
			state := plan.state()
			assert.Equal(t, tc.wantCurrent, state.CurrentVersion)
			assert.Equal(t, len(tc.applied), state.Applied)
			assert.Equal(t, tc.wantPending, state.Pending)
			assert.Equal(t, tc.wantDrifted, state.Drifted)
			assert.Equal(t, tc.wantUnknown, state.Unknown)
			assert.Len(t, plan.pending(), len(tc.wantPending))
		})
	}
}

package postgres

import (
	"cmp"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrMigrationDrift означает, что текст уже применённой миграции изменился.
var ErrMigrationDrift = errors.New("applied migration was modified")

const (
	migrationsDir = "sql/migrations"
	// migrationLockKey ключ pg_advisory_lock, общий для всех инстансов сервиса.
	migrationLockKey = int64(0x636b6f7574)
)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

var migrationName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает положение схемы относительно встроенных миграций.
type MigrationState struct {
	CurrentVersion int64
	Applied        int
	Pending        []string
	// Drifted применённые миграции, чей up-скрипт отличается от записанного.
	Drifted []string
	// Unknown версии из schema_migrations, которых нет в бинаре.
	Unknown []int64
}

// schemaPlan сопоставление встроенных миграций с schema_migrations.
type schemaPlan struct {
	migrations []migration
	applied    map[int64]string
}

func (p schemaPlan) state() MigrationState {
	state := MigrationState{Applied: len(p.applied)}
	known := make(map[int64]bool, len(p.migrations))
	for _, m := range p.migrations {
		known[m.Version] = true
		checksum, ok := p.applied[m.Version]
		if !ok {
			state.Pending = append(state.Pending, m.String())
			continue
		}
		state.CurrentVersion = max(state.CurrentVersion, m.Version)
		if checksum != "" && checksum != m.Checksum {
			state.Drifted = append(state.Drifted, m.String())
		}
	}
	for version := range p.applied {
		if !known[version] {
			state.Unknown = append(state.Unknown, version)
		}
	}
	slices.Sort(state.Unknown)
	return state
}

func (p schemaPlan) pending() []migration {
	var result []migration
	for _, m := range p.migrations {
		if _, ok := p.applied[m.Version]; !ok {
			result = append(result, m)
		}
	}
	return result
}

// MigrateUp применяет up-миграции по возрастанию версии. steps<=0 применяет все.
// Если применённая миграция была изменена, ничего не выполняется.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		if drifted := plan.state().Drifted; len(drifted) > 0 {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, strings.Join(drifted, ", "))
		}

		todo := plan.pending()
		if steps > 0 && len(todo) > steps {
			todo = todo[:steps]
		}
		for _, m := range todo {
			if err := applyMigration(ctx, conn, m, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает последние применённые миграции. steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	steps = max(steps, 1)
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		byVersion := make(map[int64]migration, len(plan.migrations))
		for _, m := range plan.migrations {
			byVersion[m.Version] = m
		}

		versions := make([]int64, 0, len(plan.applied))
		for version := range plan.applied {
			versions = append(versions, version)
		}
		slices.SortFunc(versions, func(a, b int64) int { return cmp.Compare(b, a) })

		for _, version := range versions[:min(steps, len(versions))] {
			m, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := applyMigration(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сообщает текущую версию, неприменённые и изменённые миграции.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	var state MigrationState
	err := s.withSchemaLock(ctx, func(_ *sql.Conn, plan schemaPlan) error {
		state = plan.state()
		return nil
	})
	return state, err
}

// withSchemaLock держит advisory lock на выделенном соединении, чтобы
// параллельно стартующие инстансы не применяли миграции дважды.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn, plan schemaPlan) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, schemaPlan{migrations: migrations, applied: applied})
}

// applyMigration выполняет скрипт и запись в schema_migrations одной транзакцией.
func applyMigration(ctx context.Context, conn *sql.Conn, m migration, up bool) error {
	direction, script := "down", m.DownSQL
	record := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
		return err
	}
	if up {
		direction, script = "up", m.UpSQL
		record = func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				m.Version, m.Name, m.Checksum)
			return err
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, m, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("run %s %s: %w", direction, m, err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s %s: %w", direction, m, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, m, err)
	}
	return nil
}

func loadApplied(ctx context.Context, conn *sql.Conn) (map[int64]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version  int64
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return applied, nil
}

func checksumOf(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// loadMigrationsFromFS собирает пары up/down по версии и сортирует их по возрастанию.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", base, err)
		}
		name, kind := parts[2], parts[3]

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m := byVersion[version]
		switch {
		case m == nil:
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		slot := &m.UpSQL
		if kind == "down" {
			slot = &m.DownSQL
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", kind, version)
		}
		*slot = script
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		m.Checksum = checksumOf(m.UpSQL)
		result = append(result, *m)
	}
	slices.SortFunc(result, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return result, nil
}

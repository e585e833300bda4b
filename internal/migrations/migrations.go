package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed sql
var files embed.FS

// Migration is one versioned schema script.
type Migration struct {
	Version string
	SQL     string
}

// Load returns the migrations for a driver ("sqlite3" or "pgx") in version order.
func Load(driver string) ([]Migration, error) {
	dir := path.Join("sql", driver)
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(files, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(entry.Name(), ".sql"),
			SQL:     string(content),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	if len(out) == 0 {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	return out, nil
}

// Apply runs every migration not yet recorded in schema_migrations.
func Apply(ctx context.Context, db *sql.DB, driver string) error {
	migrations, err := Load(driver)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at BIGINT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	insert := `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
	if driver == "pgx" {
		insert = `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range statements(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %s failed: %w", m.Version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, insert, m.Version, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}
	}
	return nil
}

// Status is one known migration and whether schema_migrations records it.
type Status struct {
	Version string `json:"version"`
	Applied bool   `json:"applied"`
}

// StatusOf lists every migration for driver in version order.
func StatusOf(ctx context.Context, db *sql.DB, driver string) ([]Status, error) {
	migrations, err := Load(driver)
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, Status{Version: m.Version, Applied: applied[m.Version]})
	}
	return out, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// statements splits a script on semicolons. Scripts never embed semicolons in literals.
func statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

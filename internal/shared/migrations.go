package shared

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// migration pairs the up and down halves of one schema version, parsed from
// sql/NNNN_name_up.sql and sql/NNNN_name_down.sql.
type migration struct {
	version int
	name    string
	up      string
	down    string
}

// loadMigrations parses the embedded sql directory into migrations sorted by
// version. A version missing either half is a packaging error and is caught
// here rather than at rollback time.
func loadMigrations() ([]migration, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()

		stem, isDown := strings.CutSuffix(name, "_down.sql")
		if !isDown {
			var isUp bool
			if stem, isUp = strings.CutSuffix(name, "_up.sql"); !isUp {
				continue
			}
		}

		versionStr, label, ok := strings.Cut(stem, "_")
		if !ok {
			return nil, fmt.Errorf("unversioned schema file %s", name)
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return nil, fmt.Errorf("unversioned schema file %s", name)
		}

		content, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: label}
			byVersion[version] = m
		}
		if isDown {
			m.down = string(content)
		} else {
			m.up = string(content)
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("schema version %d is missing its up or down half", m.version)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// RunMigrations brings the database schema up to date, tracking applied
// versions in schema_migrations. Safe to call on every startup.
func RunMigrations(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("failed to apply schema version %d (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}

// RollbackMigration undoes the most recently applied schema version. A
// development tool; nothing in the application migrates down.
func RollbackMigration(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	var current sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read current version: %w", err)
	}
	if !current.Valid {
		return fmt.Errorf("no schema versions applied")
	}

	for _, m := range migrations {
		if m.version != int(current.Int64) {
			continue
		}
		err := inTx(db, func(tx *sql.Tx) error {
			if err := execScript(tx, m.down); err != nil {
				return err
			}
			_, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = ?`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to roll back schema version %d (%s): %w", m.version, m.name, err)
		}
		return nil
	}

	return fmt.Errorf("schema version %d has no migration files", current.Int64)
}

// appliedVersions reads the set of already-applied schema versions.
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs the up script and records the version, atomically.
func (m migration) apply(db *sql.DB) error {
	return inTx(db, func(tx *sql.Tx) error {
		if err := execScript(tx, m.up); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version)
		return err
	})
}

// inTx runs fn inside a transaction, rolling back on error.
func inTx(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execScript runs a multi-statement SQL script. database/sql prepares one
// statement at a time, so the script is split on semicolons; line comments
// are stripped first so a semicolon inside one cannot truncate a statement.
func execScript(tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stripLineComments(stmt))
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// stripLineComments drops `--` line comments and blank lines.
func stripLineComments(script string) string {
	lines := strings.Split(script, "\n")
	var kept []string
	for _, line := range lines {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

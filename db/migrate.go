package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded schema change named NNN_description.sql
type migration struct {
	version string
	file    string
}

// embeddedMigrations lists the migrations in version order. A file without
// a numeric version or a version used twice is an error.
func embeddedMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	seen := make(map[string]string)
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if _, err := strconv.Atoi(version); !ok || err != nil {
			return nil, errors.Newf("migration %s has no numeric version prefix", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %s", prev, name, version)
		}
		seen[version] = name
		out = append(out, migration{version: version, file: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedVersions reads schema_migrations. Before migration 000 has run the
// table does not exist and nothing counts as applied.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)
	var table string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&table)
	if err == sql.ErrNoRows {
		return applied, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "look up schema_migrations")
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Migrate applies pending migrations in version order, each in its own
// transaction together with its schema_migrations row, and returns the
// versions it applied.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	all, err := embeddedMigrations()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 || all[0].version != "000" {
		return nil, errors.New("migration 000 must create schema_migrations")
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range all {
		if applied[m.version] {
			logger.Debugw("Migration already applied", "migration", m.file)
			continue
		}
		if err := apply(db, m); err != nil {
			return ran, err
		}
		logger.Infow("Applied migration", "migration", m.file, "version", m.version)
		ran = append(ran, m.version)
	}

	logger.Infow("Schema up to date", "migrations", len(all), "applied", len(ran))
	return ran, nil
}

func apply(db *sql.DB, m migration) error {
	script, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.file)
	}
	if _, err := tx.Exec(string(script)); err != nil {
		return rollback(tx, errors.Wrapf(err, "execute %s", m.file))
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return rollback(tx, errors.Wrapf(err, "record %s", m.file))
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}

func rollback(tx *sql.Tx, cause error) error {
	if err := tx.Rollback(); err != nil {
		return errors.WithSecondaryError(cause, err)
	}
	return cause
}

package store

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_accounts.sql)
var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// Migration es una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationResult resultado de aplicar migraciones.
type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

// Executor abstrae pgx vs database/sql.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) error
	Versions(ctx context.Context, query string) ([]int, error)
}

// Migrator aplica las migraciones de dir dentro de fsys.
type Migrator struct {
	fsys fs.FS
	dir  string
	// placeholder devuelve el marcador del parámetro n (1-based).
	placeholder func(n int) string
}

// NewMigrator para postgres ($1) o sqlite (?).
func NewMigrator(fsys fs.FS, dir, dialect string) *Migrator {
	ph := func(int) string { return "?" }
	if dialect == "postgres" {
		ph = func(n int) string { return "$" + strconv.Itoa(n) }
	}
	return &Migrator{fsys: fsys, dir: dir, placeholder: ph}
}

// Parse lee las migraciones ordenadas por versión.
func (m *Migrator) Parse() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: read %s: %w", m.dir, err)
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		v, _ := strconv.Atoi(match[1])
		b, err := fs.ReadFile(m.fsys, path.Join(m.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrations: read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: v, Name: match[2], SQL: string(b)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Run aplica las migraciones pendientes en orden y corta en la primera que falla.
func (m *Migrator) Run(ctx context.Context, exec Executor) (*MigrationResult, error) {
	start := time.Now()
	res := &MigrationResult{}

	if err := exec.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`); err != nil {
		return res, fmt.Errorf("migrations: create table: %w", err)
	}
	versions, err := exec.Versions(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return res, fmt.Errorf("migrations: applied versions: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	migs, err := m.Parse()
	if err != nil {
		return res, err
	}
	for _, mig := range migs {
		if applied[mig.Version] {
			res.Skipped = append(res.Skipped, mig.Version)
			continue
		}
		if err := exec.Exec(ctx, mig.SQL); err != nil {
			return res, fmt.Errorf("migrations: apply %04d_%s: %w", mig.Version, mig.Name, err)
		}
		insert := fmt.Sprintf("INSERT INTO _migrations (version, name) VALUES (%s, %s)", m.placeholder(1), m.placeholder(2))
		if err := exec.Exec(ctx, insert, mig.Version, mig.Name); err != nil {
			return res, fmt.Errorf("migrations: record %04d: %w", mig.Version, err)
		}
		res.Applied = append(res.Applied, mig.Version)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// Package migrations exposes the commit hook schema per SQL dialect so hosts
// can hand it to their migration runner.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	commithooks "github.com/goliatone/go-commit-hooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultSourceLabel = "go-commit-hooks"

	rootPath = "data/sql/migrations"
)

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

// RegisterFunc matches the signature of persistence clients that accept a
// dialect-scoped migration filesystem.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// WithFilesystems replaces the embedded schema, typically with a host copy
// that adds its own migrations.
func WithFilesystems(filesystems ...FilesystemSpec) Option {
	return func(r *Registration) {
		copied := make([]FilesystemSpec, 0, len(filesystems))
		for _, spec := range filesystems {
			dialect := strings.TrimSpace(strings.ToLower(spec.Dialect))
			if dialect == "" || spec.FS == nil {
				continue
			}
			copied = append(copied, FilesystemSpec{Dialect: dialect, Path: spec.Path, FS: spec.FS})
		}
		if len(copied) > 0 {
			r.Filesystems = copied
		}
	}
}

// Filesystems resolves the postgres and sqlite migration trees. Every up
// migration must ship with its down migration.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := commithooks.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, basePath, err := migrationsRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: pathJoin(basePath, "sqlite"), FS: sqliteFS},
	}
	for _, spec := range filesystems {
		if err := checkPairs(spec); err != nil {
			return nil, err
		}
	}
	return filesystems, nil
}

// Versions lists the up migrations of a dialect in apply order.
func Versions(dialect string) ([]string, error) {
	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	for _, spec := range filesystems {
		if spec.Dialect != dialect {
			continue
		}
		ups, err := fs.Glob(spec.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", dialect, err)
		}
		slices.Sort(ups)
		return ups, nil
	}
	return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
}

func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       DefaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	targets := normalizeDialects(reg.ValidationTargets)
	if len(targets) == 0 {
		return reg, fmt.Errorf("migrations: validation targets are required")
	}
	if strings.TrimSpace(reg.SourceLabel) == "" {
		return reg, fmt.Errorf("migrations: source label is required")
	}

	registered := 0
	for _, spec := range reg.Filesystems {
		if !slices.Contains(targets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
		registered++
	}
	if registered == 0 {
		return reg, fmt.Errorf("migrations: no filesystem matches targets %v", targets)
	}
	return reg, nil
}

func checkPairs(spec FilesystemSpec) error {
	ups, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s %s: %w", spec.Dialect, spec.Path, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", spec.Dialect, spec.Path)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(spec.FS, down); err != nil {
			return fmt.Errorf("migrations: %s migration %s has no down file", spec.Dialect, up)
		}
	}
	return nil
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	sub, err := fs.Sub(root, rootPath)
	if err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, rootPath, nil
		}
	}

	entries, readErr := fs.ReadDir(root, ".")
	if readErr == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
				return root, ".", nil
			}
		}
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" || slices.Contains(out, trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func pathJoin(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}

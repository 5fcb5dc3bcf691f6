// Package backup manages the rollback-point lifecycle around
// compressed dumps under backup.path: creating a dated backup before
// a destructive run, listing and pruning old ones, and restoring from
// a chosen file or name. Creation and restore shell out through the
// adapter's own dump/restore tooling rather than reimplementing a
// Postgres-aware backup format; this package only owns the directory
// bookkeeping around those calls.
package backup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/models"
)

// Manager is the Backup Manager (C7).
type Manager struct {
	adapter adapter.Adapter
	logger  *zap.Logger
}

func NewManager(a adapter.Adapter, logger *zap.Logger) *Manager {
	return &Manager{adapter: a, logger: logger.Named("backup")}
}

// Create ensures dir exists and writes a new compressed dump,
// returning its path.
func (m *Manager) Create(ctx context.Context, cfg adapter.ConnParams, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir %s: %w", dir, err)
	}
	path, err := m.adapter.CreateBackup(ctx, cfg, dir)
	if err != nil {
		return "", err
	}
	m.logger.Info("backup created", zap.String("path", path))
	return path, nil
}

// List returns every *.sql.gz file in dir, newest-first by mtime.
func (m *Manager) List(dir string) ([]models.BackupRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: read dir %s: %w", dir, err)
	}

	var records []models.BackupRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql.gz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		records = append(records, models.BackupRecord{
			Path:      filepath.Join(dir, e.Name()),
			Filename:  e.Name(),
			Size:      info.Size(),
			Timestamp: info.ModTime(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	return records, nil
}

// Find resolves name to a backup record: exact filename, exact path,
// or the first substring-containing match.
func (m *Manager) Find(name, dir string) (*models.BackupRecord, error) {
	records, err := m.List(dir)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return &models.BackupRecord{
			Path:      name,
			Filename:  filepath.Base(name),
			Size:      info.Size(),
			Timestamp: info.ModTime(),
		}, nil
	}

	for i := range records {
		if records[i].Filename == name {
			return &records[i], nil
		}
	}
	for i := range records {
		if strings.Contains(records[i].Filename, name) {
			return &records[i], nil
		}
	}

	return nil, fmt.Errorf("backup: no match for %q in %s", name, dir)
}

// Cleanup deletes all but the most recent keepLast backups, returning
// the count removed.
func (m *Manager) Cleanup(dir string, keepLast int) (int, error) {
	records, err := m.List(dir)
	if err != nil {
		return 0, err
	}
	if len(records) <= keepLast {
		return 0, nil
	}

	removed := 0
	var agg error
	for _, r := range records[keepLast:] {
		if err := os.Remove(r.Path); err != nil {
			agg = multierr.Append(agg, err)
			continue
		}
		removed++
	}
	if agg != nil {
		m.logger.Warn("some backups failed to remove during cleanup", zap.Error(agg))
	}
	return removed, nil
}

// Restore pipes the backup at path back into the database. Output is
// scanned line-by-line by the adapter; lines containing "ERROR:"
// without "already exists" escalate to a fatal *adapter.RestoreError.
func (m *Manager) Restore(ctx context.Context, cfg adapter.ConnParams, path string) error {
	return m.adapter.RestoreBackup(ctx, cfg, path)
}

// ScanForErrors is kept as a standalone helper mirroring the
// line-scan rule so callers that already have raw restore output in
// hand (e.g. tests) can apply the same classification without shelling
// out.
func ScanForErrors(output string) error {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR:") && !strings.Contains(line, "already exists") {
			return &adapter.RestoreError{Err: fmt.Errorf("restore line failed"), Output: line}
		}
	}
	return nil
}

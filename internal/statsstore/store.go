// Package statsstore persists HealthRegistry snapshots to a versioned,
// atomically-written JSON file, and reloads them at startup.
package statsstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/models"
)

// schemaVersion is bumped whenever PersistedStats's shape changes in a
// way that would make an old file unreadable; a mismatch starts fresh
// rather than attempting a migration.
const schemaVersion = 1

// Document is the on-disk shape of the stats file.
type Document struct {
	Version int                                `json:"version"`
	Models  map[string]models.PersistedStats    `json:"models"`
}

// Store reads and writes model_stats.<version> under dir.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, fmt.Sprintf("model_stats.%d", schemaVersion))
}

// Load reads the stats file and returns an empty map if it cannot be
// used. An unreadable file, corrupt JSON or a version mismatch also logs
// a warning; a missing file (first start) returns empty without one.
func (s *Store) Load() map[string]models.PersistedStats {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if s.logger != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to read stats file, starting empty", zap.Error(err))
		}
		return map[string]models.PersistedStats{}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to parse stats file, starting empty", zap.Error(err))
		}
		return map[string]models.PersistedStats{}
	}
	if doc.Version != schemaVersion {
		if s.logger != nil {
			s.logger.Warn("stats file schema version mismatch, starting empty",
				zap.Int("found", doc.Version), zap.Int("want", schemaVersion))
		}
		return map[string]models.PersistedStats{}
	}
	if doc.Models == nil {
		return map[string]models.PersistedStats{}
	}
	return doc.Models
}

// Save atomically persists the given stats map via write-temp-then-rename.
func (s *Store) Save(stats map[string]models.PersistedStats) error {
	doc := Document{Version: schemaVersion, Models: stats}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	target := s.path()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp stats file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename stats file: %w", err)
	}
	return nil
}

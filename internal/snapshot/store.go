// Package snapshot persists crawl snapshots as write-once JSON files.
// Each file is named after the run's capture time, and an existing file
// is never overwritten, so a snapshot on disk is immutable once written.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/model"
)

// ErrSnapshotExists reports an attempt to persist a snapshot whose
// capture time already has a file on disk.
var ErrSnapshotExists = errors.New("snapshot already exists")

const nameFormat = "20060102_150405"

var namePattern = regexp.MustCompile(`^crawl_\d{8}_\d{6}\.json$`)

// Store reads and writes snapshots under a single directory.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// Filename is the on-disk name for a snapshot captured at the given
// time.
func Filename(capturedAt time.Time) string {
	return fmt.Sprintf("crawl_%s.json", capturedAt.UTC().Format(nameFormat))
}

// Persist writes the snapshot to a new file and returns its path. It
// fails with ErrSnapshotExists when the capture time was already
// persisted.
func (s *Store) Persist(snap *model.CrawlSnapshot) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(s.dir, Filename(snap.CapturedAt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s: %w", path, ErrSnapshotExists)
		}
		return "", fmt.Errorf("create snapshot: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}

	s.log.Info().
		Str("path", path).
		Int("products", len(snap.Products)).
		Msg("snapshot persisted")
	return path, nil
}

// List returns the paths of all snapshots in the store, oldest first.
// Ordering follows the capture time embedded in the filename.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !namePattern.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// Latest returns the path of the most recent snapshot, or an error when
// the store is empty.
func (s *Store) Latest() (string, error) {
	paths, err := s.List()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.New("no snapshots found")
	}
	return paths[len(paths)-1], nil
}

// Load reads one snapshot file.
func Load(path string) (*model.CrawlSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.CrawlSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

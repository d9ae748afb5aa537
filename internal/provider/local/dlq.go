package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

var _ provider.DeadLetterStore = (*DLQDir)(nil)

const entryExt = ".json"

// DLQDir stores each dead-letter entry as one JSON file named by its ID.
type DLQDir struct {
	dir string
}

// NewDLQDir creates a dead-letter store rooted at dir.
func NewDLQDir(dir string) (*DLQDir, error) {
	if dir == "" {
		return nil, fmt.Errorf("dlq directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dlq directory: %w", err)
	}
	return &DLQDir{dir: dir}, nil
}

func (d *DLQDir) path(id string) string {
	return filepath.Join(d.dir, filepath.Base(id)+entryExt)
}

// Put writes the entry. O_EXCL guarantees concurrent writers never clobber
// each other.
func (d *DLQDir) Put(_ context.Context, entry types.DLQEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dlq entry %q: %w", entry.ID, err)
	}

	f, err := os.OpenFile(d.path(entry.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating dlq entry %q: %w", entry.ID, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing dlq entry %q: %w", entry.ID, err)
	}
	return f.Close()
}

// List reads all entries ordered by ID. Unreadable files are reported as
// errors rather than skipped.
func (d *DLQDir) List(_ context.Context) ([]types.DLQEntry, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("reading dlq directory: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entryExt) {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	entries := make([]types.DLQEntry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(d.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue // deleted by a concurrent replay
		}
		if err != nil {
			return nil, fmt.Errorf("reading dlq entry %s: %w", name, err)
		}
		var e types.DLQEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding dlq entry %s: %w", name, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes the entry's file. A missing file is not an error.
func (d *DLQDir) Delete(_ context.Context, entry types.DLQEntry) error {
	if err := os.Remove(d.path(entry.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting dlq entry %q: %w", entry.ID, err)
	}
	return nil
}

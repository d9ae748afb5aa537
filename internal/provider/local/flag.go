// Package local implements file-backed gate flag and dead-letter stores for
// single-host deployments.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwsmith1983/muse/internal/provider"
)

var _ provider.FlagStore = (*FlagFile)(nil)

// FlagFile stores the gate flag as a file holding its RFC3339 written-at time.
type FlagFile struct {
	path string
}

// NewFlagFile creates a flag store at path. The parent directory is created
// if needed.
func NewFlagFile(path string) (*FlagFile, error) {
	if path == "" {
		return nil, fmt.Errorf("flag path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating flag directory: %w", err)
	}
	return &FlagFile{path: path}, nil
}

// Path returns the flag file location.
func (f *FlagFile) Path() string { return f.path }

// Write replaces the flag atomically via a temp file and rename, so readers
// never observe a partial timestamp.
func (f *FlagFile) Write(_ context.Context, writtenAt time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".flag-*")
	if err != nil {
		return fmt.Errorf("creating flag temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(writtenAt.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing flag temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing flag: %w", err)
	}
	return nil
}

// Read returns the flag's written-at time and whether it exists.
func (f *FlagFile) Read(_ context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading flag: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing flag %q: %w", raw, err)
	}
	return t, true, nil
}

// Clear removes the flag file. A missing file is not an error.
func (f *FlagFile) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing flag: %w", err)
	}
	return nil
}

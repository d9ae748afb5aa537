// Package git resolves feed identifiers from the HEAD commit of local git
// checkouts.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dwsmith1983/muse/internal/provider"
)

var _ provider.IdentifierSource = (*Source)(nil)

// Runner executes a command in dir and returns its stdout.
type Runner func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)

// Source maps feed names to repository directories.
type Source struct {
	repos map[string]string
	run   Runner
}

// New creates a Source. repos maps feed name to checkout directory.
func New(repos map[string]string) *Source {
	return NewWithRunner(repos, execRunner)
}

// NewWithRunner creates a Source with a custom command runner (useful for testing).
func NewWithRunner(repos map[string]string, run Runner) *Source {
	cp := make(map[string]string, len(repos))
	for k, v := range repos {
		cp[k] = v
	}
	return &Source{repos: cp, run: run}
}

// LatestIdentifier returns the full SHA of HEAD in the feed's repository.
func (s *Source) LatestIdentifier(ctx context.Context, feed string) (string, error) {
	dir, ok := s.repos[feed]
	if !ok || dir == "" {
		return "", fmt.Errorf("no repository configured for feed %q", feed)
	}

	out, err := s.run(ctx, dir, "git", "log", "-1", "--format=%H")
	if err != nil {
		return "", fmt.Errorf("git log in %s: %w", dir, err)
	}
	sha := strings.TrimSpace(string(out))
	if sha == "" {
		return "", fmt.Errorf("feed %q: %w", feed, provider.ErrNoIdentifier)
	}
	return sha, nil
}

func execRunner(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/dwsmith1983/muse/internal/provider"
)

// DefaultFlagTTL is how long a written flag keeps the gate open.
const DefaultFlagTTL = 30 * time.Minute

// FlagStatus describes the current gate flag.
type FlagStatus struct {
	Present   bool          `json:"present"`
	WrittenAt time.Time     `json:"writtenAt,omitempty"`
	Age       time.Duration `json:"ageNs,omitempty"`
	TTL       time.Duration `json:"ttlNs"`
	Open      bool          `json:"open"`
}

// Status reads the flag and reports whether it is still within ttl at now.
// A non-positive ttl selects DefaultFlagTTL.
func Status(ctx context.Context, store provider.FlagStore, ttl time.Duration, now time.Time) (FlagStatus, error) {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	st := FlagStatus{TTL: ttl}

	writtenAt, ok, err := store.Read(ctx)
	if err != nil {
		return st, fmt.Errorf("reading gate flag: %w", err)
	}
	if !ok {
		return st, nil
	}

	st.Present = true
	st.WrittenAt = writtenAt
	st.Age = now.Sub(writtenAt)
	st.Open = st.Age <= ttl
	return st, nil
}

// IsOpen reports whether the flag exists and is no older than ttl. It never
// looks at the verdict that wrote it. Read failures report closed.
func IsOpen(ctx context.Context, store provider.FlagStore, ttl time.Duration, now time.Time) (bool, error) {
	st, err := Status(ctx, store, ttl, now)
	if err != nil {
		return false, err
	}
	return st.Open, nil
}

// ParseFlagTTL parses a configured TTL, falling back to DefaultFlagTTL.
func ParseFlagTTL(s string) time.Duration {
	return parseDuration(s, DefaultFlagTTL)
}

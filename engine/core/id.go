package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is an opaque, globally-sortable identifier used for workflow, call, and
// cache-hit-copy instances. It is backed by a KSUID so IDs sort roughly by
// creation time without a round-trip to storage.
type ID string

// NewID generates a new unique ID.
func NewID() (ID, error) {
	k, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	return ID(k.String()), nil
}

// MustNewID generates a new ID and panics on failure. Use only at startup paths
// where a generation failure indicates a broken entropy source.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates that s is a well-formed ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty ID")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether id is the empty/zero ID.
func (id ID) IsZero() bool {
	return id == ""
}

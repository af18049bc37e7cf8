// Package uuid issues run identifiers. Version 7 IDs sort by creation time,
// so artifact prefixes and table rows for later runs sort after earlier ones.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator implements crawler.IDGenerator.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// CreatedAt recovers the creation time embedded in a v7 run ID.
func CreatedAt(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse run id: %w", err)
	}
	if parsed.Version() != 7 {
		return time.Time{}, fmt.Errorf("run id %s is version %d, not 7", id, parsed.Version())
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}

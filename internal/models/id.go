// Package models defines the transcoding domain types for vodarr.
package models

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new job identifier. Job IDs are ULIDs, so they sort by
// creation time.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ParseID validates a job identifier and returns its canonical (upper case)
// form. Input is accepted case-insensitively.
func ParseID(s string) (string, error) {
	id, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id.String(), nil
}

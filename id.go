package builddb

import (
	"github.com/google/uuid"
)

// NewID returns a time-ordered UUIDv7 string. It names temporary files
// during atomic writes and identifies Database instances in logs.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// IsValidID reports whether s parses as a UUID
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

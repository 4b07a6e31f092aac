package db

import "github.com/google/uuid"

// ValidID reports whether id can name a row in a uuid primary key column.
// Repositories treat anything else as not found instead of sending it to
// Postgres, where it fails with invalid_text_representation.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

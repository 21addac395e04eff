package store

import "github.com/nyashahama/email-sequence-backend/internal/db"

// Q lets the integration tests seed and inspect rows directly.
func (s *Store) Q() db.Querier {
	return s.q
}

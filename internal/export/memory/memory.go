package memory

import (
	"context"
	"fmt"
	"sync"

	"moneymind/internal/export"
)

var (
	_ export.SnapshotWriter = (*Store)(nil)
	_ export.SnapshotLister = (*Store)(nil)
)

type Store struct {
	mu   sync.Mutex
	rows []export.Row
}

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, r export.Row) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.NetTotal != nil {
		v := *r.NetTotal
		r.NetTotal = &v
	}
	s.rows = append(s.rows, r)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// ListRows returns the user's rows in append order.
func (s *Store) ListRows(_ context.Context, username string) ([]export.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []export.Row
	for _, r := range s.rows {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

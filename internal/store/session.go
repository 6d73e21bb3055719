package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/puzzlegate/internal/forum"
)

// SessionKey is the fixed key of the session record.
const SessionKey = "user"

// SaveUser writes the session record.
func (s *Store) SaveUser(ctx context.Context, u forum.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return s.Put(ctx, SessionKey, string(data))
}

// LoadUser reads the session record. It returns nil without error when no
// user is signed in.
func (s *Store) LoadUser(ctx context.Context) (*forum.User, error) {
	raw, ok, err := s.Get(ctx, SessionKey)
	if err != nil || !ok {
		return nil, err
	}
	var u forum.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("load user: corrupt session record: %w", err)
	}
	return &u, nil
}

// ClearUser removes the session record.
func (s *Store) ClearUser(ctx context.Context) error {
	return s.Delete(ctx, SessionKey)
}

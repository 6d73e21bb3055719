package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/puzzlegate/internal/forum"
)

// ActorVotes is the durable vote state of one actor. It satisfies
// vote.StateStore.
type ActorVotes struct {
	s     *Store
	actor string
}

// Votes returns the durable vote state of actor.
func (s *Store) Votes(actor string) *ActorVotes {
	return &ActorVotes{s: s, actor: actor}
}

// Get returns the actor's vote on key, VoteNone when none is recorded.
func (v *ActorVotes) Get(ctx context.Context, key forum.ItemKey) (forum.Vote, error) {
	var action string
	err := v.s.db.QueryRowContext(ctx, `
		SELECT vote FROM votes WHERE actor = ? AND item_type = ? AND item_id = ?
	`, v.actor, string(key.Type), key.ID).Scan(&action)
	if errors.Is(err, sql.ErrNoRows) {
		return forum.VoteNone, nil
	}
	if err != nil {
		return forum.VoteNone, fmt.Errorf("get vote %s: %w", key, err)
	}
	return forum.ParseVote(action)
}

// Put records the actor's vote on key. VoteNone deletes the record.
func (v *ActorVotes) Put(ctx context.Context, key forum.ItemKey, vote forum.Vote) error {
	if vote == forum.VoteNone {
		_, err := v.s.db.ExecContext(ctx, `
			DELETE FROM votes WHERE actor = ? AND item_type = ? AND item_id = ?
		`, v.actor, string(key.Type), key.ID)
		if err != nil {
			return fmt.Errorf("clear vote %s: %w", key, err)
		}
		return nil
	}

	_, err := v.s.db.ExecContext(ctx, `
		INSERT INTO votes (actor, item_type, item_id, vote, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(actor, item_type, item_id) DO UPDATE SET vote = excluded.vote, updated_at = excluded.updated_at
	`, v.actor, string(key.Type), key.ID, vote.Action(), v.s.now().Unix())
	if err != nil {
		return fmt.Errorf("put vote %s: %w", key, err)
	}
	return nil
}

// All returns every recorded vote of the actor in one collection.
func (v *ActorVotes) All(ctx context.Context, itemType forum.ItemType) (map[int64]forum.Vote, error) {
	rows, err := v.s.db.QueryContext(ctx, `
		SELECT item_id, vote FROM votes WHERE actor = ? AND item_type = ? ORDER BY item_id ASC
	`, v.actor, string(itemType))
	if err != nil {
		return nil, fmt.Errorf("query votes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]forum.Vote)
	for rows.Next() {
		var id int64
		var action string
		if err := rows.Scan(&id, &action); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		vote, err := forum.ParseVote(action)
		if err != nil {
			return nil, err
		}
		out[id] = vote
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return out, nil
}

// Clear removes every recorded vote of the actor.
func (v *ActorVotes) Clear(ctx context.Context) error {
	if _, err := v.s.db.ExecContext(ctx, `DELETE FROM votes WHERE actor = ?`, v.actor); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	return nil
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
	"github.com/roach88/puzzlegate/internal/remote"
)

// draftValidate checks drafts before any remote call.
var draftValidate = validator.New(validator.WithRequiredStructEnabled())

// ThreadDraft is a thread the actor wants to create.
type ThreadDraft struct {
	Name             string `validate:"required,max=100"`
	Description      string `validate:"max=2000"`
	RequiredPuzzleID *int64 `validate:"omitempty,gt=0"`
}

// PostDraft is a reply the actor wants to post.
type PostDraft struct {
	ThreadID int64  `validate:"gt=0"`
	Text     string `validate:"required,max=10000"`
}

// ThreadView is an opened thread with its posts.
type ThreadView struct {
	Thread forum.Thread `json:"thread"`
	Posts  []forum.Post `json:"posts"`
}

// CreateThread creates a thread. The thread is added to the store only
// after the service returns its id.
func (c *Client) CreateThread(ctx context.Context, d ThreadDraft) (forum.Thread, error) {
	const op = "create thread"

	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	if err := validateDraft(op, d); err != nil {
		return forum.Thread{}, err
	}
	u, err := c.session.Require(op)
	if err != nil {
		return forum.Thread{}, err
	}

	var puzzleName string
	if d.RequiredPuzzleID != nil {
		p, ok := c.entities.Puzzle(*d.RequiredPuzzleID)
		if !ok {
			return forum.Thread{}, forum.NewNotFoundError(op, "puzzle", *d.RequiredPuzzleID)
		}
		puzzleName = p.Name
	}

	created := c.now().UTC()
	id, err := c.remote.CreateThread(ctx, remote.NewThread{
		Name:             d.Name,
		Description:      d.Description,
		Author:           u.Username,
		Timestamp:        created,
		RequiredPuzzleID: d.RequiredPuzzleID,
	})
	if err != nil {
		return forum.Thread{}, err
	}

	t := forum.Thread{
		ID:               id,
		Name:             d.Name,
		Description:      d.Description,
		Author:           u.Username,
		Created:          created,
		RequiredPuzzleID: d.RequiredPuzzleID,
		PuzzleName:       puzzleName,
	}
	c.entities.AddThread(t)
	c.logger.Info("thread created", "thread_id", id, "name", t.Name)
	return t, nil
}

// DeleteThread deletes one of the actor's threads along with its posts and
// the actor's votes on them.
func (c *Client) DeleteThread(ctx context.Context, id int64) error {
	const op = "delete thread"

	u, err := c.session.Require(op)
	if err != nil {
		return err
	}
	t, ok := c.entities.Thread(id)
	if !ok {
		return forum.NewNotFoundError(op, "thread", id)
	}
	if t.Author != u.Username {
		return forum.NewUnauthorizedError(op, "only the author can delete a thread")
	}

	if err := c.remote.DeleteThread(ctx, id, u.Username); err != nil {
		return err
	}

	keys := []forum.ItemKey{{Type: forum.ItemThreads, ID: id}}
	for _, p := range c.entities.Posts(id) {
		keys = append(keys, forum.ItemKey{Type: forum.ItemPosts, ID: p.ID})
	}
	if _, err := c.entities.RemoveThread(id); err != nil && !forum.IsNotFound(err) {
		return err
	}
	c.forgetVotes(ctx, keys...)
	c.logger.Info("thread deleted", "thread_id", id)
	return nil
}

// OpenThread fetches the posts of an unlocked thread.
func (c *Client) OpenThread(ctx context.Context, id int64) (ThreadView, error) {
	const op = "open thread"

	puzzles, threads := c.entities.Snapshot()
	t, ok := findThread(threads, id)
	if !ok {
		return ThreadView{}, forum.NewNotFoundError(op, "thread", id)
	}
	if !gating.ThreadUnlocked(t, puzzles) {
		return ThreadView{}, forum.NewLockedError(op, gating.RequiredPuzzleName(t, puzzles))
	}

	posts, err := c.remote.Posts(ctx, id)
	if err != nil {
		return ThreadView{}, err
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Timestamp.Before(posts[j].Timestamp)
	})
	if err := c.entities.SetPosts(id, posts); err != nil {
		return ThreadView{}, err
	}

	t, _ = c.entities.Thread(id)
	return ThreadView{Thread: t, Posts: c.entities.Posts(id)}, nil
}

// CreatePost replies to an unlocked thread. The post is appended and the
// thread's PostCount incremented in one store update.
func (c *Client) CreatePost(ctx context.Context, d PostDraft) (forum.Post, error) {
	const op = "create post"

	d.Text = strings.TrimSpace(d.Text)
	if err := validateDraft(op, d); err != nil {
		return forum.Post{}, err
	}
	u, err := c.session.Require(op)
	if err != nil {
		return forum.Post{}, err
	}
	t, ok := c.entities.Thread(d.ThreadID)
	if !ok {
		return forum.Post{}, forum.NewNotFoundError(op, "thread", d.ThreadID)
	}
	if !c.entities.Unlocked(d.ThreadID) {
		return forum.Post{}, forum.NewLockedError(op, gating.RequiredPuzzleName(t, c.entities.Puzzles()))
	}

	p, err := c.remote.CreatePost(ctx, remote.NewPost{
		ThreadID: d.ThreadID,
		Author:   u.Username,
		Text:     d.Text,
	})
	if err != nil {
		return forum.Post{}, err
	}
	if p.Author == "" {
		p.Author = u.Username
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = c.now().UTC()
	}
	p.ThreadID = d.ThreadID

	if _, err := c.entities.AddPost(p); err != nil {
		return forum.Post{}, err
	}
	return p, nil
}

// DeletePost deletes one of the actor's posts. The post is removed and the
// thread's PostCount decremented, never below zero, in one store update.
func (c *Client) DeletePost(ctx context.Context, id int64) error {
	const op = "delete post"

	u, err := c.session.Require(op)
	if err != nil {
		return err
	}
	p, ok := c.entities.Post(id)
	if !ok {
		return forum.NewNotFoundError(op, "post", id)
	}
	if p.Author != u.Username {
		return forum.NewUnauthorizedError(op, "only the author can delete a post")
	}

	if err := c.remote.DeletePost(ctx, id, u.Username); err != nil {
		return err
	}
	if _, err := c.entities.RemovePost(id); err != nil && !forum.IsNotFound(err) {
		return err
	}
	c.forgetVotes(ctx, forum.ItemKey{Type: forum.ItemPosts, ID: id})
	return nil
}

func findThread(threads []forum.Thread, id int64) (forum.Thread, bool) {
	for _, t := range threads {
		if t.ID == id {
			return t, true
		}
	}
	return forum.Thread{}, false
}

// validateDraft maps validator failures to a ValidationFailure.
func validateDraft(op string, d any) error {
	err := draftValidate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return forum.NewValidationError(op, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return forum.NewValidationError(op, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if field == "name" {
		field = "title"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

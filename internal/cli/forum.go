package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/puzzlegate/internal/attempt"
	"github.com/roach88/puzzlegate/internal/client"
	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
)

// ThreadsOptions holds flags for the threads command.
type ThreadsOptions struct {
	*RootOptions
	Search  string
	Status  string
	Sort    string
	Page    int
	PerPage int
}

// NewThreadsCommand creates the threads command.
func NewThreadsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads with their lock state",
		Long: `List threads. A thread gated by a puzzle stays locked until you
solve that puzzle.

Examples:
  puzzlegate threads
  puzzlegate threads --status unlocked --sort upvotes
  puzzlegate threads --search cipher --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := gating.ParseStatus(opts.Status)
			if err != nil {
				return err
			}
			order, err := gating.ParseSort(opts.Sort)
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				page := a.client.List(gating.Query{
					Search:  opts.Search,
					Status:  status,
					Sort:    order,
					Page:    opts.Page,
					PerPage: opts.PerPage,
				})
				return a.out.Success(newThreadsResult(page))
			})
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "match title, description or first post")
	cmd.Flags().StringVar(&opts.Status, "status", "all", "all|unlocked|locked")
	cmd.Flags().StringVar(&opts.Sort, "sort", "recent", "recent|upvotes|comments")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PerPage, "per-page", 0, "threads per page (default from config)")

	return cmd
}

// NewThreadCommand creates the thread command group.
func NewThreadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Show, create and delete threads",
	}
	cmd.AddCommand(newThreadShowCommand(rootOpts))
	cmd.AddCommand(newThreadCreateCommand(rootOpts))
	cmd.AddCommand(newThreadDeleteCommand(rootOpts))
	return cmd
}

func newThreadShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show an unlocked thread and its posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("thread", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				view, err := a.client.OpenThread(ctx, id)
				if err != nil {
					return err
				}
				return a.out.Success(threadResult(ctx, a, view))
			})
		},
	}
}

func threadResult(ctx context.Context, a *app, view client.ThreadView) ThreadResult {
	puzzles := a.client.Puzzles()
	entry := gating.Entry{
		Thread:     view.Thread,
		Unlocked:   gating.ThreadUnlocked(view.Thread, puzzles),
		PuzzleName: gating.RequiredPuzzleName(view.Thread, puzzles),
	}
	res := ThreadResult{
		Thread: newThreadRow(entry),
		Body:   view.Thread.Description,
		Posts:  view.Posts,
		MyVote: forum.VoteNone.String(),
	}
	if res.Posts == nil {
		res.Posts = []forum.Post{}
	}

	// Vote markers are best effort; a signed-out reader has none.
	if mine, err := a.client.MyVotes(ctx, forum.ItemThreads); err == nil {
		res.MyVote = mine[view.Thread.ID].String()
	}
	if mine, err := a.client.MyVotes(ctx, forum.ItemPosts); err == nil {
		for _, p := range view.Posts {
			if v, ok := mine[p.ID]; ok && v != forum.VoteNone {
				if res.Votes == nil {
					res.Votes = make(map[int64]string)
				}
				res.Votes[p.ID] = v.String()
			}
		}
	}
	return res
}

func newThreadCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		title, description string
		puzzleID           int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a thread, optionally gated by a puzzle",
		Long: `Create a thread. With --puzzle, only users who solved that puzzle can
read and reply.

Examples:
  puzzlegate thread create --title "Cipher chat"
  puzzlegate thread create --title "Spoilers" --description "Answers inside" --puzzle 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				d := client.ThreadDraft{Name: title, Description: description}
				if puzzleID != 0 {
					d.RequiredPuzzleID = forum.PuzzleRef(puzzleID)
				}
				t, err := a.client.CreateThread(ctx, d)
				if err != nil {
					return err
				}
				return a.out.Success(created{Kind: "thread", ID: t.ID, Text: t.Name})
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "thread title (required)")
	cmd.Flags().StringVar(&description, "description", "", "thread description")
	cmd.Flags().Int64Var(&puzzleID, "puzzle", 0, "id of the puzzle that unlocks the thread")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func newThreadDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete one of your threads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("thread", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.client.DeleteThread(ctx, id); err != nil {
					return err
				}
				return a.out.Success(message(fmt.Sprintf("Thread %d deleted.", id)))
			})
		},
	}
}

// NewPostCommand creates the post command group.
func NewPostCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Reply to threads and delete your posts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <thread-id> <text...>",
		Short: "Reply to an unlocked thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, err := parseID("thread", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				p, err := a.client.CreatePost(ctx, client.PostDraft{
					ThreadID: threadID,
					Text:     strings.Join(args[1:], " "),
				})
				if err != nil {
					return err
				}
				return a.out.Success(created{Kind: "post", ID: p.ID, Text: p.Text})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete one of your posts",
		Long: `Delete one of your posts. The post must be in a thread you opened
with "thread show" in this session or an earlier one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("post", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if err := a.openOwner(ctx, id); err != nil {
					return err
				}
				if err := a.client.DeletePost(ctx, id); err != nil {
					return err
				}
				return a.out.Success(message(fmt.Sprintf("Post %d deleted.", id)))
			})
		},
	})

	return cmd
}

// openOwner fetches the posts of unlocked threads until the post is cached.
// Each CLI invocation starts with an empty post cache.
func (a *app) openOwner(ctx context.Context, postID int64) error {
	if _, ok := a.client.Entities().Post(postID); ok {
		return nil
	}
	for _, t := range a.client.Entities().Threads() {
		if t.PostCount == 0 || !a.client.Entities().Unlocked(t.ID) {
			continue
		}
		if _, err := a.client.OpenThread(ctx, t.ID); err != nil {
			return err
		}
		if _, ok := a.client.Entities().Post(postID); ok {
			return nil
		}
	}
	return forum.NewNotFoundError("delete post", "post", postID)
}

// created confirms a new thread or post.
type created struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// WriteText implements TextWriter.
func (c created) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Created %s %d: %s\n", c.Kind, c.ID, c.Text)
	return err
}

// VoteResult is the output of the vote command.
type VoteResult struct {
	Type      forum.ItemType `json:"type"`
	ID        int64          `json:"id"`
	Previous  string         `json:"previous"`
	Current   string         `json:"current"`
	Upvotes   int            `json:"upvotes"`
	Downvotes int            `json:"downvotes"`
	Net       string         `json:"net"`
}

// WriteText implements TextWriter.
func (r VoteResult) WriteText(w io.Writer) error {
	action := "Voted " + r.Current
	if r.Current == forum.VoteNone.String() {
		action = "Vote removed"
	}
	_, err := fmt.Fprintf(w, "%s on %s %d: %s (%d up, %d down)\n",
		action, strings.TrimSuffix(string(r.Type), "s"), r.ID, r.Net, r.Upvotes, r.Downvotes)
	return err
}

// NewVoteCommand creates the vote command.
func NewVoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <thread|post> <id> <up|down>",
		Short: "Toggle your vote on a thread or post",
		Long: `Vote on a thread or post. Voting the same direction again removes the
vote; voting the other direction switches it.

The change applies at once and is confirmed with the forum service before
the command exits. A rejected confirmation is undone unless
votes.rollback_on_failure is false.

Examples:
  puzzlegate vote thread 1 up
  puzzlegate vote post 12 down`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemType, err := forum.ParseItemType(args[0])
			if err != nil {
				return err
			}
			id, err := parseID(args[0], args[1])
			if err != nil {
				return err
			}
			dir, err := forum.ParseDirection(args[2])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				if itemType == forum.ItemPosts {
					if err := a.openOwner(ctx, id); err != nil {
						return err
					}
				}
				out, err := a.client.Vote(ctx, itemType, id, dir)
				if err != nil {
					return err
				}
				return a.out.Success(VoteResult{
					Type:      itemType,
					ID:        id,
					Previous:  out.Previous.String(),
					Current:   out.Current.String(),
					Upvotes:   out.Upvotes,
					Downvotes: out.Downvotes,
					Net:       forum.FormatNet(out.Net()),
				})
			})
		},
	}
}

// NewPuzzlesCommand creates the puzzles command.
func NewPuzzlesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "puzzles",
		Short: "List puzzles and which ones you solved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				puzzles := a.client.Puzzles()
				rows := make([]PuzzleRow, 0, len(puzzles))
				for _, p := range puzzles {
					rows = append(rows, PuzzleRow{
						ID:          p.ID,
						Name:        p.Name,
						Description: p.Description,
						Link:        p.Link,
						Completed:   p.Completed,
					})
				}
				return a.out.Success(PuzzlesResult{Puzzles: rows, Stats: a.client.Stats()})
			})
		},
	}
}

// SolveResult is the output of the solve command.
type SolveResult struct {
	PuzzleID      int64                `json:"puzzle_id"`
	Solved        bool                 `json:"solved"`
	AlreadySolved bool                 `json:"already_solved,omitempty"`
	Unlocked      []int64              `json:"unlocked"`
	Stats         forum.AggregateStats `json:"stats"`
}

// WriteText implements TextWriter.
func (r SolveResult) WriteText(w io.Writer) error {
	switch {
	case r.AlreadySolved:
		fmt.Fprintf(w, "Puzzle %d is already solved.\n", r.PuzzleID)
	case r.Solved:
		fmt.Fprintf(w, "Correct! Puzzle %d solved.", r.PuzzleID)
		if n := len(r.Unlocked); n > 0 {
			fmt.Fprintf(w, " Unlocked %d thread(s): %v", n, r.Unlocked)
		}
		fmt.Fprintln(w)
	default:
		fmt.Fprintln(w, "Incorrect answer. Try again.")
	}
	return writeStats(w, r.Stats)
}

// NewSolveCommand creates the solve command.
func NewSolveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "solve <puzzle-id> <answer...>",
		Short: "Submit an answer to a puzzle",
		Long: `Submit an answer. Case, surrounding whitespace and Unicode form do not
matter. A wrong answer changes nothing and can be retried.

Examples:
  puzzlegate solve 1 the eternal city`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("puzzle", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				res, err := a.client.Solve(ctx, id, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				unlocked := res.Unlocked
				if unlocked == nil {
					unlocked = []int64{}
				}
				return a.out.Success(SolveResult{
					PuzzleID:      id,
					Solved:        res.Outcome == attempt.Solved,
					AlreadySolved: res.AlreadySolved,
					Unlocked:      unlocked,
					Stats:         res.Stats,
				})
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show solved puzzles and unlocked threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				return a.out.Success(statsResult(a.client.Stats()))
			})
		},
	}
}

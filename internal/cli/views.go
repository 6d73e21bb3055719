package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/gating"
)

// message is a plain confirmation line.
type message string

// WriteText implements TextWriter.
func (m message) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, string(m))
	return err
}

// ThreadRow is one thread as the listing shows it.
type ThreadRow struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Unlocked   bool   `json:"unlocked"`
	Gate       string `json:"gate"`
	Net        string `json:"net"`
	Comments   string `json:"comments"`
	Snippet    string `json:"snippet,omitempty"`
	RequiredID *int64 `json:"required_puzzle_id,omitempty"`
}

// ThreadsResult is the output of the threads command.
type ThreadsResult struct {
	Threads []ThreadRow `json:"threads"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Pages   int         `json:"pages"`
}

func newThreadRow(e gating.Entry) ThreadRow {
	gate := "General"
	if e.Thread.RequiredPuzzleID != nil {
		gate = e.PuzzleName
	}
	return ThreadRow{
		ID:         e.Thread.ID,
		Title:      e.Thread.Name,
		Author:     e.Thread.Author,
		Unlocked:   e.Unlocked,
		Gate:       gate,
		Net:        forum.FormatNet(e.Thread.Net()),
		Comments:   forum.CommentLabel(e.Thread.PostCount),
		Snippet:    e.Thread.Snippet,
		RequiredID: e.Thread.RequiredPuzzleID,
	}
}

func newThreadsResult(p gating.Page) ThreadsResult {
	rows := make([]ThreadRow, 0, len(p.Entries))
	for _, e := range p.Entries {
		rows = append(rows, newThreadRow(e))
	}
	return ThreadsResult{Threads: rows, Total: p.Total, Page: p.Page, Pages: p.Pages}
}

// WriteText implements TextWriter.
func (r ThreadsResult) WriteText(w io.Writer) error {
	if len(r.Threads) == 0 {
		_, err := fmt.Fprintln(w, "No threads match.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tGATE\tVOTES\tCOMMENTS")
	for _, t := range r.Threads {
		title := t.Title
		if !t.Unlocked {
			title = "[locked] " + title
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, title, t.Author, t.Gate, t.Net, t.Comments)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Page %d of %d (%d threads)\n", r.Page, r.Pages, r.Total)
	return err
}

// ThreadResult is the output of thread show.
type ThreadResult struct {
	Thread ThreadRow        `json:"thread"`
	Body   string           `json:"description,omitempty"`
	Posts  []forum.Post     `json:"posts"`
	MyVote string           `json:"my_vote"`
	Votes  map[int64]string `json:"my_post_votes,omitempty"`
}

// WriteText implements TextWriter.
func (r ThreadResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "#%d %s\n", r.Thread.ID, r.Thread.Title)
	fmt.Fprintf(w, "by %s · %s · %s votes · %s\n", r.Thread.Author, r.Thread.Gate, r.Thread.Net, r.Thread.Comments)
	if r.MyVote != forum.VoteNone.String() {
		fmt.Fprintf(w, "your vote: %s\n", r.MyVote)
	}
	if r.Body != "" {
		fmt.Fprintf(w, "\n%s\n", r.Body)
	}
	fmt.Fprintln(w)
	if len(r.Posts) == 0 {
		_, err := fmt.Fprintln(w, "No posts yet.")
		return err
	}
	for _, p := range r.Posts {
		mine := ""
		if v, ok := r.Votes[p.ID]; ok {
			mine = " (you: " + v + ")"
		}
		fmt.Fprintf(w, "[%d] %s, %s  %s%s\n", p.ID, p.Author, p.Timestamp.Format("2006-01-02 15:04"), forum.FormatNet(p.Net()), mine)
		for _, line := range strings.Split(p.Text, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
	return nil
}

// PuzzleRow is one puzzle with its completion state.
type PuzzleRow struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
	Completed   bool   `json:"completed"`
}

// PuzzlesResult is the output of the puzzles command.
type PuzzlesResult struct {
	Puzzles []PuzzleRow          `json:"puzzles"`
	Stats   forum.AggregateStats `json:"stats"`
}

// WriteText implements TextWriter.
func (r PuzzlesResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPUZZLE\tSTATUS\tDESCRIPTION")
	for _, p := range r.Puzzles {
		status := "open"
		if p.Completed {
			status = "solved"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.Name, status, p.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeStats(w, r.Stats)
}

func writeStats(w io.Writer, s forum.AggregateStats) error {
	_, err := fmt.Fprintf(w, "Puzzles solved: %d/%d  Threads unlocked: %d/%d\n",
		s.PuzzlesCompleted, s.TotalPuzzles, s.ThreadsUnlocked, s.TotalThreads)
	return err
}

// statsResult renders aggregate stats.
type statsResult forum.AggregateStats

// WriteText implements TextWriter.
func (s statsResult) WriteText(w io.Writer) error {
	return writeStats(w, forum.AggregateStats(s))
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, forum.NewValidationError("parse "+kind+" id", fmt.Sprintf("invalid %s id %q", kind, s))
	}
	return id, nil
}

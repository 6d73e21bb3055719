package gating

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/puzzlegate/internal/forum"
)

// Status filters a listing by lock state.
type Status string

const (
	StatusAll      Status = "all"
	StatusUnlocked Status = "unlocked"
	StatusLocked   Status = "locked"
)

// SortOrder orders a listing. All orders are descending.
type SortOrder string

const (
	SortRecent   SortOrder = "recent"
	SortUpvotes  SortOrder = "upvotes"
	SortComments SortOrder = "comments"
)

// DefaultPerPage is the number of threads shown per listing page.
const DefaultPerPage = 3

// Query describes a thread listing projection. The zero value lists every
// thread, most recent first, on a single page.
type Query struct {
	Search  string
	Status  Status
	Sort    SortOrder
	Page    int // 1-based; values < 1 mean the first page
	PerPage int // <= 0 disables pagination
}

// Entry is one thread in a listing together with its derived lock state.
type Entry struct {
	Thread     forum.Thread
	Unlocked   bool
	PuzzleName string
}

// Page is the result of List.
type Page struct {
	Entries []Entry
	Total   int // entries matching the filter, before pagination
	Page    int
	Pages   int
}

// ParseStatus validates a lock-status filter. "" means all.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusUnlocked, StatusLocked:
		return Status(s), nil
	}
	return "", forum.NewValidationError("parse status", fmt.Sprintf("unknown status filter %q", s))
}

// ParseSort validates a sort order. "" means recent.
func ParseSort(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case "", SortRecent:
		return SortRecent, nil
	case SortUpvotes, SortComments:
		return SortOrder(s), nil
	}
	return "", forum.NewValidationError("parse sort", fmt.Sprintf("unknown sort order %q", s))
}

// List projects threads through q. It never mutates threads or puzzles and
// returns the same page for the same input. Ties under every sort order are
// broken by ascending thread id.
func List(threads []forum.Thread, puzzles []forum.Puzzle, q Query) Page {
	idx := index(puzzles)
	needle := strings.ToLower(q.Search)

	entries := make([]Entry, 0, len(threads))
	for _, t := range threads {
		unlocked := unlockedIndexed(t.RequiredPuzzleID, idx)
		switch q.Status {
		case StatusUnlocked:
			if !unlocked {
				continue
			}
		case StatusLocked:
			if unlocked {
				continue
			}
		}
		if needle != "" && !matches(t, needle) {
			continue
		}
		entries = append(entries, Entry{
			Thread:     t,
			Unlocked:   unlocked,
			PuzzleName: RequiredPuzzleName(t, puzzles),
		})
	}

	sort.SliceStable(entries, less(entries, q.Sort))

	return paginate(entries, q.Page, q.PerPage)
}

func matches(t forum.Thread, needle string) bool {
	return strings.Contains(strings.ToLower(t.Name), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.Snippet), needle)
}

func less(entries []Entry, order SortOrder) func(i, j int) bool {
	return func(i, j int) bool {
		a, b := entries[i].Thread, entries[j].Thread
		switch order {
		case SortUpvotes:
			if a.Upvotes != b.Upvotes {
				return a.Upvotes > b.Upvotes
			}
		case SortComments:
			if a.PostCount != b.PostCount {
				return a.PostCount > b.PostCount
			}
		default:
			if !a.Created.Equal(b.Created) {
				return a.Created.After(b.Created)
			}
		}
		return a.ID < b.ID
	}
}

func paginate(entries []Entry, page, perPage int) Page {
	total := len(entries)
	if perPage <= 0 {
		return Page{Entries: entries, Total: total, Page: 1, Pages: 1}
	}

	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}
	return Page{Entries: entries[start:end], Total: total, Page: page, Pages: pages}
}

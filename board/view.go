package board

import (
	"iter"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"taskboard/domain"
)

// Column is the rendered view of one bucket.
type Column struct {
	Status domain.Status
	Tasks  []domain.Task
}

// Visible filters and sorts a bucket for display. The input is never modified.
func Visible(bucket []domain.Task, filterTerm string, mode SortMode) []domain.Task {
	term := strings.ToLower(filterTerm)
	out := make([]domain.Task, 0, len(bucket))
	for _, t := range bucket {
		if matches(t, term) {
			out = append(out, t)
		}
	}

	switch mode {
	case SortByTitle:
		c := collate.New(language.Und)
		slices.SortStableFunc(out, func(a, b domain.Task) int {
			return c.CompareString(a.Title, b.Title)
		})
	case SortByDate:
		slices.SortStableFunc(out, func(a, b domain.Task) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
	}
	return out
}

// VisibleSeq yields the same tasks as Visible.
func VisibleSeq(bucket []domain.Task, filterTerm string, mode SortMode) iter.Seq[domain.Task] {
	return func(yield func(domain.Task) bool) {
		for _, t := range Visible(bucket, filterTerm, mode) {
			if !yield(t) {
				return
			}
		}
	}
}

func matches(t domain.Task, lowerTerm string) bool {
	if lowerTerm == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), lowerTerm) ||
		strings.Contains(strings.ToLower(t.Description), lowerTerm)
}

// Columns renders every bucket of s in display order using its filter and sort.
func (s State) Columns() []Column {
	cols := make([]Column, 0, len(domain.Statuses))
	for _, status := range domain.Statuses {
		cols = append(cols, Column{
			Status: status,
			Tasks:  Visible(s.Buckets[status], s.FilterTerm, s.SortMode),
		})
	}
	return cols
}

package staging

import (
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"jobtrack/internal"
)

// View is the presentation filter. It only decides visibility.
type View struct {
	Query  string
	Status internal.Status
}

func (v View) matches(row internal.StagingRow) bool {
	if v.Status != "" && v.Status != internal.StatusAll && row.Status != v.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(v.Query))
	if q == "" {
		return true
	}
	for _, field := range []string{row.Company, row.Title, row.Subject, row.Snippet} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// RowPatch holds the fields to change; nil fields are left alone.
type RowPatch struct {
	Company     *string
	Title       *string
	Status      *internal.Status
	AppliedDate *time.Time
	Selected    *bool
	Expanded    *bool
}

// Counts is the review footer: selected rows, rows visible under the view and
// the total.
type Counts struct {
	Selected int
	Visible  int
	Total    int
}

// Set holds the rows of one review. Rows are addressed by their index, which
// stays stable until the next Replace or Clear.
type Set struct {
	mu   sync.Mutex
	rows []internal.StagingRow
}

// New stages events with every row selected.
func New(events []internal.JobEvent) *Set {
	s := &Set{}
	s.Replace(events)
	return s
}

func (s *Set) Replace(events []internal.JobEvent) {
	rows := make([]internal.StagingRow, len(events))
	for i, ev := range events {
		rows[i] = internal.StagingRow{JobEvent: ev, Selected: true}
	}
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
}

func (s *Set) Clear() {
	s.mu.Lock()
	s.rows = nil
	s.mu.Unlock()
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *Set) Row(index int) (internal.StagingRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.rows) {
		return internal.StagingRow{}, false
	}
	return s.rows[index], true
}

// Rows returns a copy of every row.
func (s *Set) Rows() []internal.StagingRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.StagingRow(nil), s.rows...)
}

func (s *Set) SetField(index int, patch RowPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.rows) {
		return fmt.Errorf("row %d out of range (0..%d)", index, len(s.rows)-1)
	}
	row := &s.rows[index]
	if patch.Company != nil {
		row.Company = *patch.Company
	}
	if patch.Title != nil {
		row.Title = *patch.Title
	}
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.AppliedDate != nil {
		row.AppliedDate = *patch.AppliedDate
	}
	if patch.Selected != nil {
		row.Selected = *patch.Selected
	}
	if patch.Expanded != nil {
		row.Expanded = *patch.Expanded
	}
	return nil
}

// FilteredView yields the index and a copy of every row visible under v. The
// rows are snapshotted when iteration starts, so the loop body may call back
// into the set.
func (s *Set) FilteredView(v View) iter.Seq2[int, internal.StagingRow] {
	return func(yield func(int, internal.StagingRow) bool) {
		for i, row := range s.Rows() {
			if !v.matches(row) {
				continue
			}
			if !yield(i, row) {
				return
			}
		}
	}
}

// ToggleSelectAllVisible deselects the visible rows when all of them are
// selected and selects them otherwise. Hidden rows keep their selection.
func (s *Set) ToggleSelectAllVisible(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := make([]int, 0, len(s.rows))
	allSelected := true
	for i, row := range s.rows {
		if v.matches(row) {
			visible = append(visible, i)
			allSelected = allSelected && row.Selected
		}
	}
	for _, i := range visible {
		s.rows[i].Selected = !allSelected
	}
}

// BulkSetStatus sets status on every selected row, visible or not.
func (s *Set) BulkSetStatus(status internal.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rows {
		if s.rows[i].Selected {
			s.rows[i].Status = status
			n++
		}
	}
	return n
}

// SelectByStatus replaces the selection with the rows whose status is status.
func (s *Set) SelectByStatus(status internal.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.rows {
		s.rows[i].Selected = s.rows[i].Status == status
		if s.rows[i].Selected {
			n++
		}
	}
	return n
}

func (s *Set) Counts(v View) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Total: len(s.rows)}
	for _, row := range s.rows {
		if row.Selected {
			c.Selected++
		}
		if v.matches(row) {
			c.Visible++
		}
	}
	return c
}

package service

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// StagedTransaction is a parsed, classified row waiting for confirmation.
type StagedTransaction struct {
	TempID      int     `json:"temp_id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      int64   `json:"amount"`
	MatchedTag  *string `json:"matched_tag"`
	SelectedTag *string `json:"selected_tag"`
	DateWarning string  `json:"date_warning,omitempty"`
}

// RowError records a row that was dropped while staging. Row is the
// 1-based position among data rows.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// StagedImport accumulates the classified rows of one import between
// staging and commit. Overrides may arrive from several requests, so all
// access goes through the mutex.
type StagedImport struct {
	ImportID uuid.UUID
	OwnerID  string
	Filename string

	mu     sync.Mutex
	rows   []StagedTransaction
	errors []RowError
}

func newStagedImport(importID uuid.UUID, ownerID, filename string) *StagedImport {
	return &StagedImport{ImportID: importID, OwnerID: ownerID, Filename: filename}
}

func (s *StagedImport) add(tx StagedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.TempID = len(s.rows) + 1
	s.rows = append(s.rows, tx)
}

func (s *StagedImport) reject(e RowError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, e)
}

// Rows returns a copy of the staged rows.
func (s *StagedImport) Rows() []StagedTransaction {
	return s.Filter("")
}

// Errors returns a copy of the rows rejected while staging.
func (s *StagedImport) Errors() []RowError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RowError, len(s.errors))
	copy(out, s.errors)
	return out
}

func (s *StagedImport) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *StagedImport) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

// Filter returns the rows whose description contains search, ignoring
// case. An empty search returns every row.
func (s *StagedImport) Filter(search string) []StagedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StagedTransaction, 0, len(s.rows))
	for _, r := range s.rows {
		if matchesSearch(r.Description, search) {
			out = append(out, r)
		}
	}
	return out
}

// SetSelectedTag overrides the tag of one row. A nil or blank tag leaves
// the row untagged.
func (s *StagedImport) SetSelectedTag(tempID int, tag *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].TempID == tempID {
			s.rows[i].SelectedTag = cleanTag(tag)
			return nil
		}
	}
	return common.ErrNotFound
}

// BulkSetSelectedTag overrides the tag of every row Filter(search) would
// return and reports how many rows changed hands.
func (s *StagedImport) BulkSetSelectedTag(search string, tag *string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag = cleanTag(tag)
	n := 0
	for i := range s.rows {
		if matchesSearch(s.rows[i].Description, search) {
			s.rows[i].SelectedTag = tag
			n++
		}
	}
	return n
}

func matchesSearch(description, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(description), strings.ToLower(search))
}

func cleanTag(tag *string) *string {
	if tag == nil {
		return nil
	}
	t := strings.TrimSpace(*tag)
	if t == "" {
		return nil
	}
	return &t
}

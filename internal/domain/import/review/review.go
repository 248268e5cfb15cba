// Package review re-runs tag matching over an already imported batch and
// lets the user accept or revert each proposed change before it is written.
package review

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/tag"
)

// ErrNotEditable is returned when selecting a tag for an entry whose tag
// would not change.
var ErrNotEditable = fmt.Errorf("%w: entry has no proposed change", common.ErrBadRequest)

// Entry compares a transaction's stored tag with what the rules say now.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	CurrentTag  *string   `json:"current_tag"`
	ProposedTag *string   `json:"proposed_tag"`
	SelectedTag *string   `json:"selected_tag"`
	HasChanged  bool      `json:"has_changed"`

	ownerID string
}

// Review holds the entries of one re-match run until they are applied.
type Review struct {
	ImportID uuid.UUID
	OwnerID  string

	mu      sync.Mutex
	entries []Entry
}

// BuildReview classifies txs with m. Entries keep the order of txs.
func BuildReview(importID uuid.UUID, ownerID string, txs []repository.Transaction, m *tag.Matcher) *Review {
	rv := &Review{ImportID: importID, OwnerID: ownerID, entries: make([]Entry, 0, len(txs))}
	for _, tx := range txs {
		proposed := m.Match(tx.Description)
		e := Entry{
			ID:          tx.ID,
			Date:        tx.TransactionDate,
			Description: tx.Description,
			Amount:      tx.Amount,
			CurrentTag:  tx.Tag,
			ProposedTag: proposed,
			HasChanged:  !sameTag(proposed, tx.Tag),
			ownerID:     tx.OwnerID,
		}
		if e.HasChanged {
			e.SelectedTag = proposed
		} else {
			e.SelectedTag = tx.Tag
		}
		rv.entries = append(rv.entries, e)
	}
	return rv
}

// Entries returns a copy of all entries.
func (r *Review) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Select sets the tag to write for a changed entry. Selecting the current
// tag reverts the proposal; a blank tag means untagged.
func (r *Review) Select(id uuid.UUID, tag *string) error {
	return r.SelectAll(map[uuid.UUID]*string{id: tag})
}

// SelectAll applies several selections at once. Every id is checked before
// any entry changes, so a failed call leaves the review untouched.
func (r *Review) SelectAll(selections map[uuid.UUID]*string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[uuid.UUID]int, len(r.entries))
	for i, e := range r.entries {
		index[e.ID] = i
	}
	for id := range selections {
		i, ok := index[id]
		if !ok {
			return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		if !r.entries[i].HasChanged {
			return fmt.Errorf("transaction %s: %w", id, ErrNotEditable)
		}
	}
	for id, tag := range selections {
		r.entries[index[id]].SelectedTag = cleanTag(tag)
	}
	return nil
}

// ChangedCount is the number of entries whose proposed tag differs.
func (r *Review) ChangedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.HasChanged {
			n++
		}
	}
	return n
}

// PendingUpdates returns the entries whose selected tag differs from the
// stored one.
func (r *Review) PendingUpdates() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if !sameTag(e.SelectedTag, e.CurrentTag) {
			out = append(out, e)
		}
	}
	return out
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

func sameTag(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Package transaction serves the transaction history: filtering, sorting
// and paging of a user's persisted transactions, plus direct edits.
package transaction

import (
	"sort"
	"strings"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/import/repository"
)

// Untagged selects transactions without a tag in Query.Tag and is how an
// empty tag is displayed.
const Untagged = "未分類"

// allTags is accepted as an explicit "no tag filter".
const allTags = "全て"

const DefaultPageSize = 20

type SortKey string

const (
	SortDate        SortKey = "date"
	SortAmount      SortKey = "amount"
	SortDescription SortKey = "description"
	SortTag         SortKey = "tag"
)

// Valid reports whether k is a known sort key.
func (k SortKey) Valid() bool {
	switch k {
	case SortDate, SortAmount, SortDescription, SortTag:
		return true
	}
	return false
}

// Query selects and orders a page of transactions. From and To are
// inclusive YYYY-MM-DD bounds.
type Query struct {
	From     string
	To       string
	Tag      string
	Search   string
	Sort     SortKey
	Desc     bool
	Page     int
	PageSize int
}

// DefaultQuery is newest first, twenty per page.
func DefaultQuery() Query {
	return Query{Sort: SortDate, Desc: true, Page: 1, PageSize: DefaultPageSize}
}

func (q Query) normalized() Query {
	if !q.Sort.Valid() {
		q.Sort = SortDate
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.Tag == allTags {
		q.Tag = ""
	}
	return q
}

// Page is one page of results plus totals over every matching row.
type Page struct {
	Items       []repository.Transaction `json:"items"`
	Total       int                      `json:"total"`
	TotalAmount int64                    `json:"total_amount"`
	Page        int                      `json:"page"`
	PageSize    int                      `json:"page_size"`
	TotalPages  int                      `json:"total_pages"`
}

// View filters, sorts and pages txs. The input slice is not modified.
func View(txs []repository.Transaction, q Query) Page {
	q = q.normalized()

	matched := make([]repository.Transaction, 0, len(txs))
	var amount int64
	for _, tx := range txs {
		if q.matches(tx) {
			matched = append(matched, tx)
			amount += tx.Amount
		}
	}

	sortTransactions(matched, q.Sort, q.Desc)

	page := Page{
		Total:       len(matched),
		TotalAmount: amount,
		Page:        q.Page,
		PageSize:    q.PageSize,
		TotalPages:  (len(matched) + q.PageSize - 1) / q.PageSize,
	}
	start := (q.Page - 1) * q.PageSize
	if start >= len(matched) {
		page.Items = []repository.Transaction{}
		return page
	}
	end := min(start+q.PageSize, len(matched))
	page.Items = matched[start:end]
	return page
}

func (q Query) matches(tx repository.Transaction) bool {
	if q.From != "" && tx.TransactionDate < q.From {
		return false
	}
	if q.To != "" && tx.TransactionDate > q.To {
		return false
	}

	tag := tagName(tx)
	switch q.Tag {
	case "":
	case Untagged:
		if tag != "" {
			return false
		}
	default:
		if tag != q.Tag {
			return false
		}
	}

	if q.Search != "" {
		s := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(tx.Description), s) && !strings.Contains(strings.ToLower(tag), s) {
			return false
		}
	}
	return true
}

// sortTransactions orders by key, then by description ascending, and keeps
// the input order for rows equal on both.
func sortTransactions(txs []repository.Transaction, key SortKey, desc bool) {
	sort.SliceStable(txs, func(i, j int) bool {
		c := compare(txs[i], txs[j], key)
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return txs[i].Description < txs[j].Description
	})
}

func compare(a, b repository.Transaction, key SortKey) int {
	switch key {
	case SortAmount:
		switch {
		case a.Amount < b.Amount:
			return -1
		case a.Amount > b.Amount:
			return 1
		}
		return 0
	case SortDescription:
		return strings.Compare(a.Description, b.Description)
	case SortTag:
		return strings.Compare(tagName(a), tagName(b))
	default:
		return strings.Compare(a.TransactionDate, b.TransactionDate)
	}
}

func tagName(tx repository.Transaction) string {
	if tx.Tag == nil {
		return ""
	}
	return *tx.Tag
}

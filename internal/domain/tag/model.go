// Package tag holds tags, their match rules and the engine that assigns a
// tag to a transaction description.
package tag

import (
	"time"

	"github.com/google/uuid"
)

// RuleType selects how a rule pattern is compared to a description.
type RuleType string

const (
	RuleExact    RuleType = "exact"
	RulePrefix   RuleType = "prefix"
	RuleSuffix   RuleType = "suffix"
	RuleContains RuleType = "contains"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleExact, RulePrefix, RuleSuffix, RuleContains:
		return true
	}
	return false
}

// DefaultCategory is assigned to tags created without one.
const DefaultCategory = "その他"

// Palette is the set of colors handed out to new tags.
var Palette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEEAD",
	"#D4A5A5",
	"#9B59B6",
	"#3498DB",
	"#E67E22",
	"#1ABC9C",
}

// MatchRule belongs to exactly one tag. Disabled rules are kept but never
// match.
type MatchRule struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TagID     uuid.UUID `db:"tag_id" json:"tag_id"`
	Pattern   string    `db:"pattern" json:"pattern"`
	Type      RuleType  `db:"type" json:"type"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Tag is a label applied to transactions. Master tags have no owner and
// cannot be changed by users.
type Tag struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Color     string      `db:"color" json:"color"`
	Category  string      `db:"category" json:"category"`
	IsMaster  bool        `db:"is_master" json:"is_master"`
	OwnerID   *string     `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
	Rules     []MatchRule `db:"-" json:"rules"`
}

// OwnedBy reports whether userID may modify t.
func (t *Tag) OwnedBy(userID string) bool {
	return !t.IsMaster && t.OwnerID != nil && *t.OwnerID == userID
}

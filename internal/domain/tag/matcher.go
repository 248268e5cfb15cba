package tag

import "strings"

// Matches reports whether r applies to description. Comparison is
// case-sensitive and unknown rule types never match.
func (r MatchRule) Matches(description string) bool {
	if !r.Enabled {
		return false
	}
	switch r.Type {
	case RuleExact:
		return description == r.Pattern
	case RulePrefix:
		return strings.HasPrefix(description, r.Pattern)
	case RuleSuffix:
		return strings.HasSuffix(description, r.Pattern)
	case RuleContains:
		return strings.Contains(description, r.Pattern)
	default:
		return false
	}
}

// FindMatchingTag returns the name of the first tag, in slice order, with an
// enabled rule matching description, or nil.
func FindMatchingTag(description string, tags []Tag) *string {
	for i := range tags {
		for _, r := range tags[i].Rules {
			if r.Matches(description) {
				name := tags[i].Name
				return &name
			}
		}
	}
	return nil
}

// Matcher classifies descriptions against a fixed snapshot of tags, so rule
// edits made during an import or re-match do not affect it.
type Matcher struct {
	tags []Tag
}

// NewMatcher copies tags and their rules.
func NewMatcher(tags []Tag) *Matcher {
	snapshot := make([]Tag, len(tags))
	for i, t := range tags {
		t.Rules = append([]MatchRule(nil), t.Rules...)
		snapshot[i] = t
	}
	return &Matcher{tags: snapshot}
}

// Match returns the tag name for description, or nil.
func (m *Matcher) Match(description string) *string {
	return FindMatchingTag(description, m.tags)
}

// Len returns the number of tags in the snapshot.
func (m *Matcher) Len() int { return len(m.tags) }

package tag

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

// CreateTagParams describes a new user tag. Empty color and category are
// filled with a palette color and DefaultCategory.
type CreateTagParams struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Category string `json:"category"`
}

// UpdateTagParams holds the fields to change; nil leaves a field as is.
type UpdateTagParams struct {
	Name     *string `json:"name"`
	Color    *string `json:"color"`
	Category *string `json:"category"`
}

type CreateRuleParams struct {
	Pattern string   `json:"pattern"`
	Type    RuleType `json:"type"`
	Enabled *bool    `json:"enabled"`
}

type UpdateRuleParams struct {
	Pattern *string   `json:"pattern"`
	Type    *RuleType `json:"type"`
	Enabled *bool     `json:"enabled"`
}

// Service manages tags and rules on behalf of the current user.
type Service struct {
	repo   Repository
	logger *slog.Logger
	color  func() string
}

// NewService creates a tag service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		color:  func() string { return Palette[rand.IntN(len(Palette))] },
	}
}

// ListTags returns the master tags and the current user's tags.
func (s *Service) ListTags(ctx context.Context) ([]Tag, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := s.repo.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}

// CreateTag adds a tag owned by the current user.
func (s *Service) CreateTag(ctx context.Context, p CreateTagParams) (*Tag, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	l := s.logger.With(slog.String("method", "CreateTag"), slog.String("userID", userID))

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required: %w", common.ErrBadRequest)
	}

	existing, err := s.repo.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	if nameTaken(existing, name, uuid.Nil) {
		return nil, fmt.Errorf("tag %q: %w", name, common.ErrConflict)
	}

	t := &Tag{
		Name:     name,
		Color:    strings.TrimSpace(p.Color),
		Category: strings.TrimSpace(p.Category),
		OwnerID:  &userID,
	}
	if t.Color == "" {
		t.Color = s.color()
	}
	if t.Category == "" {
		t.Category = DefaultCategory
	}

	if err := s.repo.CreateTag(ctx, t); err != nil {
		l.ErrorContext(ctx, "Failed to create tag", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}

	l.InfoContext(ctx, "Tag created", slog.String("tagID", t.ID.String()))
	return t, nil
}

// UpdateTag edits a non-master tag owned by the current user. Renaming does
// not rewrite transactions already carrying the old name.
func (s *Service) UpdateTag(ctx context.Context, id uuid.UUID, p UpdateTagParams) (*Tag, error) {
	userID, t, err := s.ownedTag(ctx, id)
	if err != nil {
		return nil, err
	}
	l := s.logger.With(slog.String("method", "UpdateTag"), slog.String("userID", userID), slog.String("tagID", id.String()))

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("tag name is required: %w", common.ErrBadRequest)
		}
		if name != t.Name {
			existing, err := s.repo.ListTags(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to list tags: %w", err)
			}
			if nameTaken(existing, name, t.ID) {
				return nil, fmt.Errorf("tag %q: %w", name, common.ErrConflict)
			}
		}
		t.Name = name
	}
	if p.Color != nil && strings.TrimSpace(*p.Color) != "" {
		t.Color = strings.TrimSpace(*p.Color)
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
		if t.Category == "" {
			t.Category = DefaultCategory
		}
	}

	if err := s.repo.UpdateTag(ctx, t); err != nil {
		l.ErrorContext(ctx, "Failed to update tag", slog.Any("error", err))
		return nil, fmt.Errorf("failed to update tag: %w", err)
	}
	l.InfoContext(ctx, "Tag updated")
	return t, nil
}

// DeleteTag removes a tag and clears it from the owner's transactions.
func (s *Service) DeleteTag(ctx context.Context, id uuid.UUID) error {
	userID, t, err := s.ownedTag(ctx, id)
	if err != nil {
		return err
	}
	l := s.logger.With(slog.String("method", "DeleteTag"), slog.String("userID", userID), slog.String("tagID", id.String()))

	if err := s.repo.DeleteTag(ctx, userID, t); err != nil {
		l.ErrorContext(ctx, "Failed to delete tag", slog.Any("error", err))
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	l.InfoContext(ctx, "Tag deleted", slog.String("name", t.Name))
	return nil
}

// AddRule attaches a rule to a tag owned by the current user.
func (s *Service) AddRule(ctx context.Context, tagID uuid.UUID, p CreateRuleParams) (*MatchRule, error) {
	if _, _, err := s.ownedTag(ctx, tagID); err != nil {
		return nil, err
	}
	pattern := strings.TrimSpace(p.Pattern)
	if pattern == "" {
		return nil, fmt.Errorf("rule pattern is required: %w", common.ErrBadRequest)
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("unknown rule type %q: %w", p.Type, common.ErrBadRequest)
	}

	rule := &MatchRule{TagID: tagID, Pattern: pattern, Type: p.Type, Enabled: true}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// UpdateRule edits a rule through its tag's owner.
func (s *Service) UpdateRule(ctx context.Context, ruleID uuid.UUID, p UpdateRuleParams) (*MatchRule, error) {
	rule, err := s.ownedRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if p.Pattern != nil {
		pattern := strings.TrimSpace(*p.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("rule pattern is required: %w", common.ErrBadRequest)
		}
		rule.Pattern = pattern
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return nil, fmt.Errorf("unknown rule type %q: %w", *p.Type, common.ErrBadRequest)
		}
		rule.Type = *p.Type
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule through its tag's owner.
func (s *Service) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	if _, err := s.ownedRule(ctx, ruleID); err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// SeedMasterTags upserts the master tag set. Nil data seeds the embedded
// defaults.
func (s *Service) SeedMasterTags(ctx context.Context, data []byte) error {
	l := s.logger.With(slog.String("method", "SeedMasterTags"))

	tags, err := ParseMasterTags(data)
	if err != nil {
		return err
	}
	for i := range tags {
		if err := s.repo.UpsertMasterTag(ctx, &tags[i]); err != nil {
			l.ErrorContext(ctx, "Failed to seed master tag", slog.String("name", tags[i].Name), slog.Any("error", err))
			return fmt.Errorf("failed to seed master tags: %w", err)
		}
	}
	l.InfoContext(ctx, "Master tags seeded", slog.Int("count", len(tags)))
	return nil
}

func (s *Service) ownedTag(ctx context.Context, id uuid.UUID) (string, *Tag, error) {
	userID, err := common.RequireUserID(ctx)
	if err != nil {
		return "", nil, err
	}
	t, err := s.repo.GetTag(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get tag: %w", err)
	}
	if t.IsMaster {
		return "", nil, fmt.Errorf("master tag %q is read-only: %w", t.Name, common.ErrForbidden)
	}
	if !t.OwnedBy(userID) {
		return "", nil, common.ErrForbidden
	}
	return userID, t, nil
}

func (s *Service) ownedRule(ctx context.Context, ruleID uuid.UUID) (*MatchRule, error) {
	if _, err := common.RequireUserID(ctx); err != nil {
		return nil, err
	}
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	if _, _, err := s.ownedTag(ctx, rule.TagID); err != nil {
		return nil, err
	}
	return rule, nil
}

// nameTaken reports whether another tag visible to the user already uses
// name. Master names count, since transactions store tags by name.
func nameTaken(tags []Tag, name string, except uuid.UUID) bool {
	for _, t := range tags {
		if t.ID != except && t.Name == name {
			return true
		}
	}
	return false
}

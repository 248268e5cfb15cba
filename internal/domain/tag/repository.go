package tag

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
	"github.com/FACorreiaa/smart-expense-tagger/pkg/db"
)

var _ Repository = (*PostgresRepository)(nil)

// Repository defines persistence for tags and their rules.
type Repository interface {
	// ListTags returns master tags and the owner's tags, each with rules,
	// ordered by creation.
	ListTags(ctx context.Context, ownerID string) ([]Tag, error)
	// GetTag returns common.ErrNotFound if the tag does not exist.
	GetTag(ctx context.Context, id uuid.UUID) (*Tag, error)
	CreateTag(ctx context.Context, t *Tag) error
	UpdateTag(ctx context.Context, t *Tag) error
	// DeleteTag removes the tag and its rules and clears the tag from the
	// owner's transactions.
	DeleteTag(ctx context.Context, ownerID string, t *Tag) error

	GetRule(ctx context.Context, id uuid.UUID) (*MatchRule, error)
	CreateRule(ctx context.Context, r *MatchRule) error
	UpdateRule(ctx context.Context, r *MatchRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error

	// UpsertMasterTag creates or refreshes a master tag and replaces its
	// rules.
	UpsertMasterTag(ctx context.Context, t *Tag) error
}

const (
	listTagsQuery = `
		SELECT id, name, color, category, is_master, owner_id, created_at, updated_at
		FROM tags
		WHERE owner_id = $1 OR is_master
		ORDER BY created_at, id`

	listRulesQuery = `
		SELECT id, tag_id, pattern, type, enabled, created_at, updated_at
		FROM match_rules
		WHERE tag_id = ANY($1)
		ORDER BY created_at, id`

	getTagQuery = `
		SELECT id, name, color, category, is_master, owner_id, created_at, updated_at
		FROM tags
		WHERE id = $1`

	createTagQuery = `
		INSERT INTO tags (id, name, color, category, is_master, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	updateTagQuery = `
		UPDATE tags SET name = $2, color = $3, category = $4, updated_at = NOW()
		WHERE id = $1 AND NOT is_master
		RETURNING updated_at`

	detachTransactionsQuery = `UPDATE transactions SET tag = NULL WHERE owner_id = $1 AND tag = $2`
	deleteTagRulesQuery     = `DELETE FROM match_rules WHERE tag_id = $1`
	deleteTagQuery          = `DELETE FROM tags WHERE id = $1 AND NOT is_master`

	getRuleQuery = `
		SELECT id, tag_id, pattern, type, enabled, created_at, updated_at
		FROM match_rules
		WHERE id = $1`

	createRuleQuery = `
		INSERT INTO match_rules (id, tag_id, pattern, type, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	updateRuleQuery = `
		UPDATE match_rules SET pattern = $2, type = $3, enabled = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	deleteRuleQuery = `DELETE FROM match_rules WHERE id = $1`

	upsertMasterTagQuery = `
		INSERT INTO tags (id, name, color, category, is_master, owner_id)
		VALUES ($1, $2, $3, $4, TRUE, NULL)
		ON CONFLICT (name) WHERE is_master
		DO UPDATE SET color = EXCLUDED.color, category = EXCLUDED.category, updated_at = NOW()
		RETURNING id`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository creates a PostgreSQL-backed tag repository.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListTags(ctx context.Context, ownerID string) ([]Tag, error) {
	rows, err := r.pool.Query(ctx, listTagsQuery, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.Category, &t.IsMaster, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	if len(tags) == 0 {
		return tags, nil
	}

	ids := make([]uuid.UUID, len(tags))
	index := make(map[uuid.UUID]int, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
		index[t.ID] = i
	}

	rules, err := r.queryRules(ctx, listRulesQuery, ids)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if i, ok := index[rule.TagID]; ok {
			tags[i].Rules = append(tags[i].Rules, rule)
		}
	}
	return tags, nil
}

func (r *PostgresRepository) GetTag(ctx context.Context, id uuid.UUID) (*Tag, error) {
	var t Tag
	err := r.pool.QueryRow(ctx, getTagQuery, id).Scan(
		&t.ID, &t.Name, &t.Color, &t.Category, &t.IsMaster, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}

	rules, err := r.queryRules(ctx, listRulesQuery, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	t.Rules = rules
	return &t, nil
}

func (r *PostgresRepository) CreateTag(ctx context.Context, t *Tag) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, createTagQuery, t.ID, t.Name, t.Color, t.Category, t.IsMaster, t.OwnerID).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tag %q: %w", t.Name, common.ErrConflict)
		}
		return fmt.Errorf("failed to create tag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateTag(ctx context.Context, t *Tag) error {
	err := r.pool.QueryRow(ctx, updateTagQuery, t.ID, t.Name, t.Color, t.Category).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tag %q: %w", t.Name, common.ErrConflict)
		}
		return fmt.Errorf("failed to update tag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteTag(ctx context.Context, ownerID string, t *Tag) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, detachTransactionsQuery, ownerID, t.Name); err != nil {
			return fmt.Errorf("failed to detach transactions: %w", err)
		}
		if _, err := tx.Exec(ctx, deleteTagRulesQuery, t.ID); err != nil {
			return fmt.Errorf("failed to delete rules: %w", err)
		}
		tag, err := tx.Exec(ctx, deleteTagQuery, t.ID)
		if err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return common.ErrNotFound
		}
		return nil
	})
	return err
}

func (r *PostgresRepository) GetRule(ctx context.Context, id uuid.UUID) (*MatchRule, error) {
	var m MatchRule
	err := r.pool.QueryRow(ctx, getRuleQuery, id).Scan(
		&m.ID, &m.TagID, &m.Pattern, &m.Type, &m.Enabled, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) CreateRule(ctx context.Context, m *MatchRule) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, createRuleQuery, m.ID, m.TagID, m.Pattern, m.Type, m.Enabled).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, m *MatchRule) error {
	err := r.pool.QueryRow(ctx, updateRuleQuery, m.ID, m.Pattern, m.Type, m.Enabled).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteRuleQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpsertMasterTag(ctx context.Context, t *Tag) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsertMasterTagQuery, t.ID, t.Name, t.Color, t.Category).Scan(&t.ID); err != nil {
			return fmt.Errorf("failed to upsert master tag %q: %w", t.Name, err)
		}
		if _, err := tx.Exec(ctx, deleteTagRulesQuery, t.ID); err != nil {
			return fmt.Errorf("failed to reset rules for %q: %w", t.Name, err)
		}
		for i := range t.Rules {
			rule := &t.Rules[i]
			rule.TagID = t.ID
			if rule.ID == uuid.Nil {
				rule.ID = uuid.New()
			}
			if err := tx.QueryRow(ctx, createRuleQuery, rule.ID, rule.TagID, rule.Pattern, rule.Type, rule.Enabled).
				Scan(&rule.CreatedAt, &rule.UpdatedAt); err != nil {
				return fmt.Errorf("failed to create rule for %q: %w", t.Name, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) queryRules(ctx context.Context, query string, tagIDs []uuid.UUID) ([]MatchRule, error) {
	rows, err := r.pool.Query(ctx, query, tagIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []MatchRule
	for rows.Next() {
		var m MatchRule
		if err := rows.Scan(&m.ID, &m.TagID, &m.Pattern, &m.Type, &m.Enabled, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

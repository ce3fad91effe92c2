package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finlens/internal/core"
	"finlens/internal/ledger"
	"finlens/internal/rules"
)

// Categorizer loads a user's rules on every call and picks a category.
type Categorizer struct {
	store ledger.RuleStore
}

func NewCategorizer(store ledger.RuleStore) *Categorizer {
	return &Categorizer{store: store}
}

// Categorize returns the category id of the first matching rule.
func (c *Categorizer) Categorize(ctx context.Context, userID, text string) (string, bool, error) {
	if userID == "" {
		return "", false, core.ErrMissingUser
	}
	if strings.TrimSpace(text) == "" {
		return "", false, nil
	}
	list, err := c.store.Rules(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load rules: %w", err)
	}
	match, ok, skipped := rules.Resolve(list, text)
	for _, s := range skipped {
		slog.DebugContext(ctx, "Skipping rule with invalid pattern",
			"rule_id", s.Rule.ID,
			"user_id", userID,
			"error", s.Err)
	}
	if !ok {
		return "", false, nil
	}
	return match.CategoryID, true, nil
}

func (c *Categorizer) ListRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	if userID == "" {
		return nil, core.ErrMissingUser
	}
	list, err := c.store.Rules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules.Order(list), nil
}

// CreateRule stores a rule after trimming its pattern. Regex patterns that do
// not compile are rejected here even though matching would skip them.
func (c *Categorizer) CreateRule(ctx context.Context, r core.CategoryRule) (core.CategoryRule, error) {
	r.Pattern = strings.TrimSpace(r.Pattern)
	if err := rules.Validate(r); err != nil {
		return core.CategoryRule{}, err
	}
	saved, err := c.store.CreateRule(ctx, r)
	if err != nil {
		return core.CategoryRule{}, fmt.Errorf("failed to create rule: %w", err)
	}
	slog.InfoContext(ctx, "Category rule created",
		"rule_id", saved.ID,
		"user_id", saved.UserID,
		"priority", saved.Priority)
	return saved, nil
}

func (c *Categorizer) DeleteRule(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrMissingUser
	}
	if err := c.store.DeleteRule(ctx, userID, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

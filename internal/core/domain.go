package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TxType = "income"
	Expense TxType = "expense"
	Both    TxType = "both"
)

// DefaultRulePriority is assigned to rules created without an explicit priority.
const DefaultRulePriority = 100

// MaxPatternLength bounds the pattern of a categorization rule.
const MaxPatternLength = 200

type (
	TxType string

	Transaction struct {
		ID            string
		UserID        string
		Type          TxType
		Amount        Money
		CategoryID    string
		Date          Date
		Note          string
		PaymentMethod string
	}

	Category struct {
		ID     string
		UserID string
		Name   string
		Type   TxType
		Budget Money // zero means no budget tracked
	}

	WeeklyRollup struct {
		ID           string
		UserID       string
		WeekStart    Date
		IncomeTotal  Money
		ExpenseTotal Money
		Balance      Money
	}

	MonthlyRollup struct {
		ID           string
		UserID       string
		Month        Date // always first of month
		CategoryID   string
		TotalIncome  Money
		TotalExpense Money
		TxCount      int
		UpdatedAt    time.Time
	}

	CategoryRule struct {
		ID         string
		UserID     string
		CategoryID string
		Pattern    string
		IsRegex    bool
		Priority   int // lower wins
		CreatedAt  time.Time
	}

	MonthlySalary struct {
		ID     string
		UserID string
		Month  Date
		Amount Money
	}
)

var (
	ErrInvalidDay     = errors.New("invalid day")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidYear    = errors.New("invalid year")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidType    = errors.New("invalid transaction type")
	ErrInvalidRange   = errors.New("start is after end")
	ErrMissingUser    = errors.New("missing user id")
	ErrEmptyPattern   = errors.New("empty pattern")
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrEmptyCategory  = errors.New("empty category id")
	ErrNotFound       = errors.New("not found")
)

// ParseTxType accepts "income" or "expense" (any case). An empty string
// yields the empty type, meaning "no type filter".
func ParseTxType(s string) (TxType, error) {
	switch t := TxType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", Income, Expense:
		return t, nil
	default:
		return "", ErrInvalidType
	}
}

// Key identifies a weekly rollup row.
func (w WeeklyRollup) Key() string {
	return w.UserID + "|" + w.WeekStart.String()
}

// Key identifies a monthly rollup row.
func (m MonthlyRollup) Key() string {
	return m.UserID + "|" + m.Month.String() + "|" + m.CategoryID
}

// SameTotals reports whether two monthly rows carry the same aggregate values.
func (m MonthlyRollup) SameTotals(o MonthlyRollup) bool {
	return m.TotalIncome == o.TotalIncome && m.TotalExpense == o.TotalExpense && m.TxCount == o.TxCount
}

func (r CategoryRule) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(r.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return ErrEmptyPattern
	}
	if len(r.Pattern) > MaxPatternLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPattern, MaxPatternLength)
	}
	return nil
}

func (s MonthlySalary) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrMissingUser
	}
	if s.Month.IsZero() {
		return ErrInvalidMonth
	}
	if s.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

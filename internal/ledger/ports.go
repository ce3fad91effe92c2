// Package ledger declares the storage ports used by the analytics engine.
//
// Reader is the read-only view over the transaction ledger; the remaining
// interfaces cover the tables the engine owns. Implementations live in
// ledger/memory, storage (SQLite) and storage/postgres.
package ledger

import (
	"context"

	"finlens/internal/core"
)

// AllUsers selects every user in queries that accept an optional user id.
const AllUsers = ""

type (
	// Reader aggregates raw transactions.
	Reader interface {
		// SumByDay returns per-day income and expense ordered by user then day.
		SumByDay(ctx context.Context, userID string, r core.DateRange) ([]core.DailySum, error)
		// SumByMonthCategory groups by user, month and category.
		SumByMonthCategory(ctx context.Context, userID string) ([]core.MonthCategorySum, error)
		// SumByMonth returns one row per month with activity in r, ascending.
		SumByMonth(ctx context.Context, userID string, r core.DateRange) ([]core.MonthSum, error)
		FilteredTotals(ctx context.Context, userID string, f core.Filters) (core.Totals, error)
		// Average is the mean transaction amount under f, zero when nothing matches.
		Average(ctx context.Context, userID string, f core.Filters) (core.Money, error)
		// TopCategoriesByExpense sums expense per category name, highest first.
		TopCategoriesByExpense(ctx context.Context, userID string, f core.Filters, limit int) ([]core.CategoryTotal, error)
		// MaxByType returns the largest transaction of type t, ignoring any filter.
		MaxByType(ctx context.Context, userID string, t core.TxType) (core.Transaction, bool, error)
		Categories(ctx context.Context, userID string) ([]core.Category, error)
	}

	RollupStore interface {
		// UpsertWeekly replaces rows keyed by (user, week start) and returns the number written.
		UpsertWeekly(ctx context.Context, rows []core.WeeklyRollup) (int, error)
		// UpsertMonthly replaces rows keyed by (user, month, category). UpdatedAt
		// is only moved forward when the totals change.
		UpsertMonthly(ctx context.Context, rows []core.MonthlyRollup) (int, error)
		WeeklyRollups(ctx context.Context, userID string, r core.DateRange) ([]core.WeeklyRollup, error)
		MonthlyRollups(ctx context.Context, userID string, r core.DateRange) ([]core.MonthlyRollup, error)
	}

	RuleStore interface {
		// Rules returns a user's rules ordered by priority then creation time.
		Rules(ctx context.Context, userID string) ([]core.CategoryRule, error)
		CreateRule(ctx context.Context, r core.CategoryRule) (core.CategoryRule, error)
		DeleteRule(ctx context.Context, userID, id string) error
	}

	SalaryStore interface {
		// SalaryAtOrBefore returns the latest salary recorded for month or earlier.
		SalaryAtOrBefore(ctx context.Context, userID string, month core.Date) (core.MonthlySalary, bool, error)
		UpsertSalary(ctx context.Context, s core.MonthlySalary) (core.MonthlySalary, error)
	}

	// Store is everything a backend provides.
	Store interface {
		Reader
		RollupStore
		RuleStore
		SalaryStore
		Close() error
	}
)

// Package storage implements the ledger ports on SQLite.
//
// Amounts are stored as integer cents and dates as YYYY-MM-DD text so that
// lexical order is calendar order. Timestamps use a fixed-width UTC layout
// for the same reason.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finlens/internal/core"
	"finlens/internal/ledger"

	_ "modernc.org/sqlite"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

var _ ledger.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite store opened", "path", dbPath)
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// AddTransaction inserts a ledger row. The ledger is owned by the CRUD layer;
// this exists for seeding and tests.
func (r *SQLiteRepository) AddTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, insertTransaction,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.Cents, tx.CategoryID,
		tx.Date.String(), tx.Note, tx.PaymentMethod)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return tx.ID, nil
}

// AddCategory inserts or replaces a category.
func (r *SQLiteRepository) AddCategory(ctx context.Context, c core.Category) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	typ := c.Type
	if typ == "" {
		typ = core.Expense
	}
	_, err := r.db.ExecContext(ctx, upsertCategory, c.ID, c.UserID, c.Name, string(typ), c.Budget.Cents)
	if err != nil {
		return "", fmt.Errorf("insert category: %w", err)
	}
	return c.ID, nil
}

func (r *SQLiteRepository) SumByDay(ctx context.Context, userID string, rng core.DateRange) ([]core.DailySum, error) {
	rows, err := r.db.QueryContext(ctx, sumByDay, userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("query daily sums: %w", err)
	}
	defer rows.Close()

	var out []core.DailySum
	for rows.Next() {
		var (
			d    core.DailySum
			day  string
			inc  int64
			expn int64
		)
		if err := rows.Scan(&d.UserID, &day, &inc, &expn); err != nil {
			return nil, fmt.Errorf("scan daily sum: %w", err)
		}
		if d.Day, err = core.ParseDay(day); err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		d.Income, d.Expense = core.Cents(inc), core.Cents(expn)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SumByMonthCategory(ctx context.Context, userID string) ([]core.MonthCategorySum, error) {
	rows, err := r.db.QueryContext(ctx, sumByMonthCategory, userID)
	if err != nil {
		return nil, fmt.Errorf("query month category sums: %w", err)
	}
	defer rows.Close()

	var out []core.MonthCategorySum
	for rows.Next() {
		var (
			s     core.MonthCategorySum
			month string
			inc   int64
			expn  int64
		)
		if err := rows.Scan(&s.UserID, &month, &s.CategoryID, &inc, &expn, &s.Count); err != nil {
			return nil, fmt.Errorf("scan month category sum: %w", err)
		}
		if s.Month, err = core.ParseMonth(month); err != nil {
			return nil, err
		}
		s.Income, s.Expense = core.Cents(inc), core.Cents(expn)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SumByMonth(ctx context.Context, userID string, rng core.DateRange) ([]core.MonthSum, error) {
	rows, err := r.db.QueryContext(ctx, sumByMonth, userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("query monthly sums: %w", err)
	}
	defer rows.Close()

	var out []core.MonthSum
	for rows.Next() {
		var (
			s     core.MonthSum
			month string
			inc   int64
			expn  int64
		)
		if err := rows.Scan(&month, &inc, &expn); err != nil {
			return nil, fmt.Errorf("scan monthly sum: %w", err)
		}
		if s.Month, err = core.ParseMonth(month); err != nil {
			return nil, err
		}
		s.Income, s.Expense = core.Cents(inc), core.Cents(expn)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) FilteredTotals(ctx context.Context, userID string, f core.Filters) (core.Totals, error) {
	where, args := filterClause("", userID, f)
	var inc, expn int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions WHERE `+where, args...).Scan(&inc, &expn)
	if err != nil {
		return core.Totals{}, fmt.Errorf("query filtered totals: %w", err)
	}
	return core.Totals{Income: core.Cents(inc), Expense: core.Cents(expn)}, nil
}

func (r *SQLiteRepository) Average(ctx context.Context, userID string, f core.Filters) (core.Money, error) {
	where, args := filterClause("", userID, f)
	var n, sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_cents), 0) FROM transactions WHERE `+where, args...).Scan(&n, &sum)
	if err != nil {
		return core.Money{}, fmt.Errorf("query average: %w", err)
	}
	if n == 0 {
		return core.Money{}, nil
	}
	return core.MoneyFromDecimal(decimal.New(sum, -2).Div(decimal.NewFromInt(n))), nil
}

func (r *SQLiteRepository) TopCategoriesByExpense(ctx context.Context, userID string, f core.Filters, limit int) ([]core.CategoryTotal, error) {
	where, args := filterClause("t.", userID, f)
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(c.name, ''), '`+core.UncategorizedName+`') AS name,
		       SUM(t.amount_cents) AS value
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.type = 'expense' AND `+where+`
		GROUP BY name
		HAVING value > 0
		ORDER BY value DESC, name ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query top categories: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryTotal
	for rows.Next() {
		var (
			c     core.CategoryTotal
			cents int64
		)
		if err := rows.Scan(&c.Name, &cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		c.Value = core.Cents(cents)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MaxByType(ctx context.Context, userID string, t core.TxType) (core.Transaction, bool, error) {
	row := r.db.QueryRowContext(ctx, maxByType, userID, string(t))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("query largest %s: %w", t, err)
	}
	return tx, true, nil
}

func (r *SQLiteRepository) Categories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, listCategories, userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			c      core.Category
			typ    string
			budget int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &typ, &budget); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Type, c.Budget = core.TxType(typ), core.Cents(budget)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpsertWeekly(ctx context.Context, rows []core.WeeklyRollup) (int, error) {
	return r.inTx(ctx, upsertWeekly, len(rows), func(stmt *sql.Stmt, i int) error {
		w := rows[i]
		_, err := stmt.ExecContext(ctx, newID(w.ID), w.UserID, w.WeekStart.String(),
			w.IncomeTotal.Cents, w.ExpenseTotal.Cents, w.Balance.Cents)
		return err
	})
}

func (r *SQLiteRepository) UpsertMonthly(ctx context.Context, rows []core.MonthlyRollup) (int, error) {
	return r.inTx(ctx, upsertMonthly, len(rows), func(stmt *sql.Stmt, i int) error {
		m := rows[i]
		_, err := stmt.ExecContext(ctx, newID(m.ID), m.UserID, m.Month.MonthStart().String(), m.CategoryID,
			m.TotalIncome.Cents, m.TotalExpense.Cents, m.TxCount, m.UpdatedAt.UTC().Format(timestampLayout))
		return err
	})
}

func (r *SQLiteRepository) WeeklyRollups(ctx context.Context, userID string, rng core.DateRange) ([]core.WeeklyRollup, error) {
	rows, err := r.db.QueryContext(ctx, listWeekly, userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("query weekly rollups: %w", err)
	}
	defer rows.Close()

	var out []core.WeeklyRollup
	for rows.Next() {
		var (
			w              core.WeeklyRollup
			week           string
			inc, expn, bal int64
		)
		if err := rows.Scan(&w.ID, &w.UserID, &week, &inc, &expn, &bal); err != nil {
			return nil, fmt.Errorf("scan weekly rollup: %w", err)
		}
		if w.WeekStart, err = core.ParseDay(week); err != nil {
			return nil, err
		}
		w.IncomeTotal, w.ExpenseTotal, w.Balance = core.Cents(inc), core.Cents(expn), core.Cents(bal)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MonthlyRollups(ctx context.Context, userID string, rng core.DateRange) ([]core.MonthlyRollup, error) {
	rows, err := r.db.QueryContext(ctx, listMonthly, userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("query monthly rollups: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyRollup
	for rows.Next() {
		var (
			m              core.MonthlyRollup
			month, updated string
			inc, expn      int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &month, &m.CategoryID, &inc, &expn, &m.TxCount, &updated); err != nil {
			return nil, fmt.Errorf("scan monthly rollup: %w", err)
		}
		if m.Month, err = core.ParseMonth(month); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = time.Parse(timestampLayout, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at %q: %w", updated, err)
		}
		m.TotalIncome, m.TotalExpense = core.Cents(inc), core.Cents(expn)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Rules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	rows, err := r.db.QueryContext(ctx, listRules, userID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryRule
	for rows.Next() {
		var (
			rule    core.CategoryRule
			created string
		)
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.CategoryID, &rule.Pattern,
			&rule.IsRegex, &rule.Priority, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if rule.CreatedAt, err = time.Parse(timestampLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.CategoryRule) (core.CategoryRule, error) {
	if err := rule.Validate(); err != nil {
		return core.CategoryRule{}, err
	}
	rule.ID = newID(rule.ID)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = r.now()
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	_, err := r.db.ExecContext(ctx, insertRule, rule.ID, rule.UserID, rule.CategoryID, rule.Pattern,
		rule.IsRegex, rule.Priority, rule.CreatedAt.Format(timestampLayout))
	if err != nil {
		return core.CategoryRule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, deleteRule, id, userID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) SalaryAtOrBefore(ctx context.Context, userID string, month core.Date) (core.MonthlySalary, bool, error) {
	var (
		s     core.MonthlySalary
		m     string
		cents int64
	)
	err := r.db.QueryRowContext(ctx, salaryAtOrBefore, userID, month.MonthStart().String()).
		Scan(&s.ID, &s.UserID, &m, &cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlySalary{}, false, nil
	}
	if err != nil {
		return core.MonthlySalary{}, false, fmt.Errorf("query salary: %w", err)
	}
	if s.Month, err = core.ParseMonth(m); err != nil {
		return core.MonthlySalary{}, false, err
	}
	s.Amount = core.Cents(cents)
	return s, true, nil
}

func (r *SQLiteRepository) UpsertSalary(ctx context.Context, s core.MonthlySalary) (core.MonthlySalary, error) {
	if err := s.Validate(); err != nil {
		return core.MonthlySalary{}, err
	}
	s.Month = s.Month.MonthStart()
	err := r.db.QueryRowContext(ctx, upsertSalary, newID(s.ID), s.UserID, s.Month.String(), s.Amount.Cents).Scan(&s.ID)
	if err != nil {
		return core.MonthlySalary{}, fmt.Errorf("upsert salary: %w", err)
	}
	return s, nil
}

// inTx prepares query once and runs exec for each of n rows in a single
// transaction. Either every row of the batch lands or none does.
func (r *SQLiteRepository) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) (int, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return 0, fmt.Errorf("exec row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx    core.Transaction
		typ   string
		cents int64
		date  string
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &typ, &cents, &tx.CategoryID, &date, &tx.Note, &tx.PaymentMethod); err != nil {
		return core.Transaction{}, err
	}
	d, err := core.ParseDay(date)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type, tx.Amount, tx.Date = core.TxType(typ), core.Cents(cents), d
	return tx, nil
}

// filterClause renders the KPI filters as a WHERE fragment. Absent filters
// add nothing, so an empty Filters only restricts by user.
func filterClause(alias, userID string, f core.Filters) (string, []any) {
	clauses := []string{alias + "user_id = ?"}
	args := []any{userID}
	if !f.Range.Start.IsZero() {
		clauses = append(clauses, alias+"date >= ?")
		args = append(args, f.Range.Start.String())
	}
	if !f.Range.End.IsZero() {
		clauses = append(clauses, alias+"date <= ?")
		args = append(args, f.Range.End.String())
	}
	if f.Type != "" {
		clauses = append(clauses, alias+"type = ?")
		args = append(args, string(f.Type))
	}
	if f.CategoryID != "" {
		clauses = append(clauses, alias+"category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.PaymentMethod != "" {
		clauses = append(clauses, alias+"payment_method = ?")
		args = append(args, f.PaymentMethod)
	}
	return strings.Join(clauses, " AND "), args
}

func dateArg(d core.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Package postgres implements the ledger ports on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

var _ ledger.Store = (*Repository)(nil)

// Config holds the PostgreSQL connection settings.
type Config struct {
	// DSN overrides the individual fields when set.
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// ConnString renders the configuration as a postgres:// URL.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects, pings and migrates.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	connStr := cfg.ConnString()
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if cfg.MaxPoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := RunMigrations(connStr); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.InfoContext(ctx, "Connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)

	return &Repository{pool: pool, now: time.Now}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// AddTransaction inserts a ledger row for seeding and tests.
func (r *Repository) AddTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	id := newID(tx.ID)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, category_id, date, note, payment_method)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8)`,
		id, tx.UserID, string(tx.Type), tx.Amount.String(), tx.CategoryID, tx.Date.Time, tx.Note, tx.PaymentMethod)
	if err != nil {
		return "", fmt.Errorf("inserting transaction: %w", err)
	}
	return id, nil
}

func (r *Repository) AddCategory(ctx context.Context, c core.Category) (string, error) {
	id := newID(c.ID)
	typ := c.Type
	if typ == "" {
		typ = core.Expense
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO categories (id, user_id, name, type, budget)
		VALUES ($1, $2, $3, $4, $5::text::numeric)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, budget = EXCLUDED.budget`,
		id, c.UserID, c.Name, string(typ), c.Budget.String())
	if err != nil {
		return "", fmt.Errorf("inserting category: %w", err)
	}
	return id, nil
}

func (r *Repository) SumByDay(ctx context.Context, userID string, rng core.DateRange) ([]core.DailySum, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, date,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)::text
		FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		GROUP BY user_id, date
		ORDER BY user_id, date`,
		userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("querying daily sums: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.DailySum, error) {
		var (
			d         core.DailySum
			day       time.Time
			inc, expn string
		)
		if err := row.Scan(&d.UserID, &day, &inc, &expn); err != nil {
			return d, err
		}
		d.Day = core.DateOf(day)
		return d, parseAmounts([]string{inc, expn}, &d.Income, &d.Expense)
	})
}

func (r *Repository) SumByMonthCategory(ctx context.Context, userID string) ([]core.MonthCategorySum, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, date_trunc('month', date)::date AS month, category_id,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)::text,
		       COUNT(*)
		FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		GROUP BY user_id, month, category_id
		ORDER BY user_id, month, category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying month category sums: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MonthCategorySum, error) {
		var (
			s         core.MonthCategorySum
			month     time.Time
			inc, expn string
			count     int64
		)
		if err := row.Scan(&s.UserID, &month, &s.CategoryID, &inc, &expn, &count); err != nil {
			return s, err
		}
		s.Month, s.Count = core.DateOf(month), int(count)
		return s, parseAmounts([]string{inc, expn}, &s.Income, &s.Expense)
	})
}

func (r *Repository) SumByMonth(ctx context.Context, userID string, rng core.DateRange) ([]core.MonthSum, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc('month', date)::date AS month,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)::text
		FROM transactions
		WHERE user_id = $1
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		GROUP BY month
		ORDER BY month`,
		userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("querying monthly sums: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MonthSum, error) {
		var (
			s         core.MonthSum
			month     time.Time
			inc, expn string
		)
		if err := row.Scan(&month, &inc, &expn); err != nil {
			return s, err
		}
		s.Month = core.DateOf(month)
		return s, parseAmounts([]string{inc, expn}, &s.Income, &s.Expense)
	})
}

func (r *Repository) FilteredTotals(ctx context.Context, userID string, f core.Filters) (core.Totals, error) {
	where, args := filterClause("", userID, f)
	var inc, expn string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE type = 'income'), 0)::text,
		       COALESCE(SUM(amount) FILTER (WHERE type = 'expense'), 0)::text
		FROM transactions WHERE `+where, args...).Scan(&inc, &expn)
	if err != nil {
		return core.Totals{}, fmt.Errorf("querying filtered totals: %w", err)
	}
	var t core.Totals
	return t, parseAmounts([]string{inc, expn}, &t.Income, &t.Expense)
}

func (r *Repository) Average(ctx context.Context, userID string, f core.Filters) (core.Money, error) {
	where, args := filterClause("", userID, f)
	var avg string
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(amount), 0)::text FROM transactions WHERE `+where, args...).Scan(&avg)
	if err != nil {
		return core.Money{}, fmt.Errorf("querying average: %w", err)
	}
	d, err := decimal.NewFromString(avg)
	if err != nil {
		return core.Money{}, fmt.Errorf("parsing average %q: %w", avg, err)
	}
	return core.MoneyFromDecimal(d), nil
}

func (r *Repository) TopCategoriesByExpense(ctx context.Context, userID string, f core.Filters, limit int) ([]core.CategoryTotal, error) {
	where, args := filterClause("t.", userID, f)
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(NULLIF(c.name, ''), '`+core.UncategorizedName+`') AS name,
		       SUM(t.amount)::text
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.type = 'expense' AND `+where+`
		GROUP BY 1
		HAVING SUM(t.amount) > 0
		ORDER BY SUM(t.amount) DESC, name ASC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("querying top categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CategoryTotal, error) {
		var (
			c   core.CategoryTotal
			val string
		)
		if err := row.Scan(&c.Name, &val); err != nil {
			return c, err
		}
		return c, parseAmounts([]string{val}, &c.Value)
	})
}

func (r *Repository) MaxByType(ctx context.Context, userID string, t core.TxType) (core.Transaction, bool, error) {
	var (
		tx     core.Transaction
		typ    string
		amount string
		date   time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, type, amount::text, category_id, date, note, payment_method
		FROM transactions
		WHERE user_id = $1 AND type = $2
		ORDER BY amount DESC, date ASC, id ASC
		LIMIT 1`, userID, string(t)).
		Scan(&tx.ID, &tx.UserID, &typ, &amount, &tx.CategoryID, &date, &tx.Note, &tx.PaymentMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("querying largest %s: %w", t, err)
	}
	tx.Type, tx.Date = core.TxType(typ), core.DateOf(date)
	if err := parseAmounts([]string{amount}, &tx.Amount); err != nil {
		return core.Transaction{}, false, err
	}
	return tx, true, nil
}

func (r *Repository) Categories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, type, budget::text
		FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Category, error) {
		var (
			c           core.Category
			typ, budget string
		)
		if err := row.Scan(&c.ID, &c.UserID, &c.Name, &typ, &budget); err != nil {
			return c, err
		}
		c.Type = core.TxType(typ)
		return c, parseAmounts([]string{budget}, &c.Budget)
	})
}

func (r *Repository) UpsertWeekly(ctx context.Context, rows []core.WeeklyRollup) (int, error) {
	batch := &pgx.Batch{}
	for _, w := range rows {
		batch.Queue(`
			INSERT INTO weekly_rollups (id, user_id, week_start, income_total, expense_total, balance)
			VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric)
			ON CONFLICT (user_id, week_start) DO UPDATE SET
				income_total = EXCLUDED.income_total,
				expense_total = EXCLUDED.expense_total,
				balance = EXCLUDED.balance`,
			newID(w.ID), w.UserID, w.WeekStart.Time,
			w.IncomeTotal.String(), w.ExpenseTotal.String(), w.Balance.String())
	}
	return r.sendBatch(ctx, batch)
}

func (r *Repository) UpsertMonthly(ctx context.Context, rows []core.MonthlyRollup) (int, error) {
	batch := &pgx.Batch{}
	for _, m := range rows {
		batch.Queue(`
			INSERT INTO monthly_rollups (id, user_id, month, category_id, total_income, total_expense, tx_count, updated_at)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
			ON CONFLICT (user_id, month, category_id) DO UPDATE SET
				updated_at = CASE
					WHEN monthly_rollups.total_income = EXCLUDED.total_income
					 AND monthly_rollups.total_expense = EXCLUDED.total_expense
					 AND monthly_rollups.tx_count = EXCLUDED.tx_count
					THEN monthly_rollups.updated_at
					ELSE EXCLUDED.updated_at
				END,
				total_income = EXCLUDED.total_income,
				total_expense = EXCLUDED.total_expense,
				tx_count = EXCLUDED.tx_count`,
			newID(m.ID), m.UserID, m.Month.MonthStart().Time, m.CategoryID,
			m.TotalIncome.String(), m.TotalExpense.String(), m.TxCount, m.UpdatedAt.UTC())
	}
	return r.sendBatch(ctx, batch)
}

func (r *Repository) WeeklyRollups(ctx context.Context, userID string, rng core.DateRange) ([]core.WeeklyRollup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, week_start, income_total::text, expense_total::text, balance::text
		FROM weekly_rollups
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2::date IS NULL OR week_start >= $2)
		  AND ($3::date IS NULL OR week_start <= $3)
		ORDER BY week_start, user_id`,
		userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("querying weekly rollups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.WeeklyRollup, error) {
		var (
			w              core.WeeklyRollup
			week           time.Time
			inc, expn, bal string
		)
		if err := row.Scan(&w.ID, &w.UserID, &week, &inc, &expn, &bal); err != nil {
			return w, err
		}
		w.WeekStart = core.DateOf(week)
		return w, parseAmounts([]string{inc, expn, bal}, &w.IncomeTotal, &w.ExpenseTotal, &w.Balance)
	})
}

func (r *Repository) MonthlyRollups(ctx context.Context, userID string, rng core.DateRange) ([]core.MonthlyRollup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, month, category_id, total_income::text, total_expense::text, tx_count, updated_at
		FROM monthly_rollups
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2::date IS NULL OR month >= $2)
		  AND ($3::date IS NULL OR month <= $3)
		ORDER BY user_id, month, category_id`,
		userID, dateArg(rng.Start), dateArg(rng.End))
	if err != nil {
		return nil, fmt.Errorf("querying monthly rollups: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.MonthlyRollup, error) {
		var (
			m         core.MonthlyRollup
			month     time.Time
			inc, expn string
			count     int32
		)
		if err := row.Scan(&m.ID, &m.UserID, &month, &m.CategoryID, &inc, &expn, &count, &m.UpdatedAt); err != nil {
			return m, err
		}
		m.Month, m.TxCount, m.UpdatedAt = core.DateOf(month), int(count), m.UpdatedAt.UTC()
		return m, parseAmounts([]string{inc, expn}, &m.TotalIncome, &m.TotalExpense)
	})
}

func (r *Repository) Rules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, category_id, pattern, is_regex, priority, created_at
		FROM category_rules
		WHERE user_id = $1
		ORDER BY priority ASC, created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CategoryRule, error) {
		var (
			rule     core.CategoryRule
			priority int32
		)
		err := row.Scan(&rule.ID, &rule.UserID, &rule.CategoryID, &rule.Pattern, &rule.IsRegex, &priority, &rule.CreatedAt)
		rule.Priority, rule.CreatedAt = int(priority), rule.CreatedAt.UTC()
		return rule, err
	})
}

func (r *Repository) CreateRule(ctx context.Context, rule core.CategoryRule) (core.CategoryRule, error) {
	if err := rule.Validate(); err != nil {
		return core.CategoryRule{}, err
	}
	rule.ID = newID(rule.ID)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = r.now()
	}
	// Postgres keeps microseconds; truncate so the returned value matches a re-read.
	rule.CreatedAt = rule.CreatedAt.UTC().Truncate(time.Microsecond)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO category_rules (id, user_id, category_id, pattern, is_regex, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rule.ID, rule.UserID, rule.CategoryID, rule.Pattern, rule.IsRegex, rule.Priority, rule.CreatedAt)
	if err != nil {
		return core.CategoryRule{}, fmt.Errorf("inserting rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) DeleteRule(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM category_rules WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *Repository) SalaryAtOrBefore(ctx context.Context, userID string, month core.Date) (core.MonthlySalary, bool, error) {
	var (
		s      core.MonthlySalary
		m      time.Time
		amount string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, month, amount::text
		FROM monthly_salary
		WHERE user_id = $1 AND month <= $2
		ORDER BY month DESC
		LIMIT 1`, userID, month.MonthStart().Time).Scan(&s.ID, &s.UserID, &m, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.MonthlySalary{}, false, nil
	}
	if err != nil {
		return core.MonthlySalary{}, false, fmt.Errorf("querying salary: %w", err)
	}
	s.Month = core.DateOf(m)
	if err := parseAmounts([]string{amount}, &s.Amount); err != nil {
		return core.MonthlySalary{}, false, err
	}
	return s, true, nil
}

func (r *Repository) UpsertSalary(ctx context.Context, s core.MonthlySalary) (core.MonthlySalary, error) {
	if err := s.Validate(); err != nil {
		return core.MonthlySalary{}, err
	}
	s.Month = s.Month.MonthStart()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO monthly_salary (id, user_id, month, amount)
		VALUES ($1, $2, $3, $4::text::numeric)
		ON CONFLICT (user_id, month) DO UPDATE SET amount = EXCLUDED.amount
		RETURNING id`,
		newID(s.ID), s.UserID, s.Month.Time, s.Amount.String()).Scan(&s.ID)
	if err != nil {
		return core.MonthlySalary{}, fmt.Errorf("upserting salary: %w", err)
	}
	return s, nil
}

// sendBatch runs every queued statement inside one transaction.
func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) (int, error) {
	n := batch.Len()
	if n == 0 {
		return 0, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return 0, fmt.Errorf("executing batch row %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return n, nil
}

// filterClause renders the KPI filters with numbered placeholders.
func filterClause(alias, userID string, f core.Filters) (string, []any) {
	args := []any{userID}
	clauses := []string{alias + "user_id = $1"}
	add := func(cond string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s%s $%d", alias, cond, len(args)))
	}
	if !f.Range.Start.IsZero() {
		add("date >=", f.Range.Start.Time)
	}
	if !f.Range.End.IsZero() {
		add("date <=", f.Range.End.Time)
	}
	if f.Type != "" {
		add("type =", string(f.Type))
	}
	if f.CategoryID != "" {
		add("category_id =", f.CategoryID)
	}
	if f.PaymentMethod != "" {
		add("payment_method =", f.PaymentMethod)
	}
	return strings.Join(clauses, " AND "), args
}

func parseAmounts(raw []string, dst ...*core.Money) error {
	for i, s := range raw {
		m, err := core.ParseMoney(s)
		if err != nil {
			return fmt.Errorf("parsing amount %q: %w", s, err)
		}
		*dst[i] = m
	}
	return nil
}

func dateArg(d core.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	return &d.Time
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

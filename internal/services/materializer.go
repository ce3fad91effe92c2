package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

// DefaultBatchSize is the number of rollup rows written per upsert call.
const DefaultBatchSize = 500

// MaterializerConfig holds configuration for the rollup materializer
type MaterializerConfig struct {
	// BatchSize bounds each upsert call (default: 500)
	BatchSize int
}

// RollupSink receives the monthly rows after a successful pass.
type RollupSink interface {
	MirrorMonthly(ctx context.Context, rows []core.MonthlyRollup) error
}

// MaterializeResult reports how many rows one pass wrote.
type MaterializeResult struct {
	WeeklyRows  int           `json:"weeklyRows"`
	MonthlyRows int           `json:"monthlyRows"`
	Duration    time.Duration `json:"-"`
}

// Total is the number of rows written across both tables.
func (r MaterializeResult) Total() int {
	return r.WeeklyRows + r.MonthlyRows
}

// Materializer recomputes weekly and monthly rollups from the full ledger.
// Every row is a complete replace, so overlapping runs converge.
type Materializer struct {
	ledger  ledger.Reader
	rollups ledger.RollupStore
	sink    RollupSink
	config  MaterializerConfig
	now     func() time.Time
}

func NewMaterializer(reader ledger.Reader, rollups ledger.RollupStore, config MaterializerConfig) *Materializer {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Materializer{
		ledger:  reader,
		rollups: rollups,
		config:  config,
		now:     time.Now,
	}
}

// WithSink attaches a best-effort mirror for monthly rows.
func (m *Materializer) WithSink(sink RollupSink) *Materializer {
	m.sink = sink
	return m
}

// Run performs one materialization pass. An empty userID covers every user.
// The weekly and monthly sub-passes run concurrently; if either fails the
// error is returned and rows already committed are left as they were.
func (m *Materializer) Run(ctx context.Context, userID string) (MaterializeResult, error) {
	if m.ledger == nil || m.rollups == nil {
		return MaterializeResult{}, fmt.Errorf("materializer not properly initialized")
	}
	start := m.now()
	var res MaterializeResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := m.weeklyPass(gctx, userID)
		res.WeeklyRows = n
		return err
	})
	g.Go(func() error {
		n, err := m.monthlyPass(gctx, userID, start)
		res.MonthlyRows = n
		return err
	})
	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "Rollup materialization failed",
			"user_id", userID,
			"error", err)
		return res, err
	}
	res.Duration = m.now().Sub(start)

	slog.InfoContext(ctx, "Rollup materialization completed",
		"user_id", userID,
		"weekly_rows", res.WeeklyRows,
		"monthly_rows", res.MonthlyRows,
		"duration_ms", res.Duration.Milliseconds())

	if m.sink != nil {
		m.mirror(ctx)
	}
	return res, nil
}

// mirror hands the sink every stored monthly row. The sink replaces its
// whole copy, so a user-scoped pass must still send all users.
func (m *Materializer) mirror(ctx context.Context) {
	rows, err := m.rollups.MonthlyRollups(ctx, ledger.AllUsers, core.DateRange{})
	if err != nil {
		slog.WarnContext(ctx, "Failed to read monthly rollups for mirror", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	if err := m.sink.MirrorMonthly(ctx, rows); err != nil {
		slog.WarnContext(ctx, "Failed to mirror monthly rollups", "error", err)
	}
}

func (m *Materializer) weeklyPass(ctx context.Context, userID string) (int, error) {
	days, err := m.ledger.SumByDay(ctx, userID, core.DateRange{})
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger by day: %w", err)
	}
	rows := BuildWeekly(days)
	written := 0
	for _, batch := range chunk(rows, m.config.BatchSize) {
		n, err := m.rollups.UpsertWeekly(ctx, batch)
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to upsert weekly rollups: %w", err)
		}
	}
	return written, nil
}

func (m *Materializer) monthlyPass(ctx context.Context, userID string, now time.Time) (int, error) {
	sums, err := m.ledger.SumByMonthCategory(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger by month and category: %w", err)
	}
	rows := BuildMonthly(sums, now)
	written := 0
	for i, batch := range chunk(rows, m.config.BatchSize) {
		n, err := m.rollups.UpsertMonthly(ctx, batch)
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to upsert monthly batch %d: %w", i, err)
		}
		slog.DebugContext(ctx, "Monthly rollup batch written", "batch", i, "rows", n)
	}
	return written, nil
}

// BuildWeekly folds day-level sums into one row per (user, Monday).
// Output is ordered by user, then week start.
func BuildWeekly(days []core.DailySum) []core.WeeklyRollup {
	idx := make(map[string]int)
	var out []core.WeeklyRollup
	for _, d := range days {
		week := d.Day.MondayOf()
		key := d.UserID + "|" + week.String()
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, core.WeeklyRollup{UserID: d.UserID, WeekStart: week})
		}
		out[i].IncomeTotal = out[i].IncomeTotal.Add(d.Income)
		out[i].ExpenseTotal = out[i].ExpenseTotal.Add(d.Expense)
	}
	for i := range out {
		out[i].Balance = out[i].IncomeTotal.Sub(out[i].ExpenseTotal)
	}
	sortWeekly(out)
	return out
}

// BuildMonthly maps grouped ledger sums onto monthly rollup rows stamped
// with now.
func BuildMonthly(sums []core.MonthCategorySum, now time.Time) []core.MonthlyRollup {
	out := make([]core.MonthlyRollup, 0, len(sums))
	for _, s := range sums {
		out = append(out, core.MonthlyRollup{
			UserID:       s.UserID,
			Month:        s.Month.MonthStart(),
			CategoryID:   s.CategoryID,
			TotalIncome:  s.Income,
			TotalExpense: s.Expense,
			TxCount:      s.Count,
			UpdatedAt:    now.UTC(),
		})
	}
	return out
}

func sortWeekly(rows []core.WeeklyRollup) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		return rows[i].WeekStart.Before(rows[j].WeekStart)
	})
}

func chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

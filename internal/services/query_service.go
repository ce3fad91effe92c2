package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

const (
	// TopCategoryLimit caps the KPI category breakdown.
	TopCategoryLimit = 10
	// defaultWaterfallMonths is the window used when no start month is given.
	defaultWaterfallMonths = 6
	// maxWaterfallMonths bounds the month walk for a single request.
	maxWaterfallMonths = 240
)

type (
	// HeatmapPoint encodes as a [date, value] pair.
	HeatmapPoint struct {
		Date  core.Date
		Value core.Money
	}

	Heatmap struct {
		Year int            `json:"year"`
		Data []HeatmapPoint `json:"data"`
	}

	Waterfall struct {
		Months  []string     `json:"months"`
		Income  []core.Money `json:"income"`
		Expense []core.Money `json:"expense"`
		Net     []core.Money `json:"net"`
	}

	KPITotals struct {
		Income  core.Money `json:"income"`
		Expense core.Money `json:"expense"`
	}

	TransactionView struct {
		ID            string     `json:"id"`
		Type          string     `json:"type"`
		Amount        core.Money `json:"amount"`
		CategoryID    string     `json:"categoryId,omitempty"`
		Date          core.Date  `json:"date"`
		Note          string     `json:"note,omitempty"`
		PaymentMethod string     `json:"paymentMethod,omitempty"`
	}

	CategoryShare struct {
		Name  string     `json:"name"`
		Value core.Money `json:"value"`
	}

	KPI struct {
		Totals               KPITotals        `json:"totals"`
		Balance              core.Money       `json:"balance"`
		Average              core.Money       `json:"average"`
		LargestIncome        *TransactionView `json:"largestIncome"`
		LargestExpense       *TransactionView `json:"largestExpense"`
		TopExpenseCategories []CategoryShare  `json:"topExpenseCategories"`
	}

	// RollupSeries is the weekly rollup table laid out column by column.
	RollupSeries struct {
		Weeks   []string     `json:"weeks"`
		Income  []core.Money `json:"income"`
		Expense []core.Money `json:"expense"`
		Balance []core.Money `json:"balance"`
	}
)

func (p HeatmapPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Date.String(), p.Value})
}

// QueryService serves time-series views over the ledger and rollup tables.
type QueryService struct {
	ledger  ledger.Reader
	rollups ledger.RollupStore
	now     func() time.Time
}

func NewQueryService(reader ledger.Reader, rollups ledger.RollupStore) *QueryService {
	return &QueryService{ledger: reader, rollups: rollups, now: time.Now}
}

// Heatmap returns one point per day of year with expense above zero.
// A zero year means the current year.
func (s *QueryService) Heatmap(ctx context.Context, userID string, year int) (Heatmap, error) {
	if userID == "" {
		return Heatmap{}, core.ErrMissingUser
	}
	if year == 0 {
		year = s.now().Year()
	}
	if year < 1 || year > 9999 {
		return Heatmap{}, core.ErrInvalidYear
	}
	days, err := s.ledger.SumByDay(ctx, userID, core.Year(year))
	if err != nil {
		return Heatmap{}, fmt.Errorf("failed to sum expenses by day: %w", err)
	}
	out := Heatmap{Year: year, Data: []HeatmapPoint{}}
	for _, d := range days {
		if d.Expense.IsPositive() {
			out.Data = append(out.Data, HeatmapPoint{Date: d.Day, Value: d.Expense})
		}
	}
	return out, nil
}

// Waterfall returns a dense month-by-month series between start and end
// inclusive. A zero end means the current month and a zero start means
// five months before end.
func (s *QueryService) Waterfall(ctx context.Context, userID string, start, end core.Date) (Waterfall, error) {
	if userID == "" {
		return Waterfall{}, core.ErrMissingUser
	}
	if end.IsZero() {
		end = core.DateOf(s.now())
	}
	end = end.MonthStart()
	if start.IsZero() {
		start = end.AddMonths(-(defaultWaterfallMonths - 1))
	}
	start = start.MonthStart()
	if start.After(end) {
		return Waterfall{}, core.ErrInvalidRange
	}

	var months []core.Date
	for m := start; !m.After(end); m = m.AddMonths(1) {
		months = append(months, m)
		if len(months) > maxWaterfallMonths {
			return Waterfall{}, fmt.Errorf("%w: window exceeds %d months", core.ErrInvalidRange, maxWaterfallMonths)
		}
	}

	sums, err := s.ledger.SumByMonth(ctx, userID, core.DateRange{Start: start, End: end.MonthEnd()})
	if err != nil {
		return Waterfall{}, fmt.Errorf("failed to sum ledger by month: %w", err)
	}
	byMonth := make(map[string]core.MonthSum, len(sums))
	for _, ms := range sums {
		byMonth[ms.Month.MonthKey()] = ms
	}

	out := Waterfall{
		Months:  make([]string, 0, len(months)),
		Income:  make([]core.Money, 0, len(months)),
		Expense: make([]core.Money, 0, len(months)),
		Net:     make([]core.Money, 0, len(months)),
	}
	for _, m := range months {
		ms := byMonth[m.MonthKey()]
		out.Months = append(out.Months, m.MonthKey())
		out.Income = append(out.Income, ms.Income)
		out.Expense = append(out.Expense, ms.Expense)
		out.Net = append(out.Net, ms.Income.Sub(ms.Expense))
	}
	return out, nil
}

// KPI computes filtered totals and the top expense categories. The largest
// income and expense ignore filters and the category breakdown ignores the
// type filter.
func (s *QueryService) KPI(ctx context.Context, userID string, f core.Filters) (KPI, error) {
	if userID == "" {
		return KPI{}, core.ErrMissingUser
	}
	if err := f.Validate(); err != nil {
		return KPI{}, err
	}

	var (
		totals         core.Totals
		avg            core.Money
		top            []core.CategoryTotal
		largestIncome  *TransactionView
		largestExpense *TransactionView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totals, err = s.ledger.FilteredTotals(gctx, userID, f)
		return err
	})
	g.Go(func() (err error) {
		avg, err = s.ledger.Average(gctx, userID, f)
		return err
	})
	g.Go(func() (err error) {
		top, err = s.ledger.TopCategoriesByExpense(gctx, userID, f.WithoutType(), TopCategoryLimit)
		return err
	})
	g.Go(func() (err error) {
		largestIncome, err = s.largest(gctx, userID, core.Income)
		return err
	})
	g.Go(func() (err error) {
		largestExpense, err = s.largest(gctx, userID, core.Expense)
		return err
	})
	if err := g.Wait(); err != nil {
		return KPI{}, fmt.Errorf("failed to compute kpi: %w", err)
	}

	shares := make([]CategoryShare, 0, len(top))
	for _, c := range top {
		name := c.Name
		if name == "" {
			name = core.UncategorizedName
		}
		shares = append(shares, CategoryShare{Name: name, Value: c.Value})
	}
	return KPI{
		Totals:               KPITotals{Income: totals.Income, Expense: totals.Expense},
		Balance:              totals.Income.Sub(totals.Expense),
		Average:              avg,
		LargestIncome:        largestIncome,
		LargestExpense:       largestExpense,
		TopExpenseCategories: shares,
	}, nil
}

func (s *QueryService) largest(ctx context.Context, userID string, t core.TxType) (*TransactionView, error) {
	tx, ok, err := s.ledger.MaxByType(ctx, userID, t)
	if err != nil || !ok {
		return nil, err
	}
	v := viewOf(tx)
	return &v, nil
}

// WeeklySeries reads the weekly rollup table ordered by week start.
func (s *QueryService) WeeklySeries(ctx context.Context, userID string, r core.DateRange) (RollupSeries, error) {
	if userID == "" {
		return RollupSeries{}, core.ErrMissingUser
	}
	if err := r.Validate(); err != nil {
		return RollupSeries{}, err
	}
	rows, err := s.rollups.WeeklyRollups(ctx, userID, r)
	if err != nil {
		return RollupSeries{}, fmt.Errorf("failed to read weekly rollups: %w", err)
	}
	out := RollupSeries{
		Weeks:   make([]string, 0, len(rows)),
		Income:  make([]core.Money, 0, len(rows)),
		Expense: make([]core.Money, 0, len(rows)),
		Balance: make([]core.Money, 0, len(rows)),
	}
	for _, w := range rows {
		out.Weeks = append(out.Weeks, w.WeekStart.String())
		out.Income = append(out.Income, w.IncomeTotal)
		out.Expense = append(out.Expense, w.ExpenseTotal)
		out.Balance = append(out.Balance, w.Balance)
	}
	return out, nil
}

func viewOf(tx core.Transaction) TransactionView {
	return TransactionView{
		ID:            tx.ID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		CategoryID:    tx.CategoryID,
		Date:          tx.Date,
		Note:          tx.Note,
		PaymentMethod: tx.PaymentMethod,
	}
}

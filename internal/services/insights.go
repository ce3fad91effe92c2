package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

const (
	// unusualFloorCents is the absolute spend a category must exceed before
	// it can be flagged.
	unusualFloorCents = 5000
	// unusualRatioTenths is the required growth over the baseline, in tenths.
	unusualRatioTenths = 13
	spikeThresholdPct  = 30
	spikeWindowMonths  = 3
	topSpikes          = 5
	topBudgets         = 5
)

type (
	IncomeExpense struct {
		Income  core.Money `json:"income"`
		Expense core.Money `json:"expense"`
	}

	CategoryDetail struct {
		CategoryID string     `json:"categoryId"`
		Current    core.Money `json:"current"`
		Previous   core.Money `json:"previous"`
		Diff       core.Money `json:"diff"`
		Pct        float64    `json:"pct"`
		IsUnusual  bool       `json:"isUnusual"`
	}

	MonthlyInsight struct {
		Month           string           `json:"month"`
		Current         IncomeExpense    `json:"current"`
		Previous        IncomeExpense    `json:"previous"`
		Delta           IncomeExpense    `json:"delta"`
		CategoryDetails []CategoryDetail `json:"categoryDetails"`
	}

	Spike struct {
		CategoryID string     `json:"categoryId"`
		Last       core.Money `json:"last"`
		Average    core.Money `json:"average"`
		SpikePct   float64    `json:"spikePct"`
	}

	BudgetProgress struct {
		CategoryID string     `json:"categoryId"`
		Name       string     `json:"name"`
		Spend      core.Money `json:"spend"`
		Budget     core.Money `json:"budget"`
		Percent    float64    `json:"percent"`
	}

	Overview struct {
		Month       string           `json:"month"`
		Income      core.Money       `json:"income"`
		Expense     core.Money       `json:"expense"`
		Savings     core.Money       `json:"savings"`
		SavingsRate float64          `json:"savingsRate"`
		Spikes      []Spike          `json:"spikes"`
		Budgets     []BudgetProgress `json:"budgets"`
	}
)

// InsightService compares monthly rollup snapshots.
type InsightService struct {
	ledger  ledger.Reader
	rollups ledger.RollupStore
}

func NewInsightService(reader ledger.Reader, rollups ledger.RollupStore) *InsightService {
	return &InsightService{ledger: reader, rollups: rollups}
}

// MonthlyInsights compares month with the month before it.
func (s *InsightService) MonthlyInsights(ctx context.Context, userID string, month core.Date) (MonthlyInsight, error) {
	if userID == "" {
		return MonthlyInsight{}, core.ErrMissingUser
	}
	if month.IsZero() {
		return MonthlyInsight{}, core.ErrInvalidMonth
	}
	month = month.MonthStart()
	prev := month.AddMonths(-1)
	rows, err := s.rollups.MonthlyRollups(ctx, userID, core.DateRange{Start: prev, End: month})
	if err != nil {
		return MonthlyInsight{}, fmt.Errorf("failed to read monthly rollups: %w", err)
	}
	var cur, old []core.MonthlyRollup
	for _, r := range rows {
		if r.Month.Equal(month.Time) {
			cur = append(cur, r)
		} else {
			old = append(old, r)
		}
	}
	out := Compare(cur, old)
	out.Month = month.MonthKey()
	return out, nil
}

// Compare computes deltas between two months of rollup rows. Only categories
// present in current produce a detail row, sorted by diff descending.
func Compare(current, previous []core.MonthlyRollup) MonthlyInsight {
	curTotals := totalsOf(current)
	prevTotals := totalsOf(previous)

	prevByCat := make(map[string]core.Money, len(previous))
	for _, r := range previous {
		prevByCat[r.CategoryID] = prevByCat[r.CategoryID].Add(r.TotalExpense)
	}
	curByCat := make(map[string]core.Money, len(current))
	var order []string
	for _, r := range current {
		if _, ok := curByCat[r.CategoryID]; !ok {
			order = append(order, r.CategoryID)
		}
		curByCat[r.CategoryID] = curByCat[r.CategoryID].Add(r.TotalExpense)
	}

	details := make([]CategoryDetail, 0, len(order))
	for _, cat := range order {
		curr, prev := curByCat[cat], prevByCat[cat]
		diff := curr.Sub(prev)
		details = append(details, CategoryDetail{
			CategoryID: cat,
			Current:    curr,
			Previous:   prev,
			Diff:       diff,
			Pct:        changePct(curr, prev),
			IsUnusual:  IsUnusual(curr, prev),
		})
	}
	sort.SliceStable(details, func(i, j int) bool {
		if details[i].Diff != details[j].Diff {
			return details[i].Diff.Cents > details[j].Diff.Cents
		}
		return details[i].CategoryID < details[j].CategoryID
	})

	return MonthlyInsight{
		Current:  curTotals,
		Previous: prevTotals,
		Delta: IncomeExpense{
			Income:  curTotals.Income.Sub(prevTotals.Income),
			Expense: curTotals.Expense.Sub(prevTotals.Expense),
		},
		CategoryDetails: details,
	}
}

// IsUnusual requires both a 30% rise over prev and spend above 50.
func IsUnusual(curr, prev core.Money) bool {
	return curr.Cents*10 > prev.Cents*unusualRatioTenths && curr.Cents > unusualFloorCents
}

// Overview summarizes one month: savings rate, spending spikes against the
// trailing three months, and budget usage.
func (s *InsightService) Overview(ctx context.Context, userID string, month core.Date) (Overview, error) {
	if userID == "" {
		return Overview{}, core.ErrMissingUser
	}
	if month.IsZero() {
		return Overview{}, core.ErrInvalidMonth
	}
	month = month.MonthStart()
	window := core.DateRange{Start: month.AddMonths(-spikeWindowMonths), End: month}
	rows, err := s.rollups.MonthlyRollups(ctx, userID, window)
	if err != nil {
		return Overview{}, fmt.Errorf("failed to read monthly rollups: %w", err)
	}
	cats, err := s.ledger.Categories(ctx, userID)
	if err != nil {
		return Overview{}, fmt.Errorf("failed to read categories: %w", err)
	}

	var cur, trailing []core.MonthlyRollup
	for _, r := range rows {
		if r.Month.Equal(month.Time) {
			cur = append(cur, r)
		} else {
			trailing = append(trailing, r)
		}
	}
	t := totalsOf(cur)
	return Overview{
		Month:       month.MonthKey(),
		Income:      t.Income,
		Expense:     t.Expense,
		Savings:     t.Income.Sub(t.Expense),
		SavingsRate: SavingsRate(t.Income, t.Expense),
		Spikes:      Spikes(cur, trailing),
		Budgets:     Budgets(cur, cats),
	}, nil
}

// SavingsRate is (income-expense)/income*100, or 0 when income is not positive.
func SavingsRate(income, expense core.Money) float64 {
	if !income.IsPositive() {
		return 0
	}
	return percentOf(income.Sub(expense), income)
}

// Spikes flags categories whose spend in the last month exceeds the
// trailing three-month average by more than 30%. Months with no rows count
// as zero in the average.
func Spikes(last, trailing []core.MonthlyRollup) []Spike {
	lastByCat := map[string]core.Money{}
	for _, r := range last {
		lastByCat[r.CategoryID] = lastByCat[r.CategoryID].Add(r.TotalExpense)
	}
	sumByCat := map[string]core.Money{}
	for _, r := range trailing {
		sumByCat[r.CategoryID] = sumByCat[r.CategoryID].Add(r.TotalExpense)
	}

	out := []Spike{}
	for cat, lastSpend := range lastByCat {
		avg := core.MoneyFromDecimal(sumByCat[cat].Decimal().Div(decimal.NewFromInt(spikeWindowMonths)))
		var pct float64
		switch {
		case avg.IsPositive():
			pct = percentOf(lastSpend.Sub(avg), avg)
		case lastSpend.IsPositive():
			pct = 100
		}
		if lastSpend.Cents > unusualFloorCents && pct > spikeThresholdPct {
			out = append(out, Spike{CategoryID: cat, Last: lastSpend, Average: avg, SpikePct: pct})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpikePct != out[j].SpikePct {
			return out[i].SpikePct > out[j].SpikePct
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	if len(out) > topSpikes {
		out = out[:topSpikes]
	}
	return out
}

// Budgets reports spend against budget for categories that track one,
// highest usage first.
func Budgets(current []core.MonthlyRollup, cats []core.Category) []BudgetProgress {
	spend := map[string]core.Money{}
	for _, r := range current {
		spend[r.CategoryID] = spend[r.CategoryID].Add(r.TotalExpense)
	}
	out := []BudgetProgress{}
	for _, c := range cats {
		if !c.Budget.IsPositive() {
			continue
		}
		out = append(out, BudgetProgress{
			CategoryID: c.ID,
			Name:       c.Name,
			Spend:      spend[c.ID],
			Budget:     c.Budget,
			Percent:    percentOf(spend[c.ID], c.Budget),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Percent > out[j].Percent })
	if len(out) > topBudgets {
		out = out[:topBudgets]
	}
	return out
}

func totalsOf(rows []core.MonthlyRollup) IncomeExpense {
	var t IncomeExpense
	for _, r := range rows {
		t.Income = t.Income.Add(r.TotalIncome)
		t.Expense = t.Expense.Add(r.TotalExpense)
	}
	return t
}

func changePct(curr, prev core.Money) float64 {
	if prev.IsPositive() {
		return percentOf(curr.Sub(prev), prev)
	}
	if curr.IsPositive() {
		return 100
	}
	return 0
}

// percentOf returns num/den*100 rounded to two places. den must be non-zero.
func percentOf(num, den core.Money) float64 {
	return decimal.NewFromInt(num.Cents).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(den.Cents), 2).
		InexactFloat64()
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

func newQueryFixture(t *testing.T) (*QueryService, func()) {
	t.Helper()
	store := seededStore(
		income("u1", day(2024, 1, 31), eur(2000), "salary"),
		expense("u1", day(2024, 1, 31), eur(30), "food"),
		expense("u1", day(2024, 3, 2), eur(12), "food"),
		expense("u1", day(2024, 3, 2), eur(8), "fun"),
		income("u1", day(2024, 3, 4), eur(50), "gift"),
		expense("u1", day(2024, 6, 15), eur(100), "rent"),
		expense("u2", day(2024, 3, 2), eur(999), "food"),
	)
	store.AddCategories(
		core.Category{ID: "food", UserID: "u1", Name: "Food", Type: core.Expense},
		core.Category{ID: "rent", UserID: "u1", Name: "Rent", Type: core.Expense},
	)
	q := NewQueryService(store, store)
	q.now = fixedClock(time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC))
	materialize := func() {
		if _, err := NewMaterializer(store, store, MaterializerConfig{}).Run(context.Background(), ledger.AllUsers); err != nil {
			t.Fatalf("materialize: %v", err)
		}
	}
	return q, materialize
}

func TestHeatmapIsSparse(t *testing.T) {
	q, _ := newQueryFixture(t)
	hm, err := q.Heatmap(context.Background(), "u1", 2024)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]core.Money{
		"2024-01-31": eur(30),
		"2024-03-02": eur(20),
		"2024-06-15": eur(100),
	}
	if len(hm.Data) != len(want) {
		t.Fatalf("expected %d points, got %+v", len(want), hm.Data)
	}
	for _, p := range hm.Data {
		if want[p.Date.String()] != p.Value {
			t.Errorf("point %s = %s", p.Date, p.Value)
		}
	}
	b, _ := json.Marshal(hm.Data[0])
	if string(b) != `["2024-01-31",30.00]` {
		t.Errorf("unexpected point encoding %s", b)
	}
}

func TestHeatmapDefaultsToCurrentYear(t *testing.T) {
	q, _ := newQueryFixture(t)
	hm, err := q.Heatmap(context.Background(), "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if hm.Year != 2024 {
		t.Errorf("expected 2024, got %d", hm.Year)
	}
	if _, err := q.Heatmap(context.Background(), "u1", -1); !errors.Is(err, core.ErrInvalidYear) {
		t.Errorf("expected ErrInvalidYear, got %v", err)
	}
}

func TestWaterfallDefaultsAndZeroFill(t *testing.T) {
	q, _ := newQueryFixture(t)
	wf, err := q.Waterfall(context.Background(), "u1", core.Date{}, core.Date{})
	if err != nil {
		t.Fatal(err)
	}
	wantMonths := []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05", "2024-06"}
	if len(wf.Months) != len(wantMonths) {
		t.Fatalf("months = %v", wf.Months)
	}
	for i, m := range wantMonths {
		if wf.Months[i] != m {
			t.Fatalf("months = %v", wf.Months)
		}
	}
	if wf.Income[1] != (core.Money{}) || wf.Expense[1] != (core.Money{}) {
		t.Errorf("february should be zero-filled, got %s/%s", wf.Income[1], wf.Expense[1])
	}
	if wf.Net[0] != eur(1970) {
		t.Errorf("january net = %s", wf.Net[0])
	}
	if wf.Expense[2] != eur(20) || wf.Income[2] != eur(50) {
		t.Errorf("march = %s/%s", wf.Income[2], wf.Expense[2])
	}
}

func TestWaterfallRejectsInvertedRange(t *testing.T) {
	q, _ := newQueryFixture(t)
	_, err := q.Waterfall(context.Background(), "u1", day(2024, 5, 1), day(2024, 4, 1))
	if !errors.Is(err, core.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestHeatmapReconcilesWithWaterfall(t *testing.T) {
	q, _ := newQueryFixture(t)
	ctx := context.Background()
	hm, err := q.Heatmap(ctx, "u1", 2024)
	if err != nil {
		t.Fatal(err)
	}
	wf, err := q.Waterfall(ctx, "u1", day(2024, 1, 1), day(2024, 12, 1))
	if err != nil {
		t.Fatal(err)
	}
	perMonth := map[string]core.Money{}
	for _, p := range hm.Data {
		perMonth[p.Date.MonthKey()] = perMonth[p.Date.MonthKey()].Add(p.Value)
	}
	for i, m := range wf.Months {
		if perMonth[m] != wf.Expense[i] {
			t.Errorf("%s: heatmap %s != waterfall %s", m, perMonth[m], wf.Expense[i])
		}
	}
}

func TestKPI(t *testing.T) {
	q, _ := newQueryFixture(t)
	ctx := context.Background()

	all, err := q.KPI(ctx, "u1", core.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Totals.Income != eur(2050) || all.Totals.Expense != eur(150) || all.Balance != eur(1900) {
		t.Errorf("unexpected totals %+v", all.Totals)
	}
	if all.LargestIncome == nil || all.LargestIncome.Amount != eur(2000) {
		t.Errorf("largest income = %+v", all.LargestIncome)
	}
	if all.LargestExpense == nil || all.LargestExpense.Amount != eur(100) {
		t.Errorf("largest expense = %+v", all.LargestExpense)
	}
	if len(all.TopExpenseCategories) != 3 || all.TopExpenseCategories[0].Name != "Rent" {
		t.Errorf("top categories = %+v", all.TopExpenseCategories)
	}
	if all.TopExpenseCategories[2].Name != core.UncategorizedName {
		t.Errorf("expected unnamed category last, got %+v", all.TopExpenseCategories)
	}

	filters := []core.Filters{
		{Range: core.DateRange{Start: day(2024, 3, 1)}},
		{Range: core.DateRange{End: day(2024, 3, 31)}},
		{Type: core.Expense},
		{CategoryID: "food"},
		{PaymentMethod: "card"},
	}
	for _, f := range filters {
		got, err := q.KPI(ctx, "u1", f)
		if err != nil {
			t.Fatalf("%+v: %v", f, err)
		}
		if got.Totals.Income.Cents > all.Totals.Income.Cents || got.Totals.Expense.Cents > all.Totals.Expense.Cents {
			t.Errorf("filter %+v added rows: %+v", f, got.Totals)
		}
		if got.LargestIncome == nil || got.LargestIncome.Amount != eur(2000) {
			t.Errorf("filter %+v changed largest income", f)
		}
	}

	byType, _ := q.KPI(ctx, "u1", core.Filters{Type: core.Income})
	if byType.Totals.Expense != (core.Money{}) || len(byType.TopExpenseCategories) != 3 {
		t.Errorf("type filter should only narrow totals: %+v", byType)
	}
	if byType.Average != eur(1025) {
		t.Errorf("average = %s", byType.Average)
	}
}

func TestKPIRejectsInvalidFilters(t *testing.T) {
	q, _ := newQueryFixture(t)
	_, err := q.KPI(context.Background(), "u1", core.Filters{Type: "transfer"})
	if !errors.Is(err, core.ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
	_, err = q.KPI(context.Background(), "u1", core.Filters{Range: core.DateRange{Start: day(2024, 2, 1), End: day(2024, 1, 1)}})
	if !errors.Is(err, core.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestWeeklySeries(t *testing.T) {
	q, materialize := newQueryFixture(t)
	materialize()
	series, err := q.WeeklySeries(context.Background(), "u1", core.DateRange{Start: day(2024, 1, 1), End: day(2024, 3, 31)})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-29", "2024-02-26", "2024-03-04"}
	if len(series.Weeks) != len(want) {
		t.Fatalf("weeks = %v", series.Weeks)
	}
	for i := range want {
		if series.Weeks[i] != want[i] {
			t.Fatalf("weeks = %v", series.Weeks)
		}
	}
	if series.Balance[0] != eur(1970) || series.Expense[1] != eur(20) || series.Income[2] != eur(50) {
		t.Errorf("unexpected series %+v", series)
	}
}

func TestQueriesRequireUser(t *testing.T) {
	q, _ := newQueryFixture(t)
	if _, err := q.Heatmap(context.Background(), "", 2024); !errors.Is(err, core.ErrMissingUser) {
		t.Errorf("expected ErrMissingUser, got %v", err)
	}
}

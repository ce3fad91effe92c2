package core

// Typed rows returned by the ledger accessor.

type (
	// DailySum is the income/expense total for one user on one calendar day.
	DailySum struct {
		UserID  string
		Day     Date
		Income  Money
		Expense Money
	}

	// MonthCategorySum groups one user's transactions by month and category.
	MonthCategorySum struct {
		UserID     string
		Month      Date
		CategoryID string
		Income     Money
		Expense    Money
		Count      int
	}

	MonthSum struct {
		Month   Date
		Income  Money
		Expense Money
	}

	CategoryTotal struct {
		Name  string
		Value Money
	}

	Totals struct {
		Income  Money
		Expense Money
	}
)

// UncategorizedName labels expense totals whose category is missing.
const UncategorizedName = "Uncategorized"

// Filters narrows KPI queries. Every zero field is ignored.
type Filters struct {
	Range         DateRange
	Type          TxType
	CategoryID    string
	PaymentMethod string
}

func (f Filters) Validate() error {
	if err := f.Range.Validate(); err != nil {
		return err
	}
	if _, err := ParseTxType(string(f.Type)); err != nil {
		return err
	}
	return nil
}

// Match reports whether tx satisfies every non-empty filter.
func (f Filters) Match(tx Transaction) bool {
	if !f.Range.Contains(tx.Date) {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.CategoryID != "" && tx.CategoryID != f.CategoryID {
		return false
	}
	if f.PaymentMethod != "" && tx.PaymentMethod != f.PaymentMethod {
		return false
	}
	return true
}

// WithoutType returns a copy of f with the type filter cleared.
func (f Filters) WithoutType() Filters {
	f.Type = ""
	return f
}

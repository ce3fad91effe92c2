package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	txs      []core.Transaction
	cats     map[string]core.Category
	weekly   map[string]core.WeeklyRollup
	monthly  map[string]core.MonthlyRollup
	rules    []core.CategoryRule
	salaries map[string]core.MonthlySalary
	now      func() time.Time
}

func New() *Store {
	return &Store{
		cats:     map[string]core.Category{},
		weekly:   map[string]core.WeeklyRollup{},
		monthly:  map[string]core.MonthlyRollup{},
		salaries: map[string]core.MonthlySalary{},
		now:      time.Now,
	}
}

// NewFromFiles seeds the ledger from base/seed_transactions.txt. Each line is
// "user|date|type|amount|category|payment method|note"; blank lines and lines
// starting with # are skipped, as are malformed lines.
func NewFromFiles(base string) *Store {
	s := New()
	for _, line := range readLines(filepath.Join(base, "seed_transactions.txt")) {
		tx, ok := parseSeedLine(line)
		if !ok {
			continue
		}
		s.txs = append(s.txs, tx)
	}
	return s
}

// AddTransactions appends rows to the ledger. Missing ids are generated.
func (s *Store) AddTransactions(txs ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.txs = append(s.txs, tx)
	}
}

// RemoveTransactions drops every transaction for which drop returns true.
func (s *Store) RemoveTransactions(drop func(core.Transaction) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.txs[:0]
	for _, tx := range s.txs {
		if !drop(tx) {
			kept = append(kept, tx)
		}
	}
	s.txs = kept
}

func (s *Store) AddCategories(cats ...core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cats {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		s.cats[c.ID] = c
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) SumByDay(_ context.Context, userID string, r core.DateRange) ([]core.DailySum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		user string
		day  string
	}
	idx := map[key]int{}
	var out []core.DailySum
	for _, tx := range s.txs {
		if !ownedBy(tx.UserID, userID) || !r.Contains(tx.Date) {
			continue
		}
		k := key{tx.UserID, tx.Date.String()}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, core.DailySum{UserID: tx.UserID, Day: tx.Date})
		}
		addByType(tx, &out[i].Income, &out[i].Expense)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out, nil
}

func (s *Store) SumByMonthCategory(_ context.Context, userID string) ([]core.MonthCategorySum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		user, month, cat string
	}
	idx := map[key]int{}
	var out []core.MonthCategorySum
	for _, tx := range s.txs {
		if !ownedBy(tx.UserID, userID) {
			continue
		}
		m := tx.Date.MonthStart()
		k := key{tx.UserID, m.String(), tx.CategoryID}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, core.MonthCategorySum{UserID: tx.UserID, Month: m, CategoryID: tx.CategoryID})
		}
		addByType(tx, &out[i].Income, &out[i].Expense)
		out[i].Count++
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.Month.Equal(b.Month.Time) {
			return a.Month.Before(b.Month)
		}
		return a.CategoryID < b.CategoryID
	})
	return out, nil
}

func (s *Store) SumByMonth(_ context.Context, userID string, r core.DateRange) ([]core.MonthSum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := map[string]int{}
	var out []core.MonthSum
	for _, tx := range s.txs {
		if !ownedBy(tx.UserID, userID) || !r.Contains(tx.Date) {
			continue
		}
		m := tx.Date.MonthStart()
		i, ok := idx[m.String()]
		if !ok {
			i = len(out)
			idx[m.String()] = i
			out = append(out, core.MonthSum{Month: m})
		}
		addByType(tx, &out[i].Income, &out[i].Expense)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (s *Store) FilteredTotals(_ context.Context, userID string, f core.Filters) (core.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t core.Totals
	for _, tx := range s.txs {
		if tx.UserID == userID && f.Match(tx) {
			addByType(tx, &t.Income, &t.Expense)
		}
	}
	return t, nil
}

func (s *Store) Average(_ context.Context, userID string, f core.Filters) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum, n int64
	for _, tx := range s.txs {
		if tx.UserID == userID && f.Match(tx) {
			sum += tx.Amount.Cents
			n++
		}
	}
	if n == 0 {
		return core.Money{}, nil
	}
	return core.MoneyFromDecimal(decimal.New(sum, -2).Div(decimal.NewFromInt(n))), nil
}

func (s *Store) TopCategoriesByExpense(_ context.Context, userID string, f core.Filters, limit int) ([]core.CategoryTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[string]core.Money{}
	for _, tx := range s.txs {
		if tx.UserID != userID || tx.Type != core.Expense || !f.Match(tx) {
			continue
		}
		name := core.UncategorizedName
		if c, ok := s.cats[tx.CategoryID]; ok && c.Name != "" {
			name = c.Name
		}
		sums[name] = sums[name].Add(tx.Amount)
	}
	out := make([]core.CategoryTotal, 0, len(sums))
	for name, v := range sums {
		if v.IsPositive() {
			out = append(out, core.CategoryTotal{Name: name, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value.Cents > out[j].Value.Cents
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MaxByType(_ context.Context, userID string, t core.TxType) (core.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best core.Transaction
	found := false
	for _, tx := range s.txs {
		if tx.UserID != userID || tx.Type != t {
			continue
		}
		if !found || tx.Amount.Cents > best.Amount.Cents {
			best, found = tx, true
		}
	}
	return best, found, nil
}

func (s *Store) Categories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.cats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpsertWeekly(_ context.Context, rows []core.WeeklyRollup) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		k := r.Key()
		if prev, ok := s.weekly[k]; ok {
			r.ID = prev.ID
		} else if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.weekly[k] = r
	}
	return len(rows), nil
}

func (s *Store) UpsertMonthly(_ context.Context, rows []core.MonthlyRollup) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Month = r.Month.MonthStart()
		k := r.Key()
		if prev, ok := s.monthly[k]; ok {
			r.ID = prev.ID
			if prev.SameTotals(r) {
				r.UpdatedAt = prev.UpdatedAt
			}
		} else if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.monthly[k] = r
	}
	return len(rows), nil
}

func (s *Store) WeeklyRollups(_ context.Context, userID string, r core.DateRange) ([]core.WeeklyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.WeeklyRollup
	for _, w := range s.weekly {
		if ownedBy(w.UserID, userID) && r.Contains(w.WeekStart) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WeekStart.Equal(out[j].WeekStart.Time) {
			return out[i].WeekStart.Before(out[j].WeekStart)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) MonthlyRollups(_ context.Context, userID string, r core.DateRange) ([]core.MonthlyRollup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthlyRollup
	for _, m := range s.monthly {
		if ownedBy(m.UserID, userID) && r.Contains(m.Month) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.Month.Equal(b.Month.Time) {
			return a.Month.Before(b.Month)
		}
		return a.CategoryID < b.CategoryID
	})
	return out, nil
}

func (s *Store) Rules(_ context.Context, userID string) ([]core.CategoryRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.CategoryRule
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateRule(_ context.Context, r core.CategoryRule) (core.CategoryRule, error) {
	if err := r.Validate(); err != nil {
		return core.CategoryRule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.rules = append(s.rules, r)
	return r, nil
}

func (s *Store) DeleteRule(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id && r.UserID == userID {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) SalaryAtOrBefore(_ context.Context, userID string, month core.Date) (core.MonthlySalary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best core.MonthlySalary
	found := false
	for _, sal := range s.salaries {
		if sal.UserID != userID || sal.Month.After(month) {
			continue
		}
		if !found || sal.Month.After(best.Month) {
			best, found = sal, true
		}
	}
	return best, found, nil
}

func (s *Store) UpsertSalary(_ context.Context, sal core.MonthlySalary) (core.MonthlySalary, error) {
	if err := sal.Validate(); err != nil {
		return core.MonthlySalary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sal.Month = sal.Month.MonthStart()
	k := sal.UserID + "|" + sal.Month.String()
	if prev, ok := s.salaries[k]; ok {
		sal.ID = prev.ID
	} else if sal.ID == "" {
		sal.ID = uuid.NewString()
	}
	s.salaries[k] = sal
	return sal, nil
}

func ownedBy(owner, userID string) bool {
	return userID == ledger.AllUsers || owner == userID
}

func addByType(tx core.Transaction, income, expense *core.Money) {
	switch tx.Type {
	case core.Income:
		*income = income.Add(tx.Amount)
	case core.Expense:
		*expense = expense.Add(tx.Amount)
	}
}

func parseSeedLine(line string) (core.Transaction, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return core.Transaction{}, false
	}
	for len(parts) < 7 {
		parts = append(parts, "")
	}
	d, err := core.ParseDay(parts[1])
	if err != nil {
		return core.Transaction{}, false
	}
	typ, err := core.ParseTxType(parts[2])
	if err != nil || typ == "" {
		return core.Transaction{}, false
	}
	amt, err := core.ParseMoney(parts[3])
	if err != nil || amt.Cents < 0 {
		return core.Transaction{}, false
	}
	return core.Transaction{
		ID:            uuid.NewString(),
		UserID:        strings.TrimSpace(parts[0]),
		Date:          d,
		Type:          typ,
		Amount:        amt,
		CategoryID:    strings.TrimSpace(parts[4]),
		PaymentMethod: strings.TrimSpace(parts[5]),
		Note:          strings.TrimSpace(parts[6]),
	}, true
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

package services

import (
	"time"

	"finlens/internal/core"
	"finlens/internal/ledger/memory"
)

func day(y, m, d int) core.Date { return core.NewDate(y, m, d) }

func eur(v int64) core.Money { return core.Cents(v * 100) }

func income(user string, d core.Date, amount core.Money, cat string) core.Transaction {
	return core.Transaction{UserID: user, Type: core.Income, Date: d, Amount: amount, CategoryID: cat}
}

func expense(user string, d core.Date, amount core.Money, cat string) core.Transaction {
	return core.Transaction{UserID: user, Type: core.Expense, Date: d, Amount: amount, CategoryID: cat}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func seededStore(txs ...core.Transaction) *memory.Store {
	s := memory.New()
	s.AddTransactions(txs...)
	return s
}

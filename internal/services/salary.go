package services

import (
	"context"
	"fmt"

	"finlens/internal/core"
	"finlens/internal/ledger"
)

// SalaryView is the carry-forward answer for one month.
type SalaryView struct {
	Amount      core.Money `json:"amount"`
	IsInherited bool       `json:"isInherited"`
	SourceMonth string     `json:"sourceMonth,omitempty"`
}

type SalaryService struct {
	store ledger.SalaryStore
}

func NewSalaryService(store ledger.SalaryStore) *SalaryService {
	return &SalaryService{store: store}
}

// Lookup returns the salary for month, falling back to the most recent
// earlier month. With no salary on record the amount is zero.
func (s *SalaryService) Lookup(ctx context.Context, userID string, month core.Date) (SalaryView, error) {
	if userID == "" {
		return SalaryView{}, core.ErrMissingUser
	}
	if month.IsZero() {
		return SalaryView{}, core.ErrInvalidMonth
	}
	month = month.MonthStart()
	sal, ok, err := s.store.SalaryAtOrBefore(ctx, userID, month)
	if err != nil {
		return SalaryView{}, fmt.Errorf("failed to look up salary: %w", err)
	}
	if !ok {
		return SalaryView{}, nil
	}
	return SalaryView{
		Amount:      sal.Amount,
		IsInherited: !sal.Month.Equal(month.Time),
		SourceMonth: sal.Month.MonthKey(),
	}, nil
}

// Set records the salary for one month, replacing any previous value.
func (s *SalaryService) Set(ctx context.Context, userID string, month core.Date, amount core.Money) (core.MonthlySalary, error) {
	sal := core.MonthlySalary{UserID: userID, Month: month.MonthStart(), Amount: amount}
	if month.IsZero() {
		sal.Month = core.Date{}
	}
	if err := sal.Validate(); err != nil {
		return core.MonthlySalary{}, err
	}
	saved, err := s.store.UpsertSalary(ctx, sal)
	if err != nil {
		return core.MonthlySalary{}, fmt.Errorf("failed to save salary: %w", err)
	}
	return saved, nil
}

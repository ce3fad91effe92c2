package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"finlens/internal/core"
)

// ValuesWriter is the part of a spreadsheet values API the mirror needs.
type ValuesWriter interface {
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

// Header is the first row written to the mirror sheet.
var Header = []any{"User", "Month", "Category", "Income", "Expense", "Transactions", "Updated"}

// Mirror copies monthly rollups into a single spreadsheet tab. Each call
// replaces the whole tab.
type Mirror struct {
	values        ValuesWriter
	spreadsheetID string
	sheetName     string
}

func NewMirror(values ValuesWriter, spreadsheetID, sheetName string) (*Mirror, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = "Rollups"
	}
	return &Mirror{values: values, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// MirrorMonthly clears the tab and writes rows below the header.
func (m *Mirror) MirrorMonthly(ctx context.Context, rows []core.MonthlyRollup) error {
	if m.values == nil {
		return errors.New("sheets values writer not initialized")
	}
	if err := m.values.Clear(ctx, m.spreadsheetID, m.sheetName+"!A:G"); err != nil {
		return fmt.Errorf("clear %s: %w", m.sheetName, err)
	}
	values := MonthlyRows(rows)
	rng := fmt.Sprintf("%s!A1:G%d", m.sheetName, len(values))
	if err := m.values.Update(ctx, m.spreadsheetID, rng, values); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	slog.InfoContext(ctx, "Monthly rollups mirrored to sheet",
		"sheet", m.sheetName,
		"rows", len(rows))
	return nil
}

// MonthlyRows renders rollups as sheet rows, header first. Amounts are
// written as euro strings so the sheet's locale does not reinterpret them.
func MonthlyRows(rows []core.MonthlyRollup) [][]any {
	out := make([][]any, 0, len(rows)+1)
	out = append(out, Header)
	for _, r := range rows {
		cat := r.CategoryID
		if cat == "" {
			cat = core.UncategorizedName
		}
		out = append(out, []any{
			r.UserID,
			r.Month.MonthKey(),
			cat,
			r.TotalIncome.String(),
			r.TotalExpense.String(),
			r.TxCount,
			r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return out
}

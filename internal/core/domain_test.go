package core

import (
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMondayOf(t *testing.T) {
	tests := []struct {
		name string
		day  Date
		want Date
	}{
		{"monday maps to itself", NewDate(2024, 6, 3), NewDate(2024, 6, 3)},
		{"wednesday", NewDate(2024, 6, 5), NewDate(2024, 6, 3)},
		{"sunday goes back six days", NewDate(2024, 6, 9), NewDate(2024, 6, 3)},
		{"crosses month boundary", NewDate(2024, 3, 2), NewDate(2024, 2, 26)},
		{"crosses year boundary", NewDate(2023, 1, 1), NewDate(2022, 12, 26)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.day.MondayOf(); !got.Equal(tt.want.Time) {
				t.Errorf("MondayOf(%s) = %s, want %s", tt.day, got, tt.want)
			}
		})
	}
}

func TestMondayOfProperty(t *testing.T) {
	d := NewDate(2023, 12, 1)
	for i := 0; i < 800; i++ {
		m := d.MondayOf()
		if m.Weekday() != time.Monday {
			t.Fatalf("MondayOf(%s) = %s is a %s", d, m, m.Weekday())
		}
		if d.Before(m) || d.After(Date{Time: m.AddDate(0, 0, 6)}) {
			t.Fatalf("%s outside week starting %s", d, m)
		}
		d = Date{Time: d.AddDate(0, 0, 1)}
	}
}

func TestParseMonth(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-02", "2024-02-01", false},
		{"2024-02-17", "2024-02-01", false},
		{" 2024-12 ", "2024-12-01", false},
		{"2024-13", "", true},
		{"2024/02", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMonth(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMonth) {
					t.Fatalf("expected ErrInvalidMonth, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAddMonths(t *testing.T) {
	jan := NewDate(2024, 1, 31)
	if got := jan.AddMonths(1).String(); got != "2024-02-01" {
		t.Errorf("expected 2024-02-01, got %s", got)
	}
	if got := NewDate(2024, 3, 1).AddMonths(-3).String(); got != "2023-12-01" {
		t.Errorf("expected 2023-12-01, got %s", got)
	}
	if got := NewDate(2024, 2, 10).MonthEnd().String(); got != "2024-02-29" {
		t.Errorf("expected leap day, got %s", got)
	}
}

func TestParseTxType(t *testing.T) {
	for _, in := range []string{"", "income", "EXPENSE"} {
		if _, err := ParseTxType(in); err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
		}
	}
	if _, err := ParseTxType("transfer"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestDateRange(t *testing.T) {
	r := DateRange{Start: NewDate(2024, 1, 1), End: NewDate(2024, 1, 31)}
	if !r.Contains(NewDate(2024, 1, 31)) || r.Contains(NewDate(2024, 2, 1)) {
		t.Fatal("inclusive bounds not honoured")
	}
	if !(DateRange{}).Contains(NewDate(1999, 1, 1)) {
		t.Fatal("open range must contain every date")
	}
	bad := DateRange{Start: NewDate(2024, 2, 1), End: NewDate(2024, 1, 1)}
	if !errors.Is(bad.Validate(), ErrInvalidRange) {
		t.Fatal("expected ErrInvalidRange")
	}
}

func TestCategoryRuleValidate(t *testing.T) {
	ok := CategoryRule{UserID: "u", CategoryID: "c", Pattern: "coffee"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	empty := ok
	empty.Pattern = "   "
	if !errors.Is(empty.Validate(), ErrEmptyPattern) {
		t.Fatal("expected ErrEmptyPattern")
	}
}

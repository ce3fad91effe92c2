package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"finlens/internal/core"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    core.Filters
		wantErr error
	}{
		{name: "empty", query: "", want: core.Filters{}},
		{
			name:  "all filters",
			query: "start=2024-01-01&end=2024-01-31&type=Expense&categoryId=food&paymentMethod=card",
			want: core.Filters{
				Range:         core.DateRange{Start: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 1, 31)},
				Type:          core.Expense,
				CategoryID:    "food",
				PaymentMethod: "card",
			},
		},
		{name: "both is unfiltered", query: "type=both", want: core.Filters{}},
		{name: "bad type", query: "type=transfer", wantErr: core.ErrInvalidType},
		{name: "bad start", query: "start=01/02/2024", wantErr: core.ErrInvalidDay},
		{name: "inverted", query: "start=2024-02-01&end=2024-01-01", wantErr: core.ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := ParseFilters(q)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Range.Start.Equal(tt.want.Range.Start.Time) || !got.Range.End.Equal(tt.want.Range.End.Time) ||
				got.Type != tt.want.Type || got.CategoryID != tt.want.CategoryID || got.PaymentMethod != tt.want.PaymentMethod {
				t.Errorf("ParseFilters() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"2024", 2024, false},
		{" 1999 ", 1999, false},
		{"0", 0, true},
		{"10000", 0, true},
		{"twenty", 0, true},
	}
	for _, tt := range tests {
		got, err := parseYear(url.Values{"year": {tt.in}})
		if (err != nil) != tt.wantErr {
			t.Errorf("parseYear(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseYear(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUserFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := userFromRequest(r); !errors.Is(err, core.ErrMissingUser) {
		t.Errorf("missing header error = %v", err)
	}
	r.Header.Set(HeaderUserID, "  u1\x00 ")
	if got, err := userFromRequest(r); err != nil || got != "u1" {
		t.Errorf("userFromRequest() = %q, %v", got, err)
	}
	r.Header.Set(HeaderUserID, strings.Repeat("x", maxUserIDLen+1))
	if _, err := userFromRequest(r); !errors.Is(err, errBadRequest) {
		t.Errorf("long id error = %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"text":"coop"}`, false},
		{"empty", ``, true},
		{"unknown field", `{"text":"a","x":1}`, true},
		{"trailing object", `{"text":"a"}{"text":"b"}`, true},
		{"oversized", `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst categorizeRequest
			err := decodeJSON(httptest.NewRecorder(), r, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && statusFor(err) != http.StatusBadRequest {
				t.Errorf("status for %v = %d", err, statusFor(err))
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  a\x01b\tc\n "); got != "ab\tc" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}

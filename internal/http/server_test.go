package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finlens/internal/amqp"
	"finlens/internal/core"
	"finlens/internal/ledger/memory"
	"finlens/internal/log"
	"finlens/internal/services"
	"finlens/internal/worker"
)

type fakePublisher struct {
	got []*amqp.MaterializeRequest
	err error
}

func (f *fakePublisher) PublishMaterializeRequest(_ context.Context, req *amqp.MaterializeRequest) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, req)
	return nil
}

func newTestServer(t *testing.T, pub MaterializePublisher, opts Options) *Server {
	t.Helper()
	store := memory.New()
	store.AddTransactions(
		core.Transaction{UserID: "u1", Type: core.Income, Amount: core.Cents(10000), CategoryID: "salary", Date: core.NewDate(2024, 6, 3)},
		core.Transaction{UserID: "u1", Type: core.Expense, Amount: core.Cents(5000), CategoryID: "food", Date: core.NewDate(2024, 6, 9)},
		core.Transaction{UserID: "u1", Type: core.Expense, Amount: core.Cents(2000), CategoryID: "food", Date: core.NewDate(2024, 5, 10)},
		core.Transaction{UserID: "u2", Type: core.Expense, Amount: core.Cents(999), CategoryID: "food", Date: core.NewDate(2024, 6, 9)},
	)
	mat := services.NewMaterializer(store, store, services.MaterializerConfig{})
	svc := Services{
		Query:       services.NewQueryService(store, store),
		Insights:    services.NewInsightService(store, store),
		Categorizer: services.NewCategorizer(store),
		Salary:      services.NewSalaryService(store),
		Runner:      worker.NewMaterializeWorker(mat, time.Hour),
		Publisher:   pub,
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Config{Level: log.ParseLevel("error"), Output: io.Discard})
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 16
		opts.CacheTTL = time.Minute
	}
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndHeaders(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	rec := do(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestMissingUserIsBadRequest(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	for _, path := range []string{
		"/api/analytics/heatmap?year=2024",
		"/api/analytics/waterfall",
		"/api/analytics/rollups",
		"/api/kpi",
		"/api/insights/monthly?month=2024-06",
		"/api/insights/overview?month=2024-06",
		"/api/salary?month=2024-06",
		"/api/rules",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, path, "", nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			body := decode[map[string]string](t, rec)
			if body["message"] != core.ErrMissingUser.Error() {
				t.Errorf("message = %q", body["message"])
			}
		})
	}
}

func TestHeatmap(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rec := do(t, srv, http.MethodGet, "/api/analytics/heatmap?year=2024", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Year int     `json:"year"`
		Data [][]any `json:"data"`
	}](t, rec)
	if got.Year != 2024 || len(got.Data) != 2 {
		t.Fatalf("heatmap = %+v", got)
	}
	if got.Data[0][0] != "2024-05-10" || got.Data[0][1] != 20.0 {
		t.Errorf("first point = %v", got.Data[0])
	}

	rec = do(t, srv, http.MethodGet, "/api/analytics/heatmap?year=2024", "u1", nil)
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Error("second request should be served from cache")
	}

	rec = do(t, srv, http.MethodGet, "/api/analytics/heatmap?year=abc", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad year status = %d", rec.Code)
	}
}

func TestWaterfallReconcilesWithHeatmap(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rec := do(t, srv, http.MethodGet, "/api/analytics/waterfall?start=2024-04&end=2024-06", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	wf := decode[struct {
		Months  []string  `json:"months"`
		Income  []float64 `json:"income"`
		Expense []float64 `json:"expense"`
		Net     []float64 `json:"net"`
	}](t, rec)
	wantMonths := []string{"2024-04", "2024-05", "2024-06"}
	if strings.Join(wf.Months, ",") != strings.Join(wantMonths, ",") {
		t.Fatalf("months = %v", wf.Months)
	}
	if wf.Expense[0] != 0 || wf.Expense[1] != 20 || wf.Expense[2] != 50 {
		t.Errorf("expense = %v", wf.Expense)
	}
	if wf.Net[2] != 50 {
		t.Errorf("net = %v", wf.Net)
	}

	rec = do(t, srv, http.MethodGet, "/api/analytics/waterfall?start=2024-07&end=2024-06", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range status = %d", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/api/analytics/waterfall?start=June", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed month status = %d", rec.Code)
	}
}

func TestKPI(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantIncome  float64
		wantExpense float64
	}{
		{"unfiltered", "", http.StatusOK, 100, 70},
		{"expense only", "?type=expense", http.StatusOK, 0, 70},
		{"all means no type filter", "?type=all", http.StatusOK, 100, 70},
		{"date window", "?start=2024-06-01&end=2024-06-30", http.StatusOK, 100, 50},
		{"category", "?categoryId=food", http.StatusOK, 0, 70},
		{"bad type", "?type=transfer", http.StatusBadRequest, 0, 0},
		{"bad date", "?start=2024-13-01", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodGet, "/api/kpi"+tt.query, "u1", nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			kpi := decode[struct {
				Totals struct {
					Income  float64 `json:"income"`
					Expense float64 `json:"expense"`
				} `json:"totals"`
			}](t, rec)
			if kpi.Totals.Income != tt.wantIncome || kpi.Totals.Expense != tt.wantExpense {
				t.Errorf("totals = %+v", kpi.Totals)
			}
		})
	}
}

func TestMaterializeThenRollupsAndInsights(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	series := "/api/analytics/rollups?start=2024-06-01&end=2024-06-30"

	rec := do(t, srv, http.MethodGet, series, "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	before := decode[struct {
		Weeks []string `json:"weeks"`
	}](t, rec)
	if len(before.Weeks) != 0 {
		t.Fatalf("weeks before materialize = %v", before.Weeks)
	}

	rec = do(t, srv, http.MethodPost, "/api/rollups/materialize", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("materialize status = %d body = %s", rec.Code, rec.Body.String())
	}
	res := decode[materializeResponse](t, rec)
	if res.WeeklyRows != 2 || res.MonthlyRows != 3 || res.Total != 5 {
		t.Errorf("materialize result = %+v", res)
	}

	rec = do(t, srv, http.MethodGet, series, "u1", nil)
	if rec.Header().Get("X-Cache") == "HIT" {
		t.Fatal("materialize must invalidate cached rollups")
	}
	after := decode[struct {
		Weeks   []string  `json:"weeks"`
		Income  []float64 `json:"income"`
		Expense []float64 `json:"expense"`
		Balance []float64 `json:"balance"`
	}](t, rec)
	if len(after.Weeks) != 1 || after.Weeks[0] != "2024-06-03" {
		t.Fatalf("weeks = %v", after.Weeks)
	}
	if after.Income[0] != 100 || after.Expense[0] != 50 || after.Balance[0] != 50 {
		t.Errorf("week totals = %v %v %v", after.Income, after.Expense, after.Balance)
	}

	rec = do(t, srv, http.MethodGet, "/api/insights/monthly?month=2024-06", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("insights status = %d", rec.Code)
	}
	ins := decode[services.MonthlyInsight](t, rec)
	if ins.Month != "2024-06" || ins.Current.Expense != core.Cents(5000) || ins.Previous.Expense != core.Cents(2000) {
		t.Errorf("insight = %+v", ins)
	}

	rec = do(t, srv, http.MethodGet, "/api/insights/overview?month=2024-06", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview status = %d", rec.Code)
	}
	ov := decode[services.Overview](t, rec)
	if ov.Savings != core.Cents(5000) || ov.SavingsRate != 50 {
		t.Errorf("overview = %+v", ov)
	}

	rec = do(t, srv, http.MethodGet, "/api/insights/monthly?month=06-2024", "u1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d", rec.Code)
	}
}

func TestMaterializeAsync(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		pub := &fakePublisher{}
		srv := newTestServer(t, pub, Options{})
		rec := do(t, srv, http.MethodPost, "/api/rollups/materialize?async=true", "u1", nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		if len(pub.got) != 1 || pub.got[0].UserID != "u1" {
			t.Fatalf("published = %+v", pub.got)
		}
		res := decode[materializeResponse](t, rec)
		if !res.Queued || res.RequestID != pub.got[0].RequestID {
			t.Errorf("response = %+v", res)
		}
	})

	t.Run("no publisher", func(t *testing.T) {
		srv := newTestServer(t, nil, Options{})
		rec := do(t, srv, http.MethodPost, "/api/rollups/materialize?async=1", "u1", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("circuit open", func(t *testing.T) {
		srv := newTestServer(t, &fakePublisher{err: amqp.ErrCircuitOpen}, Options{})
		rec := do(t, srv, http.MethodPost, "/api/rollups/materialize?async=true", "u1", nil)
		if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		srv := newTestServer(t, &fakePublisher{err: errors.New("broker gone")}, Options{})
		rec := do(t, srv, http.MethodPost, "/api/rollups/materialize?async=true", "u1", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decode[map[string]string](t, rec); body["message"] != "Error materializing rollups" {
			t.Errorf("message = %q", body["message"])
		}
	})
}

func TestRulesAndCategorize(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rec := do(t, srv, http.MethodPost, "/api/rules", "u1", map[string]any{"categoryId": "food", "pattern": "coop"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}
	created := decode[ruleView](t, rec)
	if created.Priority != core.DefaultRulePriority || created.ID == "" {
		t.Errorf("created = %+v", created)
	}

	rec = do(t, srv, http.MethodPost, "/api/rules", "u1", map[string]any{"categoryId": "fuel", "pattern": "^(esso|shell)", "isRegex": true, "priority": 5})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create regex status = %d", rec.Code)
	}

	bad := []map[string]any{
		{"categoryId": "x", "pattern": "(", "isRegex": true},
		{"categoryId": "x", "pattern": "   "},
		{"pattern": "abc"},
		{"categoryId": "x", "pattern": strings.Repeat("a", core.MaxPatternLength+1)},
		{"categoryId": "x", "pattern": "a", "unknown": 1},
	}
	for i, body := range bad {
		if rec := do(t, srv, http.MethodPost, "/api/rules", "u1", body); rec.Code != http.StatusBadRequest {
			t.Errorf("bad rule %d status = %d body = %s", i, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, srv, http.MethodGet, "/api/rules", "u1", nil)
	list := decode[[]ruleView](t, rec)
	if len(list) != 2 || list[0].CategoryID != "fuel" {
		t.Fatalf("rules = %+v", list)
	}

	tests := []struct {
		text    string
		matched bool
		cat     string
	}{
		{"COOP Milano", true, "food"},
		{"Shell station 12", true, "fuel"},
		{"cinema", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		rec := do(t, srv, http.MethodPost, "/api/categorize", "u1", map[string]string{"text": tt.text})
		if rec.Code != http.StatusOK {
			t.Fatalf("categorize %q status = %d", tt.text, rec.Code)
		}
		got := decode[categorizeResponse](t, rec)
		if got.Matched != tt.matched {
			t.Errorf("categorize %q matched = %v", tt.text, got.Matched)
		}
		if tt.matched && (got.CategoryID == nil || *got.CategoryID != tt.cat) {
			t.Errorf("categorize %q category = %v, want %q", tt.text, got.CategoryID, tt.cat)
		}
	}

	rec = do(t, srv, http.MethodGet, "/api/rules", "u2", nil)
	if list := decode[[]ruleView](t, rec); len(list) != 0 {
		t.Errorf("rules leak across users: %+v", list)
	}

	rec = do(t, srv, http.MethodDelete, "/api/rules/"+created.ID, "u2", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete other user's rule status = %d", rec.Code)
	}
	rec = do(t, srv, http.MethodDelete, "/api/rules/"+created.ID, "u1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, srv, http.MethodDelete, "/api/rules/"+created.ID, "u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestCategorizeRegexSeesRawText(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	rule := map[string]any{"categoryId": "bar", "pattern": `coffee\s$`, "isRegex": true}
	if rec := do(t, srv, http.MethodPost, "/api/rules", "u1", rule); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		text    string
		matched bool
	}{
		{"coffee ", true},
		{"coffee\t", true},
		{"coffee", false},
	}
	for _, tt := range tests {
		rec := do(t, srv, http.MethodPost, "/api/categorize", "u1", map[string]string{"text": tt.text})
		if rec.Code != http.StatusOK {
			t.Fatalf("categorize %q status = %d", tt.text, rec.Code)
		}
		got := decode[categorizeResponse](t, rec)
		if got.Matched != tt.matched {
			t.Errorf("categorize %q matched = %v, want %v", tt.text, got.Matched, tt.matched)
		}
		if tt.matched && (got.CategoryID == nil || *got.CategoryID != "bar") {
			t.Errorf("categorize %q category = %v", tt.text, got.CategoryID)
		}
	}
}

func TestSalaryCarryForward(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rec := do(t, srv, http.MethodGet, "/api/salary?month=2024-03", "u1", nil)
	empty := decode[services.SalaryView](t, rec)
	if rec.Code != http.StatusOK || !empty.Amount.IsZero() || empty.SourceMonth != "" {
		t.Fatalf("empty salary = %d %+v", rec.Code, empty)
	}

	rec = do(t, srv, http.MethodPut, "/api/salary", "u1", map[string]string{"month": "2024-01", "amount": "2500.00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/salary?month=2024-03", "u1", nil)
	got := decode[services.SalaryView](t, rec)
	if got.Amount != core.Cents(250000) || !got.IsInherited || got.SourceMonth != "2024-01" {
		t.Errorf("carried salary = %+v", got)
	}

	rec = do(t, srv, http.MethodGet, "/api/salary?month=2024-01", "u1", nil)
	if got := decode[services.SalaryView](t, rec); got.IsInherited {
		t.Errorf("own month marked inherited: %+v", got)
	}

	for _, body := range []map[string]any{
		{"month": "2024-13", "amount": "1"},
		{"month": "2024-02", "amount": "-5"},
		{"month": "2024-02", "amount": "abc"},
		{"month": "2024-02"},
		{"month": "2024-02", "amount": nil},
	} {
		if rec := do(t, srv, http.MethodPut, "/api/salary", "u1", body); rec.Code != http.StatusBadRequest {
			t.Errorf("put %v status = %d", body, rec.Code)
		}
	}
}

func TestWriteRateLimit(t *testing.T) {
	srv := newTestServer(t, nil, Options{RequestsPerMinute: 1})
	body := map[string]string{"text": "coop"}
	if rec := do(t, srv, http.MethodPost, "/api/categorize", "u1", body); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do(t, srv, http.MethodPost, "/api/categorize", "u1", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/kpi", "u1", nil); rec.Code != http.StatusOK {
		t.Errorf("reads are not rate limited, status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	rec := do(t, srv, http.MethodDelete, "/api/kpi", "u1", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finlens/internal/core"
)

const (
	// HeaderUserID names the authenticated caller. Authentication itself
	// happens in front of this service.
	HeaderUserID = "X-User-ID"

	maxBodyBytes = 64 << 10
	maxUserIDLen = 128
)

var errBadRequest = errors.New("bad request")

// userFromRequest returns the caller id or core.ErrMissingUser.
func userFromRequest(r *http.Request) (string, error) {
	id := sanitizeInput(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", core.ErrMissingUser
	}
	if len(id) > maxUserIDLen {
		return "", fmt.Errorf("%w: user id too long", errBadRequest)
	}
	return id, nil
}

// parseYear reads ?year=. Absent means zero, which services treat as the
// current year.
func parseYear(q url.Values) (int, error) {
	v := strings.TrimSpace(q.Get("year"))
	if v == "" {
		return 0, nil
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1 || y > 9999 {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidYear, v)
	}
	return y, nil
}

// parseMonthParam reads a YYYY-MM value. Absent yields the zero Date.
func parseMonthParam(q url.Values, key string) (core.Date, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return core.Date{}, nil
	}
	return core.ParseMonth(v)
}

// parseDayParam reads a YYYY-MM-DD value. Absent yields the zero Date.
func parseDayParam(q url.Values, key string) (core.Date, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return core.Date{}, nil
	}
	return core.ParseDay(v)
}

// parseRange reads ?start= and ?end= as calendar days.
func parseRange(q url.Values) (core.DateRange, error) {
	start, err := parseDayParam(q, "start")
	if err != nil {
		return core.DateRange{}, err
	}
	end, err := parseDayParam(q, "end")
	if err != nil {
		return core.DateRange{}, err
	}
	r := core.DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return core.DateRange{}, err
	}
	return r, nil
}

// ParseFilters reads the KPI filter set. Every filter is optional; "all"
// and "both" for type mean no type filter.
func ParseFilters(q url.Values) (core.Filters, error) {
	r, err := parseRange(q)
	if err != nil {
		return core.Filters{}, err
	}
	rawType := strings.TrimSpace(q.Get("type"))
	if strings.EqualFold(rawType, "all") || strings.EqualFold(rawType, string(core.Both)) {
		rawType = ""
	}
	t, err := core.ParseTxType(rawType)
	if err != nil {
		return core.Filters{}, fmt.Errorf("%w: %q", err, rawType)
	}
	return core.Filters{
		Range:         r,
		Type:          t,
		CategoryID:    sanitizeInput(q.Get("categoryId")),
		PaymentMethod: sanitizeInput(q.Get("paymentMethod")),
	}, nil
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// parseBool accepts the usual strconv spellings; anything else is false.
func parseBool(v string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(v))
	return b
}

package http

import (
	"strconv"
	"strings"
	"time"
)

// now is swapped in tests that pin the current month.
var now = time.Now

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// cacheKey joins parts with "|". User ids come first after the kind so a
// prefix drops one user's entries.
func cacheKey(kind string, parts ...string) string {
	return kind + "|" + strings.Join(parts, "|")
}

func itoa(n int) string { return strconv.Itoa(n) }

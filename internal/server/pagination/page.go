package pagination

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 1000
)

// Params is a validated page request: rows with a rowid greater than
// StartRowID, at most Limit of them.
type Params struct {
	StartRowID int64
	Limit      int
}

// ParseParams reads start_rowid and limit from q. A missing limit means
// MaxLimit; out of range limits are clamped rather than rejected.
func ParseParams(q url.Values) (Params, error) {
	p := Params{Limit: DefaultLimit}

	if s := q.Get("start_rowid"); s != "" {
		start, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return p, fmt.Errorf("invalid 'start_rowid' parameter: %q is not an integer", s)
		}
		if start < 0 {
			return p, fmt.Errorf("invalid 'start_rowid' parameter: must not be negative")
		}
		p.StartRowID = start
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			return p, fmt.Errorf("invalid 'limit' parameter: %q is not an integer", s)
		}
		p.Limit = ClampLimit(limit)
	}
	return p, nil
}

// ClampLimit bounds n to [1, MaxLimit].
func ClampLimit(n int) int {
	return min(max(n, 1), MaxLimit)
}

// Split truncates rows, read with limit+1, to limit and reports whether
// the page is the last one.
func Split[T any](rows []T, limit int) (page []T, end bool) {
	if len(rows) <= limit {
		return rows, true
	}
	return rows[:limit], false
}

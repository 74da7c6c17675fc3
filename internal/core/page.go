package core

import "math"

// ClampPage keeps (page-1)*limit within a Postgres integer so huge page
// numbers yield an empty page instead of an overflowed offset.
func ClampPage(page, limit int) int {
	if page < 1 {
		return 1
	}
	if limit > 0 && page > math.MaxInt32/limit {
		return math.MaxInt32 / limit
	}
	return page
}

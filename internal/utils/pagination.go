// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// Page limits for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds clamps raw page/size query values and returns the offset/limit
// pair for the repository.
//
// Example:
//
//	offset, limit := utils.PageBounds("3", "50") // 100, 50
//	offset, limit = utils.PageBounds("", "")     // 0, 20
func PageBounds(pageRaw, sizeRaw string) (offset, limit int) {
	page := AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	limit = AtoiDefault(sizeRaw, DefaultPageSize)
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return (page - 1) * limit, limit
}

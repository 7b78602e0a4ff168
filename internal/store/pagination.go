package store

import (
	"fmt"
	"net/http"
	"strconv"
)

// DefaultPageSize and MaxPageSize bound the paginate(page, limit, ...)
// contract.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// PageParams is the parsed (page, limit) pair.
type PageParams struct {
	Page  int
	Limit int
}

// Offset computes the SQL OFFSET for these params.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParsePageParams extracts page/limit query parameters, defaulting and
// clamping per the contract (page >= 1, limit in [1,100]).
func ParsePageParams(r *http.Request) (PageParams, error) {
	p := PageParams{Page: 1, Limit: DefaultPageSize}

	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page must be a positive integer")
		}
		p.Page = n
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.Limit = n
	}

	return p, nil
}

// Page is the result envelope for paginate(page, limit, conditions).
type Page[T any] struct {
	Items      []T  `json:"items"`
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPage builds a Page from a result slice and a total row count.
func NewPage[T any](items []T, params PageParams, total int) Page[T] {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = (total + params.Limit - 1) / params.Limit
	}

	return Page[T]{
		Items:      items,
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}

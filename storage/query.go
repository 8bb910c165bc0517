package storage

import (
	"fmt"
	"strings"

	"github.com/yairfalse/kartta/pkg/resource"
)

// Pagination bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// SortOrder orders results by last-seen time.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Query filters and pages the resource inventory. Zero-valued filters match everything.
type Query struct {
	ResourceType string    `json:"resourceType,omitempty"`
	Region       string    `json:"region,omitempty"`
	AccountName  string    `json:"accountName,omitempty"`
	StarredOnly  bool      `json:"starredOnly"`
	Page         int       `json:"page"`
	Limit        int       `json:"limit"`
	SortOrder    SortOrder `json:"sortOrder"`
}

// Normalize applies defaults and validates paging and sort values.
func (q Query) Normalize() (Query, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	q.SortOrder = SortOrder(strings.ToLower(string(q.SortOrder)))

	if q.Page < 1 {
		return q, fmt.Errorf("page must be >= 1 (got %d)", q.Page)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, fmt.Errorf("limit must be between 1 and %d (got %d)", MaxLimit, q.Limit)
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return q, fmt.Errorf("sortOrder must be asc or desc (got %q)", q.SortOrder)
	}
	return q, nil
}

// Offset returns the number of rows skipped before the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Page is one page of query results.
type Page struct {
	Items      []resource.Resource `json:"data"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalCount int                 `json:"totalCount"`
	TotalPages int                 `json:"totalPages"`
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

package domain

import (
	"slices"
	"time"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter is the list filter owned by the registry.
type Filter struct {
	Search        string
	MatterID      string
	DocumentTypes []string
	Status        DocumentStatus
	DateFrom      *time.Time
	DateTo        *time.Time
}

func (f Filter) Equal(o Filter) bool {
	return f.Search == o.Search &&
		f.MatterID == o.MatterID &&
		slices.Equal(f.DocumentTypes, o.DocumentTypes) &&
		f.Status == o.Status &&
		timePtrEqual(f.DateFrom, o.DateFrom) &&
		timePtrEqual(f.DateTo, o.DateTo)
}

type Sort struct {
	Key   string
	Order SortOrder
}

func DefaultSort() Sort {
	return Sort{Key: "uploadedAt", Order: SortDesc}
}

// ListQuery is one page request against the document API.
type ListQuery struct {
	Filter Filter
	Sort   Sort
	Page   int
	Limit  int
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Pages returns the number of pages for the total count.
func (p Pagination) Pages() int {
	if p.Limit <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

type DocumentPage struct {
	Documents  []Document
	Pagination Pagination
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

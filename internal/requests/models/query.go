package models

import (
	id "opsflow/pkg/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage keeps (Page-1)*Limit inside int32 once Limit is capped.
	MaxPage = 1_000_000
)

// ListFilter selects requests for listing. Zero fields do not filter.
type ListFilter struct {
	RequesterID id.UserID
	Department  string
	Variants    []Variant
	Status      Status
	Page        int
	Limit       int
}

// Normalize applies pagination defaults and caps. Pages past MaxPage clamp
// to it and come back empty.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches reports whether req passes every set filter field.
func (f ListFilter) Matches(req *Request) bool {
	if !f.RequesterID.IsNil() && req.RequesterID != f.RequesterID {
		return false
	}
	if f.Department != "" && req.Department != f.Department {
		return false
	}
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if len(f.Variants) > 0 {
		for _, v := range f.Variants {
			if req.Variant() == v {
				return true
			}
		}
		return false
	}
	return true
}

// Page is one page of a listing plus the unpaged total.
type Page struct {
	Items []*Request
	Total int
	Page  int
	Limit int
}

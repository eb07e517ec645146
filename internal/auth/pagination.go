package auth

import "fmt"

// DefaultPageSize applies when a request asks for page size zero.
const DefaultPageSize = 10

// PageRequest is a validated page_number/page_size pair.
type PageRequest struct {
	Number int
	Size   int
}

// NewPageRequest validates paging input. Page numbers start at 1.
func NewPageRequest(number, size int) (PageRequest, error) {
	if number < 1 {
		return PageRequest{}, fmt.Errorf("%w: page_number must be >= 1", ErrInvalidInput)
	}
	if size < 0 {
		return PageRequest{}, fmt.Errorf("%w: page_size must be >= 0", ErrInvalidInput)
	}
	if size == 0 {
		size = DefaultPageSize
	}
	return PageRequest{Number: number, Size: size}, nil
}

func (p PageRequest) Offset() int { return (p.Number - 1) * p.Size }
func (p PageRequest) Limit() int  { return p.Size }

// Page is one slice of a listing plus navigation.
type Page[T any] struct {
	Items      []T
	TotalCount int
	TotalPages int
	PrevPage   *int
	NextPage   *int
}

// NewPage computes navigation for items fetched with req out of total rows.
func NewPage[T any](req PageRequest, items []T, total int) Page[T] {
	pages := 0
	if req.Size > 0 {
		pages = (total + req.Size - 1) / req.Size
	}
	p := Page[T]{Items: items, TotalCount: total, TotalPages: pages}
	if prev := req.Number - 1; prev >= 1 && prev <= pages {
		p.PrevPage = &prev
	}
	if next := req.Number + 1; next <= pages {
		p.NextPage = &next
	}
	return p
}

package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Params holds zero-based page pagination from a request.
type Params struct {
	Limit int
	Page  int
}

// FromContext reads ?limit= and ?page=. A missing or invalid limit uses
// DefaultLimit; limits above MaxLimit are capped.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 0 {
		page = 0
	}
	return Params{Limit: limit, Page: page}
}

// Offset is the first row index of the page.
func (p Params) Offset() int {
	return p.Page * p.Limit
}

// Range is the inclusive row index range covered by the page.
func (p Params) Range() (from, to int) {
	return p.Offset(), p.Offset() + p.Limit - 1
}

func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Page > 0
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Page    int         `json:"page"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Page:    p.Page,
		HasMore: p.HasNext(total),
	}
}

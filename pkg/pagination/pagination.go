package pagination

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit and offset query parameters, clamping limit to
// [1, MaxLimit] and offset to >= 0.
func FromContext(c echo.Context) Params {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limitParam(c), Offset: offset}
}

func limitParam(c echo.Context) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor pages an append-only sequence such as the event journal. From is
// the first sequence number wanted; zero reads from the start.
type Cursor struct {
	From  uint64
	Limit int
}

// CursorFromContext reads the from and limit query parameters. Unlike
// offsets, a malformed from is an error: silently restarting at zero would
// replay the whole sequence.
func CursorFromContext(c echo.Context) (Cursor, error) {
	cur := Cursor{Limit: limitParam(c)}
	if v := c.QueryParam("from"); v != "" {
		from, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: from=%q", ErrInvalidCursor, v)
		}
		cur.From = from
	}
	return cur, nil
}

// Next returns the cursor following a page of n items ending at sequence
// number last. A short page means the sequence is exhausted.
func (c Cursor) Next(n int, last uint64) (Cursor, bool) {
	if n == 0 || n < c.Limit {
		return Cursor{}, false
	}
	return Cursor{From: last + 1, Limit: c.Limit}, true
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

func NewResponse(data interface{}, total int64, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// WithLinks attaches self/next/previous links rooted at basePath.
func (r *Response) WithLinks(basePath string) *Response {
	p := Params{Limit: r.Limit, Offset: r.Offset}
	r.Links = p.Links(basePath, r.Total)
	return r
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int64) bool {
	return int64(p.Offset+p.Limit) < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Links generates paging links for a list result.
func (p Params) Links(basePath string, total int64) []Link {
	links := []Link{
		{Relation: "self", URL: p.url(basePath, p.Offset)},
	}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: p.url(basePath, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Relation: "previous", URL: p.url(basePath, p.PreviousOffset())})
	}
	return links
}

func (p Params) url(basePath string, offset int) string {
	return fmt.Sprintf("%s?offset=%d&limit=%d", basePath, offset, p.Limit)
}

// Link is a single paging link.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

package pagination

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=50&offset=10", 50, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=0", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
		{"?offset=-5", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := FromContext(ctxFor(tt.query))
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("FromContext(%q) = %+v, want limit %d offset %d", tt.query, p, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	tests := []struct {
		total  int64
		p      Params
		expect bool
	}{
		{10, Params{Limit: 3, Offset: 0}, true},
		{3, Params{Limit: 3, Offset: 0}, false},
		{10, Params{Limit: 5, Offset: 5}, false},
		{0, Params{Limit: 20, Offset: 0}, false},
	}
	for _, tt := range tests {
		r := NewResponse([]int{}, tt.total, tt.p)
		if r.HasMore != tt.expect {
			t.Errorf("total %d %+v: has_more = %v, want %v", tt.total, tt.p, r.HasMore, tt.expect)
		}
		if r.Limit != tt.p.Limit || r.Offset != tt.p.Offset || r.Total != tt.total {
			t.Errorf("response did not echo paging: %+v", r)
		}
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if p.NextOffset() != 15 {
		t.Errorf("NextOffset = %d, want 15", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("PreviousOffset should clamp at 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious at offset 5")
	}
	if (Params{Limit: 10}).HasPrevious() {
		t.Error("first page has no previous page")
	}
	if got := (Params{Limit: 10, Offset: 30}).PreviousOffset(); got != 20 {
		t.Errorf("PreviousOffset = %d, want 20", got)
	}
}

func TestParams_Links(t *testing.T) {
	const base = "/api/v1/medicines"
	tests := []struct {
		name  string
		p     Params
		total int64
		want  map[string]string
	}{
		{"first page", Params{Limit: 10, Offset: 0}, 25, map[string]string{
			"self": base + "?offset=0&limit=10",
			"next": base + "?offset=10&limit=10",
		}},
		{"middle page", Params{Limit: 10, Offset: 10}, 25, map[string]string{
			"self":     base + "?offset=10&limit=10",
			"next":     base + "?offset=20&limit=10",
			"previous": base + "?offset=0&limit=10",
		}},
		{"last page", Params{Limit: 10, Offset: 20}, 25, map[string]string{
			"self":     base + "?offset=20&limit=10",
			"previous": base + "?offset=10&limit=10",
		}},
		{"empty ledger", Params{Limit: 20, Offset: 0}, 0, map[string]string{
			"self": base + "?offset=0&limit=20",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := tt.p.Links(base, tt.total)
			if len(links) != len(tt.want) {
				t.Fatalf("expected %d links, got %+v", len(tt.want), links)
			}
			for _, l := range links {
				if tt.want[l.Relation] != l.URL {
					t.Errorf("%s = %q, want %q", l.Relation, l.URL, tt.want[l.Relation])
				}
			}
		})
	}
}

func TestResponse_WithLinks(t *testing.T) {
	r := NewResponse([]string{"a"}, 3, Params{Limit: 1, Offset: 1}).WithLinks("/api/v1/medicines")
	if len(r.Links) != 3 {
		t.Fatalf("expected self, next and previous links, got %+v", r.Links)
	}
}

func TestCursorFromContext(t *testing.T) {
	tests := []struct {
		query     string
		wantFrom  uint64
		wantLimit int
		wantErr   bool
	}{
		{"", 0, DefaultLimit, false},
		{"?from=42&limit=5", 42, 5, false},
		{"?from=7&limit=1000", 7, MaxLimit, false},
		{"?from=-1", 0, 0, true},
		{"?from=abc", 0, 0, true},
	}
	for _, tt := range tests {
		cur, err := CursorFromContext(ctxFor(tt.query))
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidCursor) {
				t.Errorf("CursorFromContext(%q): expected ErrInvalidCursor, got %v", tt.query, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("CursorFromContext(%q): %v", tt.query, err)
			continue
		}
		if cur.From != tt.wantFrom || cur.Limit != tt.wantLimit {
			t.Errorf("CursorFromContext(%q) = %+v, want from %d limit %d", tt.query, cur, tt.wantFrom, tt.wantLimit)
		}
	}
}

func TestCursor_Next(t *testing.T) {
	cur := Cursor{From: 1, Limit: 3}

	next, ok := cur.Next(3, 9)
	if !ok || next.From != 10 || next.Limit != 3 {
		t.Errorf("full page: got %+v, %v", next, ok)
	}
	if _, ok := cur.Next(2, 9); ok {
		t.Error("short page should end the sequence")
	}
	if _, ok := cur.Next(0, 0); ok {
		t.Error("empty page should end the sequence")
	}
}

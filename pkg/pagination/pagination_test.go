package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Page != 0 {
		t.Errorf("expected page 0, got %d", p.Page)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor("?limit=25&page=3")
	if p.Limit != 25 || p.Page != 3 {
		t.Errorf("expected 25/3, got %d/%d", p.Limit, p.Page)
	}
	if p.Offset() != 75 {
		t.Errorf("expected offset 75, got %d", p.Offset())
	}
	from, to := p.Range()
	if from != 75 || to != 99 {
		t.Errorf("expected range 75..99, got %d..%d", from, to)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := paramsFor("?limit=5000&page=-2")
	if p.Limit != MaxLimit {
		t.Errorf("expected max limit, got %d", p.Limit)
	}
	if p.Page != 0 {
		t.Errorf("expected page clamped to 0, got %d", p.Page)
	}
	if p := paramsFor("?limit=abc"); p.Limit != DefaultLimit {
		t.Errorf("expected default for invalid limit, got %d", p.Limit)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Page: 1})
	if !r.HasMore {
		t.Error("expected more after page 1 of 5 rows")
	}
	r = NewResponse([]int{5}, 5, Params{Limit: 2, Page: 2})
	if r.HasMore {
		t.Error("expected last page")
	}
	if !(Params{Page: 1}).HasPrevious() || (Params{}).HasPrevious() {
		t.Error("HasPrevious mismatch")
	}
}

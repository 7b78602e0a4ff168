package store

import (
	"net/http/httptest"
	"testing"
)

func TestParsePageParams_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/visits", nil)
	p, err := ParsePageParams(r)
	if err != nil {
		t.Fatalf("ParsePageParams: %v", err)
	}
	if p.Page != 1 || p.Limit != DefaultPageSize {
		t.Errorf("defaults = %+v, want page=1 limit=%d", p, DefaultPageSize)
	}
}

func TestParsePageParams_ClampsLimit(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/visits?page=3&limit=500", nil)
	p, err := ParsePageParams(r)
	if err != nil {
		t.Fatalf("ParsePageParams: %v", err)
	}
	if p.Page != 3 {
		t.Errorf("page = %d, want 3", p.Page)
	}
	if p.Limit != MaxPageSize {
		t.Errorf("limit = %d, want clamped to %d", p.Limit, MaxPageSize)
	}
}

func TestParsePageParams_Rejects(t *testing.T) {
	for _, q := range []string{"page=0", "page=-1", "page=abc", "limit=0", "limit=-5", "limit=xyz"} {
		r := httptest.NewRequest("GET", "/api/visits?"+q, nil)
		if _, err := ParsePageParams(r); err == nil {
			t.Errorf("ParsePageParams(%q) = nil error, want rejection", q)
		}
	}
}

func TestPageParams_Offset(t *testing.T) {
	if got := (PageParams{Page: 1, Limit: 25}).Offset(); got != 0 {
		t.Errorf("offset = %d, want 0", got)
	}
	if got := (PageParams{Page: 4, Limit: 10}).Offset(); got != 30 {
		t.Errorf("offset = %d, want 30", got)
	}
}

func TestNewPage(t *testing.T) {
	items := []int{1, 2, 3}

	p := NewPage(items, PageParams{Page: 2, Limit: 3}, 7)
	if p.Total != 7 {
		t.Errorf("total = %d, want 7", p.Total)
	}
	if p.TotalPages != 3 {
		t.Errorf("totalPages = %d, want 3", p.TotalPages)
	}
	if !p.HasNext {
		t.Error("page 2 of 3 should have next")
	}
	if !p.HasPrev {
		t.Error("page 2 of 3 should have prev")
	}

	last := NewPage(items, PageParams{Page: 3, Limit: 3}, 7)
	if last.HasNext {
		t.Error("last page should not have next")
	}

	empty := NewPage([]int(nil), PageParams{Page: 1, Limit: 10}, 0)
	if empty.TotalPages != 0 || empty.HasNext || empty.HasPrev {
		t.Errorf("empty result pagination = %+v", empty)
	}
}

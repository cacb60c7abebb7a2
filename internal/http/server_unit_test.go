package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Basic abc":        "",
		"Bearer":           "",
		"Bearer  abc ":     "abc",
		"Token Bearer abc": "",
	}
	for header, expect := range cases {
		if got := bearerToken(header); got != expect {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, expect)
		}
	}
}

func TestClampCodeValidity(t *testing.T) {
	cases := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 15 * time.Minute},
		{-3, 15 * time.Minute},
		{1, 5 * time.Minute},
		{5, 5 * time.Minute},
		{15, 15 * time.Minute},
		{30, 30 * time.Minute},
		{90, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := clampCodeValidity(tc.minutes); got != tc.want {
			t.Fatalf("clampCodeValidity(%d) = %v, want %v", tc.minutes, got, tc.want)
		}
	}
}

func TestParseQRPayload(t *testing.T) {
	if code, ok := parseQRPayload(`{"activityId":7,"timestamp":"2025-04-01T10:00:00Z"}`, 7); !ok || code != "" {
		t.Fatalf("expected valid payload, got %q", code)
	}
	if code, ok := parseQRPayload(`{"activityId":7}`, 8); ok || code != "qr_activity_mismatch" {
		t.Fatalf("expected mismatch, got ok=%v code=%q", ok, code)
	}
	if code, ok := parseQRPayload(`not-json`, 7); ok || code != "invalid_qr_payload" {
		t.Fatalf("expected invalid payload, got ok=%v code=%q", ok, code)
	}
	if code, ok := parseQRPayload(`{}`, 7); ok || code != "invalid_qr_payload" {
		t.Fatalf("expected invalid payload for missing id, got ok=%v code=%q", ok, code)
	}
}

func TestParsePagination(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/activities?page=3&pageSize=25", nil)
	page, size := parsePagination(r, 10)
	if page != 3 || size != 25 {
		t.Fatalf("got page=%d size=%d", page, size)
	}

	r = httptest.NewRequest("GET", "/api/activities", nil)
	page, size = parsePagination(r, 10)
	if page != 1 || size != 10 {
		t.Fatalf("defaults: got page=%d size=%d", page, size)
	}

	r = httptest.NewRequest("GET", "/api/activities?page=-1&pageSize=5000", nil)
	page, size = parsePagination(r, 10)
	if page != 1 || size != maxPageSize {
		t.Fatalf("bounds: got page=%d size=%d", page, size)
	}
}

func TestTotalPages(t *testing.T) {
	cases := []struct {
		total, size, want int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{100, 20, 5},
	}
	for _, tc := range cases {
		if got := totalPages(tc.total, tc.size); got != tc.want {
			t.Fatalf("totalPages(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}

func TestAllowedImageExt(t *testing.T) {
	valid := map[string]string{
		"photo.PNG":   "png",
		"a.jpg":       "jpg",
		"b.jpeg":      "jpeg",
		"c.gif":       "gif",
		"d.webp":      "webp",
		"x.tar.webp":  "webp",
		"noise.a.jpg": "jpg",
	}
	for name, expect := range valid {
		ext, ok := allowedImageExt(name)
		if !ok || ext != expect {
			t.Fatalf("allowedImageExt(%q) = %q, %v", name, ext, ok)
		}
	}
	for _, name := range []string{"run.exe", "doc.pdf", "noext", "trick.jpg.sh"} {
		if _, ok := allowedImageExt(name); ok {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestUploadFilename(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)
	name := uploadFilename("png", now)
	if !strings.HasSuffix(name, "_20250401103000.png") {
		t.Fatalf("unexpected filename %q", name)
	}
	if len(name) != 32+len("_20250401103000.png") {
		t.Fatalf("unexpected filename length %q", name)
	}
	if name == uploadFilename("png", now) {
		t.Fatalf("expected unique filenames")
	}
}

func TestCheckInRate(t *testing.T) {
	if rate := checkInRate(0, 0); rate != 0 {
		t.Fatalf("expected 0 for empty activity, got %v", rate)
	}
	if rate := checkInRate(1, 4); rate != 0.25 {
		t.Fatalf("expected 0.25, got %v", rate)
	}
}

func TestMapSubItemRequests(t *testing.T) {
	cap3 := 3
	items, ok := mapSubItemRequests([]subItemRequest{
		{Name: "Morning"},
		{Name: "Afternoon", Capacity: &cap3},
	})
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 items, got ok=%v items=%v", ok, items)
	}
	if items[1].Capacity == nil || *items[1].Capacity != 3 {
		t.Fatalf("capacity lost")
	}

	if _, ok := mapSubItemRequests([]subItemRequest{{Name: "A"}, {Name: "A"}}); ok {
		t.Fatalf("expected duplicate names to be rejected")
	}
	if _, ok := mapSubItemRequests([]subItemRequest{{Name: "  "}}); ok {
		t.Fatalf("expected blank name to be rejected")
	}
	zero := 0
	if _, ok := mapSubItemRequests([]subItemRequest{{Name: "A", Capacity: &zero}}); ok {
		t.Fatalf("expected zero capacity to be rejected")
	}
}

package export

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewWorkbook(t *testing.T) {
	wb, err := NewWorkbook([]SheetSpec{{
		Title:  "Registrations",
		Header: []string{"#", "Name", "Email"},
		Rows: [][]string{
			{"1", "Alice", "alice@example.com"},
			{"2", "Bob", "bob@example.com"},
		},
	}})
	if err != nil {
		t.Fatalf("build error: %v", err)
	}

	got, err := wb.File.GetCellValue("Registrations", "B2")
	if err != nil {
		t.Fatalf("cell read: %v", err)
	}
	if got != "Alice" {
		t.Fatalf("B2 = %q, want Alice", got)
	}
	header, err := wb.File.GetCellValue("Registrations", "C1")
	if err != nil {
		t.Fatalf("cell read: %v", err)
	}
	if header != "Email" {
		t.Fatalf("C1 = %q, want Email", header)
	}

	var buf bytes.Buffer
	if err := wb.WriteTo(&buf); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("empty workbook output")
	}
}

func TestNewWorkbookEmpty(t *testing.T) {
	if _, err := NewWorkbook(nil); err == nil {
		t.Fatalf("expected error for empty sheet list")
	}
}

func TestBuildExportFilename(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)
	name := BuildExportFilename(`Open/Day: "Spring"`, "checkins", now)
	if strings.ContainsAny(name, `\/:*?"<>|`) {
		t.Fatalf("unsanitized filename %q", name)
	}
	if !strings.HasSuffix(name, "_checkins_20250401103000.xlsx") {
		t.Fatalf("unexpected filename %q", name)
	}
}

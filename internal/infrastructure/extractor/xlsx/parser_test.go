package xlsx

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"Metric", "Q2 2025", "Q3 2025"}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{"Revenue", 100, 120}); err != nil {
		t.Fatalf("write row: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A3", &[]any{"EBITDA", 20}); err != nil {
		t.Fatalf("write row: %v", err)
	}
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParseSheetsAsTables(t *testing.T) {
	elements, err := NewParser().Parse(context.Background(), workbook(t))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(elements) != 1 {
		t.Fatalf("expected empty sheet skipped, got %d elements", len(elements))
	}
	el := elements[0]
	if el.Type != domain.ElementTable || el.PageNumber != 1 || el.Table.Caption != "Sheet1" {
		t.Fatalf("unexpected element %+v", el)
	}
	if el.Table.Headers[0][2] != "Q3 2025" {
		t.Fatalf("unexpected header %+v", el.Table.Headers)
	}
	if len(el.Table.Rows) != 2 || el.Table.Rows[0][2] != "120" {
		t.Fatalf("unexpected rows %+v", el.Table.Rows)
	}
	if len(el.Table.Rows[1]) != 3 {
		t.Fatalf("expected short row padded to width 3, got %v", el.Table.Rows[1])
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := NewParser().Parse(context.Background(), []byte("not a workbook")); err == nil {
		t.Fatalf("expected error")
	}
}

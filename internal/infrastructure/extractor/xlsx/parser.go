// Package xlsx turns spreadsheet workbooks into TABLE elements, one per
// sheet.
package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse maps sheet i to page i+1. The first non-empty row is the header and
// the sheet name is the caption.
func (p *Parser) Parse(_ context.Context, raw []byte) ([]domain.Element, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var elements []domain.Element
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		rows = dropEmptyRows(rows)
		if len(rows) == 0 {
			continue
		}

		width := 0
		for _, row := range rows {
			width = max(width, len(row))
		}
		for j := range rows {
			rows[j] = pad(rows[j], width)
		}

		elements = append(elements, domain.Element{
			Type:       domain.ElementTable,
			PageNumber: i + 1,
			Position:   len(elements),
			Content:    sheet,
			Table: &domain.TableData{
				Caption: sheet,
				Headers: [][]string{rows[0]},
				Rows:    rows[1:],
			},
		})
	}
	return elements, nil
}

func dropEmptyRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func pad(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

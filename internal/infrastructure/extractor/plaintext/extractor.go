package plaintext

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

// Parser reads UTF-8 text. Form feeds start a new page, blank lines separate
// paragraphs and runs of pipe-delimited lines become TABLE elements.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) ([]domain.Element, error) {
	if !utf8.Valid(raw) {
		return nil, errors.New("plain text document is not valid UTF-8")
	}

	var elements []domain.Element
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	for i, page := range strings.Split(text, "\f") {
		elements = appendPage(elements, i+1, page)
	}
	return elements, nil
}

func appendPage(elements []domain.Element, page int, text string) []domain.Element {
	var paragraph, table []string

	flushParagraph := func() {
		content := strings.TrimSpace(strings.Join(paragraph, "\n"))
		paragraph = paragraph[:0]
		if content == "" {
			return
		}
		elements = append(elements, domain.Element{
			Type:       domain.ElementText,
			PageNumber: page,
			Position:   len(elements),
			Content:    content,
		})
	}
	flushTable := func() {
		if len(table) == 0 {
			return
		}
		elements = append(elements, domain.Element{
			Type:       domain.ElementTable,
			PageNumber: page,
			Position:   len(elements),
			Content:    strings.Join(table, "\n"),
			Table:      parsePipeTable(table),
		})
		table = table[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "|"):
			flushParagraph()
			table = append(table, trimmed)
		case trimmed == "":
			flushTable()
			flushParagraph()
		default:
			flushTable()
			paragraph = append(paragraph, line)
		}
	}
	flushTable()
	flushParagraph()
	return elements
}

// parsePipeTable treats the first line as the header when a separator line
// such as |---|---| follows it.
func parsePipeTable(lines []string) *domain.TableData {
	data := &domain.TableData{}
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, splitPipeRow(line))
	}
	if len(rows) > 1 && isSeparatorRow(rows[1]) {
		data.Headers = [][]string{rows[0]}
		rows = rows[2:]
	}
	for _, row := range rows {
		if !isSeparatorRow(row) {
			data.Rows = append(data.Rows, row)
		}
	}
	return data
}

func splitPipeRow(line string) []string {
	line = strings.TrimPrefix(strings.TrimSpace(line), "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" || c == "" {
			return false
		}
	}
	return true
}

package chunking

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

type serializedTable struct {
	header       string
	headerTokens int
	rows         []string
	rowTokens    []int
}

func (t serializedTable) totalTokens() int {
	total := t.headerTokens
	for _, n := range t.rowTokens {
		total += n
	}
	return total
}

func (b *builder) addTable(el domain.Element, context string) {
	if len(el.Table.Rows) == 0 {
		slog.Info("chunking_empty_table_dropped",
			"document_id", b.doc.ID,
			"page", el.PageNumber,
			"position", el.Position,
		)
		return
	}

	table := serializeTable(el.Table, context)
	id := tableID(b.doc.ID, b.tables)
	b.tables++

	groups := [][]int{allRows(len(table.rows))}
	if table.totalTokens() > b.opts.TableCeiling {
		groups = packRows(table, rowGroupSize(table, b.opts.TableCeiling), b.opts.TableCeiling)
	}

	for part, rows := range groups {
		var sb strings.Builder
		sb.WriteString(table.header)
		tokens := table.headerTokens
		for _, i := range rows {
			sb.WriteByte('\n')
			sb.WriteString(table.rows[i])
			tokens += table.rowTokens[i]
		}
		if tokens > b.opts.TableCeiling {
			// Only a single row that is larger than the ceiling on its own.
			slog.Warn("chunking_table_row_exceeds_ceiling",
				"document_id", b.doc.ID,
				"table_id", id,
				"part_index", part,
				"tokens", tokens,
				"ceiling", b.opts.TableCeiling,
			)
		}

		chunk := b.newChunk(domain.ChunkTable, sb.String())
		chunk.PageNumber = el.PageNumber
		chunk.Pages = []int{el.PageNumber}
		chunk.WordCount = tokens
		chunk.TableID = id
		chunk.PartIndex = part
		chunk.PartCount = len(groups)
		chunk.TableContext = context
		b.chunks = append(b.chunks, chunk)
	}
}

// rowGroupSize is the largest G with headerTokens + G*avgRowTokens <= ceiling,
// and at least one row.
func rowGroupSize(t serializedTable, ceiling int) int {
	rowTotal := t.totalTokens() - t.headerTokens
	if rowTotal <= 0 {
		return len(t.rows)
	}
	avg := float64(rowTotal) / float64(len(t.rows))
	g := int(math.Floor(float64(ceiling-t.headerTokens) / avg))
	return max(g, 1)
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// packRows fills groups of at most size rows, closing a group early when the
// next row would push header plus rows past the ceiling. A row that alone
// exceeds the ceiling becomes its own group.
func packRows(t serializedTable, size, ceiling int) [][]int {
	var groups [][]int
	var current []int
	tokens := t.headerTokens
	for i, n := range t.rowTokens {
		if len(current) > 0 && (len(current) == size || tokens+n > ceiling) {
			groups = append(groups, current)
			current = nil
			tokens = t.headerTokens
		}
		current = append(current, i)
		tokens += n
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func serializeTable(t *domain.TableData, context string) serializedTable {
	headers := t.Headers
	if len(headers) == 0 {
		headers = [][]string{placeholderHeader(t.Rows)}
	}

	lines := make([]string, 0, len(headers)+1)
	if context != "" {
		lines = append(lines, "Table: "+context)
	}
	for _, h := range headers {
		lines = append(lines, joinCells(h))
	}
	header := strings.Join(lines, "\n")

	out := serializedTable{
		header:       header,
		headerTokens: CountTokens(header),
		rows:         make([]string, len(t.Rows)),
		rowTokens:    make([]int, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.rows[i] = joinCells(row)
		out.rowTokens[i] = CountTokens(out.rows[i])
	}
	return out
}

func placeholderHeader(rows [][]string) []string {
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	header := make([]string, width)
	for i := range header {
		header[i] = fmt.Sprintf("col_%d", i+1)
	}
	return header
}

func joinCells(cells []string) string {
	trimmed := make([]string, len(cells))
	for i, c := range cells {
		trimmed[i] = strings.Join(strings.Fields(c), " ")
	}
	return "| " + strings.Join(trimmed, " | ") + " |"
}

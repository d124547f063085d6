// Package chunking turns parser elements into bounded, attributable chunks.
// Prose is cut with a sliding token window; tables stay atomic up to a token
// ceiling and are otherwise split row-wise with the header and a short
// context prefix replicated into every part.
package chunking

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

const (
	DefaultChunkSize     = 512
	DefaultOverlap       = 50
	DefaultTableCeiling  = 4096
	DefaultContextTokens = 32
)

type Options struct {
	ChunkSize    int
	Overlap      int
	TableCeiling int
	// ContextTokens bounds the preceding TEXT element that may serve as a
	// table's context when the table has no caption.
	ContextTokens int
}

func (o Options) normalize() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.ChunkSize {
		o.Overlap = o.ChunkSize / 4
	}
	if o.TableCeiling <= 0 {
		o.TableCeiling = DefaultTableCeiling
	}
	if o.ContextTokens <= 0 {
		o.ContextTokens = DefaultContextTokens
	}
	return o
}

type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	return &Chunker{opts: opts.normalize()}
}

func (c *Chunker) Options() Options {
	return c.opts
}

// Chunk is deterministic: the same document id and element sequence always
// yield the same chunks, ids included.
func (c *Chunker) Chunk(doc *domain.Document, elements []domain.Element) []domain.Chunk {
	ordered := make([]domain.Element, len(elements))
	copy(ordered, elements)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PageNumber != ordered[j].PageNumber {
			return ordered[i].PageNumber < ordered[j].PageNumber
		}
		return ordered[i].Position < ordered[j].Position
	})

	b := &builder{doc: doc, opts: c.opts}
	var previous *domain.Element
	for i := range ordered {
		el := ordered[i]
		el.PageNumber = max(el.PageNumber, 1)

		switch el.Type {
		case domain.ElementTable:
			if el.Table == nil {
				err := domain.WrapError(domain.ErrIngestion, "chunk table", fmt.Errorf("table element at position %d has no table data", el.Position))
				slog.Warn("chunking_table_recovered_as_text",
					"document_id", doc.ID,
					"page", el.PageNumber,
					"position", el.Position,
					"error", err,
				)
				b.addText(el)
			} else {
				b.flushText()
				b.addTable(el, tableContext(el, previous, c.opts.ContextTokens))
			}
		case domain.ElementText:
			b.addText(el)
		default:
			slog.Warn("chunking_unknown_element_type",
				"document_id", doc.ID,
				"type", string(el.Type),
				"page", el.PageNumber,
				"position", el.Position,
			)
			b.addText(el)
		}
		previous = &ordered[i]
	}
	b.flushText()
	return b.chunks
}

type builder struct {
	doc    *domain.Document
	opts   Options
	window window
	chunks []domain.Chunk
	tables int
}

func (b *builder) addText(el domain.Element) {
	b.window.add(el.Content, el.PageNumber)
	b.drain(false)
}

// drain emits full windows; with final set it also emits the remainder.
func (b *builder) drain(final bool) {
	for {
		words, ok := b.window.next(b.opts.ChunkSize, b.opts.Overlap, final)
		if !ok {
			return
		}
		b.emitText(words)
	}
}

func (b *builder) flushText() {
	b.drain(false)
	b.drain(true)
	b.window.reset()
}

func (b *builder) emitText(words []word) {
	fields := make([]string, 0, len(words))
	pageCounts := make(map[int]int)
	tokens := 0
	for _, w := range words {
		fields = append(fields, w.text)
		if w.counted {
			pageCounts[w.page]++
			tokens++
		}
	}
	chunk := b.newChunk(domain.ChunkText, strings.Join(fields, " "))
	chunk.PageNumber, chunk.Pages = majorityPage(pageCounts)
	chunk.WordCount = tokens
	b.chunks = append(b.chunks, chunk)
}

func (b *builder) newChunk(kind domain.ChunkType, text string) domain.Chunk {
	index := len(b.chunks)
	return domain.Chunk{
		ID:         ChunkID(b.doc.ID, index),
		DocumentID: b.doc.ID,
		SourceName: b.doc.SourceName,
		ChunkIndex: index,
		Type:       kind,
		Text:       text,
		CharCount:  utf8.RuneCountInString(text),
	}
}

// ChunkID derives a stable chunk id from the document id and chunk index.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", documentID, index))).String()
}

func tableID(documentID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-table-%d", documentID, ordinal))).String()
}

// majorityPage returns the page holding most tokens (earliest on ties) and
// every page present, sorted.
func majorityPage(counts map[int]int) (int, []int) {
	pages := make([]int, 0, len(counts))
	for page := range counts {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	best, bestCount := 1, -1
	for _, page := range pages {
		if counts[page] > bestCount {
			best, bestCount = page, counts[page]
		}
	}
	return best, pages
}

// tableContext prefers the caption, then a short TEXT element immediately
// preceding the table.
func tableContext(el domain.Element, previous *domain.Element, maxTokens int) string {
	if caption := strings.TrimSpace(el.Table.Caption); caption != "" {
		return caption
	}
	if previous == nil || previous.Type != domain.ElementText {
		return ""
	}
	heading := strings.Join(strings.Fields(previous.Content), " ")
	if heading == "" || CountTokens(heading) > maxTokens {
		return ""
	}
	return heading
}

// CountTokens counts whitespace-separated fields containing a letter or digit.
func CountTokens(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		if isToken(f) {
			n++
		}
	}
	return n
}

func isToken(field string) bool {
	for _, r := range field {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

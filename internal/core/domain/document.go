package domain

import (
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document is immutable once ingested; re-ingesting the same source creates a
// new document and marks the previous one superseded.
type Document struct {
	ID           string         `json:"id"`
	SourceName   string         `json:"source_name"`
	MimeType     string         `json:"mime_type"`
	StoragePath  string         `json:"storage_path"`
	PageCount    int            `json:"page_count"`
	Status       DocumentStatus `json:"status"`
	Error        string         `json:"error,omitempty"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	ChunkCount   int            `json:"chunk_count"`
	CreatedAt    time.Time      `json:"ingested_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ElementType string

const (
	ElementText  ElementType = "TEXT"
	ElementTable ElementType = "TABLE"
)

// Element is one ordered unit produced by the parser.
type Element struct {
	Type       ElementType `json:"type"`
	PageNumber int         `json:"page_number"`
	Position   int         `json:"position"`
	Content    string      `json:"raw_content"`
	Table      *TableData  `json:"table,omitempty"`
}

type TableData struct {
	Caption string     `json:"caption,omitempty"`
	Headers [][]string `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// Mime types the element extractors understand.
const (
	MimeElementsJSON = "application/json"
	MimePlainText    = "text/plain"
	MimePDF          = "application/pdf"
	MimeXLSX         = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SupportedMimeType ignores parameters such as charset.
func SupportedMimeType(mimeType string) bool {
	switch BaseMimeType(mimeType) {
	case MimeElementsJSON, MimePlainText, MimePDF, MimeXLSX:
		return true
	default:
		return false
	}
}

func BaseMimeType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

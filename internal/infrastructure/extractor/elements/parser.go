// Package elements reads element lists produced by an external document
// parser.
package elements

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

type envelope struct {
	Elements []domain.Element `json:"elements"`
}

// Parser accepts either a bare JSON array of elements or {"elements": [...]}.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) ([]domain.Element, error) {
	trimmed := bytes.TrimSpace(raw)
	var elements []domain.Element
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("decode element array: %w", err)
		}
		return elements, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode element envelope: %w", err)
	}
	return env.Elements, nil
}

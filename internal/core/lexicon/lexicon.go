// Package lexicon holds the controlled financial vocabulary shared by query
// classification and chunk metadata extraction: the metric gazetteer, the
// optional entity gazetteer and the temporal matcher.
package lexicon

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/fin-retrieval/internal/core/domain"
)

//go:embed default.yaml
var defaultYAML []byte

type fileFormat struct {
	Metrics []struct {
		Category string   `yaml:"category"`
		Phrases  []string `yaml:"phrases"`
	} `yaml:"metrics"`
	Entities []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"entities"`
	Stopwords      []string        `yaml:"stopwords"`
	RoutingSamples []RoutingSample `yaml:"routing_samples"`
}

// RoutingSample is a labeled query used to guard against over-routing.
type RoutingSample struct {
	Query    string          `yaml:"query"`
	Strategy domain.Strategy `yaml:"strategy"`
}

type phrase struct {
	tokens []string
	label  string
}

type Lexicon struct {
	metrics   []phrase
	entities  []phrase
	stopwords map[string]struct{}
	samples   []RoutingSample
}

// Default returns the built-in vocabulary.
func Default() *Lexicon {
	lex, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("lexicon: invalid built-in vocabulary: %v", err))
	}
	return lex
}

// Load reads a vocabulary file; an empty path yields the built-in one.
func Load(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon file: %w", err)
	}
	lex, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse lexicon file %s: %w", path, err)
	}
	return lex, nil
}

func Parse(raw []byte) (*Lexicon, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	lex := &Lexicon{
		stopwords: make(map[string]struct{}, len(f.Stopwords)),
		samples:   f.RoutingSamples,
	}
	for _, m := range f.Metrics {
		category := strings.TrimSpace(m.Category)
		if category == "" {
			return nil, fmt.Errorf("metric without category")
		}
		for _, p := range m.Phrases {
			if tokens := Tokenize(p); len(tokens) > 0 {
				lex.metrics = append(lex.metrics, phrase{tokens: tokens, label: category})
			}
		}
	}
	for _, e := range f.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("entity without name")
		}
		for _, alias := range append([]string{name}, e.Aliases...) {
			if tokens := Tokenize(alias); len(tokens) > 0 {
				lex.entities = append(lex.entities, phrase{tokens: tokens, label: name})
			}
		}
	}
	for _, w := range f.Stopwords {
		lex.stopwords[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}

	sortPhrases(lex.metrics)
	sortPhrases(lex.entities)
	return lex, nil
}

// longest phrase first so "ebitda margin" wins over "ebitda".
func sortPhrases(ps []phrase) {
	sort.SliceStable(ps, func(i, j int) bool {
		return len(ps[i].tokens) > len(ps[j].tokens)
	})
}

func (l *Lexicon) RoutingSamples() []RoutingSample {
	return l.samples
}

// MatchMetric returns the metric category of the first gazetteer phrase found
// in text.
func (l *Lexicon) MatchMetric(text string) (string, bool) {
	return matchFirst(l.metrics, Tokenize(text))
}

// MatchEntity returns the canonical entity name of the first alias found in text.
func (l *Lexicon) MatchEntity(text string) (string, bool) {
	return matchFirst(l.entities, Tokenize(text))
}

// ContentTokens returns lowercase alphanumeric tokens of text without
// stopwords, in order and deduplicated.
func (l *Lexicon) ContentTokens(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := l.stopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func matchFirst(phrases []phrase, tokens []string) (string, bool) {
	for start := range tokens {
		for _, p := range phrases {
			if hasPhraseAt(tokens, start, p.tokens) {
				return p.label, true
			}
		}
	}
	return "", false
}

func hasPhraseAt(tokens []string, start int, want []string) bool {
	if start+len(want) > len(tokens) {
		return false
	}
	for i, w := range want {
		if tokens[start+i] != w {
			return false
		}
	}
	return true
}

// Tokenize splits s into lowercase alphanumeric runs.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '\'' {
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

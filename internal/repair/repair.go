// Package repair recovers dataset records from unreliable model output.
//
// Parse tries, in order: the first JSON array as-is, the same array with
// its escape sequences normalized, a markup harvesting strategy, a cleaned
// second attempt at the array, individual flat objects, and finally the raw
// text itself. Only the repair paths pad short results up to the expected
// count; a well-formed array is returned exactly as the model produced it.
package repair

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// Path names the cascade stage that produced a result
type Path string

const (
	PathDirect     Path = "direct"
	PathNormalized Path = "normalized"
	PathMarkup     Path = "markup"
	PathArray      Path = "array"
	PathObjects    Path = "objects"
	PathText       Path = "text"
)

// DefaultExpected is used when the caller does not know how many records to expect
const DefaultExpected = 5

// Result holds recovered records and the path that recovered them
type Result struct {
	Records []models.Record
	Path    Path
	Padded  int
}

// Parser runs the repair cascade. The zero value has no markup strategy.
type Parser struct {
	markup Strategy
}

// Option configures a Parser
type Option func(*Parser)

// WithStrategy replaces the markup strategy. A nil strategy disables it.
func WithStrategy(s Strategy) Option {
	return func(p *Parser) {
		p.markup = s
	}
}

// NewParser returns a parser using MarkupStrategy unless overridden
func NewParser(opts ...Option) *Parser {
	p := &Parser{markup: MarkupStrategy{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var arrayPattern = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)

// Parse recovers records from text. It fails only when text is blank.
func (p *Parser) Parse(text string, expected int) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, apperr.New(apperr.KindResponseParse, "empty response")
	}
	if expected <= 0 {
		expected = DefaultExpected
	}

	if match := arrayPattern.FindString(text); match != "" {
		if records, ok := decodeArray(match); ok {
			return Result{Records: records, Path: PathDirect}, nil
		}
		if records, ok := decodeArray(normalizeEscapes(match)); ok {
			return Result{Records: records, Path: PathNormalized}, nil
		}
		if res, ok := p.repair(match, expected); ok {
			return res, nil
		}
	} else if res, ok := p.repair(text, expected); ok {
		return res, nil
	}

	return pad(textRecords(text), expected, PathText, fallbackNote), nil
}

// repair runs the markup, cleaned-array and object stages on text
func (p *Parser) repair(text string, expected int) (Result, bool) {
	if p.markup != nil && p.markup.Detect(text) {
		if records := p.markup.Extract(text, expected); len(records) > 0 {
			return pad(records, expected, PathMarkup, ""), true
		}
	}

	cleaned := cleanup(text)
	if match := arrayPattern.FindString(cleaned); match != "" {
		if records, ok := decodeArray(match); ok && len(records) > 0 {
			return pad(records, expected, PathArray, ""), true
		}
	}

	if records := extractObjects(cleaned); len(records) > 0 {
		return pad(records, expected, PathObjects, ""), true
	}
	return Result{}, false
}

// decodeArray parses s as a JSON array. Non-object elements are wrapped as content records.
func decodeArray(s string) ([]models.Record, bool) {
	var items []any
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, models.Record(obj))
			continue
		}
		records = append(records, models.Record{"content": item, "generated": true})
	}
	return records, true
}

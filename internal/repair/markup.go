package repair

import (
	"regexp"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

// Strategy recognizes one kind of non-JSON response and harvests records from it
type Strategy interface {
	Detect(text string) bool
	Extract(text string, limit int) []models.Record
}

// MarkupStrategy handles responses where the model wrote UI component code
// instead of data. Text between tags and long quoted attribute values are
// turned into input/output records.
type MarkupStrategy struct{}

var (
	markupPattern  = regexp.MustCompile(`(?i)return\s*\(.*<.*>|<div|<span|<p|<button|className=|import\s+React`)
	tagTextPattern = regexp.MustCompile(`>([^<]+)<`)
	quotedPattern  = regexp.MustCompile(`["']([^"']+)["']`)
)

// minAttrLen is the length a quoted attribute must exceed to count as content
const minAttrLen = 5

func (MarkupStrategy) Detect(text string) bool {
	return markupPattern.MatchString(text)
}

func (MarkupStrategy) Extract(text string, limit int) []models.Record {
	var fragments []string
	for _, m := range tagTextPattern.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			fragments = append(fragments, s)
		}
	}
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		s := strings.TrimSpace(m[1])
		if len(s) > minAttrLen && !strings.Contains(s, "=") {
			fragments = append(fragments, s)
		}
	}

	if len(fragments) > limit {
		fragments = fragments[:limit]
	}
	records := make([]models.Record, 0, len(fragments))
	for i, s := range fragments {
		records = append(records, models.Record{
			"id":        i + 1,
			"input":     s,
			"output":    "Response for " + s,
			"extracted": true,
		})
	}
	return records
}

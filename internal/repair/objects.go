package repair

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

var (
	flatObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)
	fractionPattern   = regexp.MustCompile(`^\{\s*\d+\s*/\s*\d+\s*\}$`)
	wordPattern       = regexp.MustCompile(`^\{\s*[a-zA-Z]+\s*\}$`)
	numberPattern     = regexp.MustCompile(`^\{\s*\d+\s*\}$`)

	bareKeyPattern       = regexp.MustCompile(`([{,])\s*(\w+)\s*:`)
	singleQuotedPattern  = regexp.MustCompile(`:\s*'([^']*)'\s*([,}])`)
	trailingCommaPattern = regexp.MustCompile(`,\s*}`)
)

var cleanupReplacer = strings.NewReplacer(
	"`", `"`,
	`\'`, `'`,
	`\n`, " ",
	`\r`, " ",
	`\t`, " ",
)

// cleanup strips control characters and common quoting damage
func cleanup(s string) string {
	s = strings.Map(func(r rune) rune {
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			return -1
		}
		return r
	}, s)
	return cleanupReplacer.Replace(s)
}

// extractObjects parses every flat {...} in s that plausibly is an object
func extractObjects(s string) []models.Record {
	var records []models.Record
	for _, candidate := range flatObjectPattern.FindAllString(s, -1) {
		if !looksLikeObject(candidate) {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(repairObject(candidate)), &obj); err != nil {
			continue
		}
		records = append(records, models.Record(obj))
	}
	return records
}

func looksLikeObject(s string) bool {
	switch {
	case fractionPattern.MatchString(s), wordPattern.MatchString(s), numberPattern.MatchString(s):
		return false
	case !strings.Contains(s, ":"):
		return false
	case strings.Contains(s, "return"), strings.Contains(s, "className"):
		return false
	}
	return true
}

// repairObject quotes bare keys, converts single-quoted values and drops trailing commas
func repairObject(s string) string {
	s = bareKeyPattern.ReplaceAllString(s, `${1}"${2}":`)
	s = singleQuotedPattern.ReplaceAllString(s, `:"${1}"${2}`)
	return trailingCommaPattern.ReplaceAllString(s, "}")
}

package generation

import (
	"encoding/json"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

const formatErrorMessage = "Failed to apply custom format"

// ApplyCustomFormat reshapes each record into {id, [column]: template}.
// Only tokens naming one of columns are substituted. Failing records keep
// their fields and gain a formatError.
func ApplyCustomFormat(records []models.Record, template, column string, columns []models.ColumnDefinition) []models.Record {
	if column == "" {
		column = models.DefaultFormatColumn
	}
	declared := make(map[string]bool, len(columns))
	for _, col := range columns {
		declared[col.Name] = true
	}
	out := make([]models.Record, len(records))
	for i, rec := range records {
		formatted, err := formatRecord(rec, template, column, declared)
		if err != nil {
			failed := rec.Clone()
			failed["formatError"] = formatErrorMessage
			out[i] = failed
			continue
		}
		out[i] = formatted
	}
	return out
}

func formatRecord(rec models.Record, template, column string, declared map[string]bool) (models.Record, error) {
	var parsed any
	if err := json.Unmarshal([]byte(substitute(template, rec, declared)), &parsed); err != nil {
		return nil, err
	}
	// a template already keyed by the target column is not nested a second time
	if obj, ok := parsed.(map[string]any); ok && len(obj) == 1 {
		if inner, ok := obj[column]; ok {
			parsed = inner
		}
	}
	out := models.Record{column: parsed}
	if id, ok := rec["id"]; ok {
		out["id"] = id
	}
	return out, nil
}

// substitute replaces {{name}} tokens of declared columns with record
// values. Inside a JSON string literal the value is inserted as escaped
// string content; outside one it is inserted as a JSON value. Missing
// values become empty strings. Other tokens are left as written.
func substitute(template string, rec models.Record, declared map[string]bool) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(template); i++ {
		c := template[i]
		if strings.HasPrefix(template[i:], "{{") {
			if end := strings.Index(template[i+2:], "}}"); end >= 0 {
				name := strings.TrimSpace(template[i+2 : i+2+end])
				if declared[name] {
					b.WriteString(renderValue(rec[name], inString))
				} else {
					b.WriteString(template[i : i+end+4])
				}
				i += end + 3
				continue
			}
		}
		switch {
		case c == '\\' && inString && i+1 < len(template):
			b.WriteByte(c)
			b.WriteByte(template[i+1])
			i++
			continue
		case c == '"':
			inString = !inString
		}
		b.WriteByte(c)
	}
	return b.String()
}

func renderValue(v any, inString bool) string {
	var text string
	switch val := v.(type) {
	case nil:
		text = ""
	case string:
		text = val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		if !inString {
			return string(raw)
		}
		text = string(raw)
	}

	quoted, _ := json.Marshal(text)
	if inString {
		// strip the surrounding quotes
		return string(quoted[1 : len(quoted)-1])
	}
	return string(quoted)
}

package repair

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

const fallbackNote = "Generated as fallback when JSON parsing failed"

var (
	chunkBoundary   = regexp.MustCompile(`(?:\d+\.\s*|Sample\s*\d+:)`)
	templateMarkers = []string{"<think>", "**reasoning**", "**Reasoning**"}
)

// textRecords turns unstructured text into content records. Text that
// follows a reasoning template is split on numbered or "Sample N:" boundaries.
func textRecords(text string) []models.Record {
	if !hasTemplateMarker(text) {
		return []models.Record{{"content": text, "generated": true}}
	}
	var records []models.Record
	for _, chunk := range chunkBoundary.Split(text, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		records = append(records, models.Record{"content": chunk, "generated": true})
	}
	if len(records) == 0 {
		records = append(records, models.Record{"content": text, "generated": true})
	}
	return records
}

func hasTemplateMarker(text string) bool {
	for _, m := range templateMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// pad appends placeholder records until there are expected records
func pad(records []models.Record, expected int, path Path, note string) Result {
	res := Result{Records: records, Path: path}
	for i := len(records); i < expected; i++ {
		rec := PaddingRecord(i + 1)
		if note != "" {
			rec["note"] = note
		}
		res.Records = append(res.Records, rec)
		res.Padded++
	}
	return res
}

// PaddingRecord is the synthesized record for 1-based position n
func PaddingRecord(n int) models.Record {
	return models.Record{
		"id":        n,
		"input":     fmt.Sprintf("Generated sample %d", n),
		"output":    fmt.Sprintf("Generated content for sample %d", n),
		"generated": true,
	}
}

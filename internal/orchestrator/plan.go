package orchestrator

import (
	"fmt"
	"math"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

// PlaceholderValue marks a slot whose real content has not arrived yet
const PlaceholderValue = "Generating..."

const statusField = "status"

// Batch is one upstream call covering slots [Start, Start+Size) of a split
type Batch struct {
	Start int
	Size  int
}

// SplitCount is max(1, floor(pct/100 * numSamples)). Every split gets at
// least one row, so the sum over splits may exceed numSamples.
func SplitCount(percentage float64, numSamples int) int {
	n := int(math.Floor(percentage / 100 * float64(numSamples)))
	if n < 1 {
		return 1
	}
	return n
}

// PlanBatches returns a single batch when count is at most threshold,
// otherwise fixed batches of size with a smaller final batch.
func PlanBatches(count, threshold, size int) []Batch {
	if count <= 0 {
		return nil
	}
	if count <= threshold || size <= 0 {
		return []Batch{{Start: 0, Size: count}}
	}
	batches := make([]Batch, 0, (count+size-1)/size)
	for start := 0; start < count; start += size {
		n := size
		if start+n > count {
			n = count - start
		}
		batches = append(batches, Batch{Start: start, Size: n})
	}
	return batches
}

var qaColumns = map[string]bool{"input": true, "output": true, "question": true, "answer": true}

// isQA reports whether placeholders should use the input/output shape
func isQA(cfg models.DatasetConfig) bool {
	if strings.Contains(strings.ToLower(cfg.UseCase), "qa") {
		return true
	}
	for _, col := range cfg.Columns {
		if qaColumns[col.Name] {
			return true
		}
	}
	return false
}

func slotID(split string, i int) string {
	return fmt.Sprintf("%s-%d", split, i)
}

// Placeholders builds count provisional records for a split
func Placeholders(cfg models.DatasetConfig, split string, count int) []models.Record {
	qa := isQA(cfg)
	out := make([]models.Record, count)
	for i := range out {
		rec := models.Record{"id": slotID(split, i), statusField: PlaceholderValue}
		if qa {
			rec["input"] = PlaceholderValue
			rec["output"] = PlaceholderValue
		} else {
			for _, col := range cfg.Columns {
				if col.Name != "" {
					rec[col.Name] = PlaceholderValue
				}
			}
		}
		out[i] = rec
	}
	return out
}

// DefaultRecord synthesizes content for a slot that received no real record.
// Fields still holding the placeholder value get a generated value derived
// from the slot id; anything else is copied.
func DefaultRecord(placeholder models.Record) models.Record {
	id := fmt.Sprint(placeholder["id"])
	out := models.Record{"id": placeholder["id"]}
	for key, value := range placeholder {
		if key == "id" || key == statusField {
			continue
		}
		if value != PlaceholderValue {
			out[key] = value
			continue
		}
		switch key {
		case "input":
			out[key] = "Sample " + id
		case "output":
			out[key] = "Generated content for " + id
		default:
			out[key] = fmt.Sprintf("Generated %s for %s", key, id)
		}
	}
	return out
}

// merge writes a batch's records into slots. Record i lands at
// b.Start+i with the slot's id; missing tail slots get defaults.
func merge(slots []models.Record, split string, b Batch, records []models.Record) {
	for i := 0; i < b.Size; i++ {
		idx := b.Start + i
		if i < len(records) {
			rec := records[i].Clone()
			rec["id"] = slotID(split, idx)
			slots[idx] = rec
			continue
		}
		slots[idx] = DefaultRecord(slots[idx])
	}
}

// abandon fills every slot of a failed batch with defaults
func abandon(slots []models.Record, b Batch) {
	for i := b.Start; i < b.Start+b.Size; i++ {
		slots[i] = DefaultRecord(slots[i])
	}
}

// Finalize removes the status bookkeeping field from every record
func Finalize(ds models.Dataset) models.Dataset {
	out := make(models.Dataset, len(ds))
	for name, records := range ds {
		cleaned := make([]models.Record, len(records))
		for i, rec := range records {
			c := rec.Clone()
			delete(c, statusField)
			cleaned[i] = c
		}
		out[name] = cleaned
	}
	return out
}

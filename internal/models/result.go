package models

import (
	"encoding/json"
	"fmt"
)

// GenerationResult is the outcome of one Generation Service call.
//
// On the wire the splits are flattened next to tokenUsage and costCalculation:
//
//	{"train": [...], "test": [...], "tokenUsage": {...}, "costCalculation": {...}}
//
// or, when the response could not be parsed at all, {"error": [...]}.
type GenerationResult struct {
	Splits          Dataset
	TokenUsage      TokenUsage
	CostCalculation CostCalculation
	Error           []ErrorRecord
}

const (
	keyTokenUsage = "tokenUsage"
	keyCost       = "costCalculation"
	keyError      = "error"
)

// ReservedSplitName reports whether name collides with a result field on
// the wire and so cannot name a split
func ReservedSplitName(name string) bool {
	switch name {
	case keyTokenUsage, keyCost, keyError:
		return true
	}
	return false
}

// Failed reports whether the result carries a parse failure instead of records
func (r GenerationResult) Failed() bool {
	return len(r.Error) > 0
}

// Records returns the records of one split
func (r GenerationResult) Records(split string) []Record {
	return r.Splits[split]
}

func (r GenerationResult) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(map[string]any{keyError: r.Error})
	}
	out := make(map[string]any, len(r.Splits)+2)
	for name, records := range r.Splits {
		if records == nil {
			records = []Record{}
		}
		out[name] = records
	}
	out[keyTokenUsage] = r.TokenUsage
	out[keyCost] = r.CostCalculation
	return json.Marshal(out)
}

func (r *GenerationResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = GenerationResult{Splits: Dataset{}}
	for key, value := range raw {
		switch key {
		case keyTokenUsage:
			if err := json.Unmarshal(value, &r.TokenUsage); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyCost:
			if err := json.Unmarshal(value, &r.CostCalculation); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case keyError:
			if err := json.Unmarshal(value, &r.Error); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		default:
			var records []Record
			if err := json.Unmarshal(value, &records); err != nil {
				return fmt.Errorf("decode split %q: %w", key, err)
			}
			r.Splits[key] = records
		}
	}
	return nil
}

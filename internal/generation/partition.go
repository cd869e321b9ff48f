package generation

import (
	"math"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// Partition allocates records to splits in order. Every split but the last
// gets floor(pct/100 * len) records, clamped to what is left; the last gets
// the remainder. Without splits everything goes to train.
func Partition(records []models.Record, splits []models.Split) models.Dataset {
	if len(splits) == 0 {
		return models.Dataset{models.DefaultSplitName: records}
	}

	out := make(models.Dataset, len(splits))
	remaining := records
	for _, split := range splits[:len(splits)-1] {
		n := int(math.Floor(split.Percentage / 100 * float64(len(records))))
		if n < 0 {
			n = 0
		}
		if n > len(remaining) {
			n = len(remaining)
		}
		out[split.Name] = append(out[split.Name], remaining[:n]...)
		remaining = remaining[n:]
	}
	last := splits[len(splits)-1]
	out[last.Name] = append(out[last.Name], remaining...)
	return out
}

// Validate checks the fields a generation request cannot do without
func Validate(cfg models.DatasetConfig) error {
	if cfg.UseCase == "" || cfg.Model == "" || cfg.Template == "" {
		return apperr.Validation("Missing required fields")
	}
	for _, col := range cfg.Columns {
		if col.Name == "" {
			return apperr.Validation("column name is required")
		}
		if col.Type != "" && !col.Type.Valid() {
			return apperr.Validation("unsupported column type: " + string(col.Type))
		}
	}
	for _, s := range cfg.Splits {
		if s.Name == "" {
			return apperr.Validation("split name is required")
		}
		if models.ReservedSplitName(s.Name) {
			return apperr.Validation("split name is reserved: " + s.Name)
		}
		if s.Percentage < 0 {
			return apperr.Validation("split percentage must not be negative")
		}
	}
	return nil
}

// NormalizeSplits defaults to a single train split and rescales
// percentages that do not sum to 100, rounding each.
func NormalizeSplits(splits []models.Split) []models.Split {
	if len(splits) == 0 {
		return []models.Split{{Name: models.DefaultSplitName, Percentage: 100}}
	}
	total := 0.0
	for _, s := range splits {
		total += s.Percentage
	}
	out := append([]models.Split(nil), splits...)
	if total == 100 || total <= 0 {
		return out
	}
	factor := 100 / total
	for i := range out {
		out[i].Percentage = roundHalfUp(out[i].Percentage * factor)
	}
	return out
}

// Prepare validates cfg and returns it with defaults and normalized splits
func Prepare(cfg models.DatasetConfig) (models.DatasetConfig, error) {
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	out := cfg.WithDefaults()
	out.Splits = NormalizeSplits(out.Splits)
	return out, nil
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

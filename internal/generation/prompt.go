package generation

import (
	"fmt"
	"strings"

	"github.com/troy12x/si-copilot/internal/models"
)

// SystemMessage is sent ahead of every generation prompt
const SystemMessage = "You are a helpful AI assistant that generates diverse, high-quality datasets for AI training."

// Temperature used for every generation call
const Temperature = 0.7

// BuildPrompt renders the instruction prompt for one batch
func BuildPrompt(cfg models.DatasetConfig) string {
	var columns, variables []string
	for _, col := range cfg.Columns {
		columns = append(columns, fmt.Sprintf("- %s (%s): %s", col.Name, col.Type, col.Description))
	}
	for _, v := range cfg.Variables {
		variables = append(variables, fmt.Sprintf("- {{%s}}: %s", v.Name, v.Description))
	}

	n := cfg.NumSamples
	var b strings.Builder
	fmt.Fprintf(&b, "\nYou are a SI Copilot for AI training. Generate %d high-quality, DIVERSE and UNIQUE samples for the following use case:\n\n", n)
	fmt.Fprintf(&b, "USE CASE:\n%s\n\n", cfg.UseCase)
	fmt.Fprintf(&b, "COLUMNS:\n%s\n\n", strings.Join(columns, "\n"))
	fmt.Fprintf(&b, "TEMPLATE VARIABLES:\n%s\n\n", strings.Join(variables, "\n"))
	fmt.Fprintf(&b, "OUTPUT FORMAT:\n%s\n\n", cfg.Template)
	b.WriteString("IMPORTANT INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "1. Generate %d COMPLETELY DIFFERENT samples in JSON format.\n", n)
	b.WriteString("2. Each sample MUST be unique and distinct from all others - DO NOT repeat similar content.\n")
	b.WriteString("3. For jokes or creative content, ensure each sample has a different theme, structure, and punchline.\n")
	b.WriteString("4. Make sure to replace all template variables with appropriate content based on their descriptions.\n")
	b.WriteString("5. Maximize diversity in the generated data - avoid repetitive patterns, themes, or structures.\n")
	b.WriteString("6. Each sample should feel like it was created independently, not as variations of the same template.\n\n")
	b.WriteString("The quality of your work will be judged on how diverse and unique each sample is compared to the others.\n")
	return b.String()
}

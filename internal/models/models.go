package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ColumnType is the declared JSON type of a dataset column
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnBoolean ColumnType = "boolean"
	ColumnArray   ColumnType = "array"
	ColumnObject  ColumnType = "object"
)

// Valid reports whether t is one of the supported column types
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnNumber, ColumnBoolean, ColumnArray, ColumnObject:
		return true
	}
	return false
}

// ColumnDefinition describes one column of the dataset schema
type ColumnDefinition struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Description string     `json:"description"`
}

// TemplateVariable is a named placeholder the prompt template refers to
type TemplateVariable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Split is a named partition of the dataset with its share in percent
type Split struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

const (
	DefaultMaxTokens    = 4000
	DefaultFormatColumn = "messages"
	DefaultSplitName    = "train"
	DefaultProvider     = "veniceAI"
)

// DatasetConfig is everything a user specifies for one generation run
type DatasetConfig struct {
	UseCase                string             `json:"useCase"`
	Columns                []ColumnDefinition `json:"columns"`
	Variables              []TemplateVariable `json:"variables"`
	Template               string             `json:"template"`
	NumSamples             int                `json:"numSamples"`
	Model                  string             `json:"model"`
	Provider               string             `json:"provider,omitempty"`
	MaxTokens              int                `json:"maxTokens,omitempty"`
	Splits                 []Split            `json:"splits"`
	UseCustomFormat        bool               `json:"useCustomFormat,omitempty"`
	CustomFormat           string             `json:"customFormat,omitempty"`
	CustomFormatColumnName string             `json:"customFormatColumnName,omitempty"`
}

// Clone returns a copy whose slices can be modified independently
func (c DatasetConfig) Clone() DatasetConfig {
	out := c
	out.Columns = append([]ColumnDefinition(nil), c.Columns...)
	out.Variables = append([]TemplateVariable(nil), c.Variables...)
	out.Splits = append([]Split(nil), c.Splits...)
	return out
}

// WithDefaults fills in provider, token and format column defaults
func (c DatasetConfig) WithDefaults() DatasetConfig {
	out := c.Clone()
	if out.Provider == "" {
		out.Provider = DefaultProvider
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.CustomFormatColumnName == "" {
		out.CustomFormatColumnName = DefaultFormatColumn
	}
	return out
}

// HasColumn reports whether a column with the given name is declared
func (c DatasetConfig) HasColumn(name string) bool {
	for _, col := range c.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// DefaultName is the first five words of the use case
func (c DatasetConfig) DefaultName() string {
	words := strings.Fields(c.UseCase)
	if len(words) == 0 {
		return "Untitled Dataset"
	}
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

// Record is one generated row. Values are arbitrary JSON.
type Record map[string]any

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset maps split names to their records
type Dataset map[string][]Record

// Rows returns the total number of records across all splits
func (d Dataset) Rows() int {
	n := 0
	for _, records := range d {
		n += len(records)
	}
	return n
}

// TokenUsage counts tokens reported by an upstream provider
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the sum of u and o
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// CostCalculation is the dollar cost derived from token usage
type CostCalculation struct {
	PromptCost     float64 `json:"promptCost"`
	CompletionCost float64 `json:"completionCost"`
	TotalCost      float64 `json:"totalCost"`
}

// Add returns the sum of c and o
func (c CostCalculation) Add(o CostCalculation) CostCalculation {
	return CostCalculation{
		PromptCost:     c.PromptCost + o.PromptCost,
		CompletionCost: c.CompletionCost + o.CompletionCost,
		TotalCost:      c.TotalCost + o.TotalCost,
	}
}

// ErrorRecord is returned in place of records when a response could not be parsed at all
type ErrorRecord struct {
	Message     string `json:"message"`
	RawResponse string `json:"rawResponse,omitempty"`
}

// Progress reports how far a run has come within the current split
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Split   string `json:"split"`
}

// StoredDataset is a finalized dataset persisted for a user
type StoredDataset struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Config      DatasetConfig `json:"config"`
	Data        Dataset       `json:"data"`
	RowCount    int           `json:"row_count"`
	SizeBytes   int           `json:"size_bytes"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// UserStats aggregates a user's stored datasets
type UserStats struct {
	TotalDatasets int `json:"total_datasets"`
	TotalRows     int `json:"total_rows"`
}

// UserSession ties a session key to a user
type UserSession struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	SessionKey   string         `json:"session_key"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UsageRecord is one logged generation run for cost accounting
type UsageRecord struct {
	UserID     string          `json:"user_id"`
	RunID      string          `json:"run_id"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	TokenUsage TokenUsage      `json:"token_usage"`
	Cost       CostCalculation `json:"cost"`
	Rows       int             `json:"rows"`
}

// User is an account that owns datasets
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

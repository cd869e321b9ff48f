package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/orchestrator"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// splitProgress renders one bar per split on a terminal and one line per
// update elsewhere
type splitProgress struct {
	mu          sync.Mutex
	w           io.Writer
	interactive bool
	bars        map[string]*progressbar.ProgressBar
}

func newSplitProgress(w io.Writer) *splitProgress {
	return &splitProgress{
		w:           w,
		interactive: isTerminal(w),
		bars:        make(map[string]*progressbar.ProgressBar),
	}
}

func (p *splitProgress) Update(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive {
		fmt.Fprintf(p.w, "%s: %d/%d\n", pr.Split, pr.Current, pr.Total)
		return
	}

	bar, ok := p.bars[pr.Split]
	if !ok {
		bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(pr.Split),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
		)
		p.bars[pr.Split] = bar
	}
	_ = bar.Set(pr.Current)
}

// Finish completes any bar left open by a cancelled or failed run
func (p *splitProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bar := range p.bars {
		if !bar.IsFinished() {
			_ = bar.Finish()
		}
	}
}

func renderSummary(res *orchestrator.Result, splitOrder []string) string {
	rows := make([][]string, 0, len(splitOrder)+4)
	for _, name := range splitOrder {
		rows = append(rows, []string{"rows (" + name + ")", fmt.Sprintf("%d", len(res.Dataset[name]))})
	}
	rows = append(rows,
		[]string{"batches", fmt.Sprintf("%d (%d failed)", res.Batches, res.FailedBatches)},
		[]string{"prompt tokens", fmt.Sprintf("%d", res.TokenUsage.PromptTokens)},
		[]string{"completion tokens", fmt.Sprintf("%d", res.TokenUsage.CompletionTokens)},
		[]string{"total tokens", fmt.Sprintf("%d", res.TokenUsage.TotalTokens)},
		[]string{"cost (USD)", fmt.Sprintf("%.6f", res.CostCalculation.TotalCost)},
	)
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

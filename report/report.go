// Package report serializes match decisions (CSV, optionally XLSX) and
// renders the end-of-run summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xuri/excelize/v2"

	"snapmatch/matcher"
)

var header = []string{"edited", "raw_match", "distance", "status", "copied_to"}

// Row is one report line; all fields are already formatted for output.
type Row struct {
	Edited   string
	RawMatch string
	Distance string
	Status   string
	CopiedTo string
}

// NewRow formats a decision and its placement target (empty when nothing was
// placed) into a report row.
func NewRow(d matcher.Decision, copiedTo string) Row {
	distance := ""
	if d.Status == matcher.StatusMatched {
		distance = strconv.Itoa(d.Distance)
	}
	return Row{
		Edited:   d.EditedPath,
		RawMatch: d.RawPath,
		Distance: distance,
		Status:   string(d.Status),
		CopiedTo: copiedTo,
	}
}

// WriteCSV writes the mapping report. One row per edited image, same order
// as the decisions.
func WriteCSV(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write(header)
	for _, r := range rows {
		w.Write([]string{r.Edited, r.RawMatch, r.Distance, r.Status, r.CopiedTo})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// WriteXLSX writes the same mapping as a spreadsheet.
func WriteXLSX(path string, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "mapping"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx cell: %w", err)
		}
		row := []interface{}{r.Edited, r.RawMatch, r.Distance, r.Status, r.CopiedTo}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx row: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

// Summary aggregates one run for the closing table.
type Summary struct {
	RawImages    int
	EditedImages int
	Matched      int
	NoMatch      int
	Errors       int
	CacheHits    int
	Elapsed      time.Duration
}

// Summarize tallies decisions into a Summary; cache hits and timings are
// filled in by the caller.
func Summarize(decisions []matcher.Decision) Summary {
	var s Summary
	s.EditedImages = len(decisions)
	for _, d := range decisions {
		switch d.Status {
		case matcher.StatusMatched:
			s.Matched++
		case matcher.StatusNoMatch:
			s.NoMatch++
		case matcher.StatusError:
			s.Errors++
		}
	}
	return s
}

// RenderSummary prints the closing table.
func RenderSummary(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "count"})
	t.AppendRows([]table.Row{
		{"raw images", s.RawImages},
		{"edited images", s.EditedImages},
		{"matched", s.Matched},
		{"no match", s.NoMatch},
		{"errors", s.Errors},
		{"cache hits", s.CacheHits},
	})
	t.AppendFooter(table.Row{"elapsed", s.Elapsed.Round(time.Millisecond)})
	t.Render()
}

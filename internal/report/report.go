// Package report exports the persisted medicine history as CSV, JSON or PDF.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/sweeney/medicine-tracker/internal/storage"
)

// Exporter renders history from a Store.
type Exporter struct {
	st    storage.Store
	names map[string]string
	now   func() time.Time
}

// NewExporter creates an exporter. names maps medicine ids to display
// names; unknown ids are shown by id.
func NewExporter(st storage.Store, names map[string]string) *Exporter {
	return &Exporter{st: st, names: names, now: time.Now}
}

// FormatForPath picks the export format from a file extension.
func FormatForPath(path string) (string, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "csv", "json", "pdf":
		return ext, nil
	default:
		return "", fmt.Errorf("unsupported report extension %q", filepath.Ext(path))
	}
}

type entry struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	NextDue   string   `json:"next_due,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	History   []string `json:"history"`
}

// Export renders every stored record in the given format.
func (e *Exporter) Export(ctx context.Context, format string) ([]byte, error) {
	recs, err := e.st.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	entries := make([]entry, 0, len(recs))
	for _, r := range recs {
		history := r.History
		if len(history) == 0 && r.LastTaken != "" {
			history = []string{r.LastTaken}
		}
		if history == nil {
			history = []string{}
		}
		en := entry{ID: r.ID, Name: e.name(r.ID), Status: r.Status, NextDue: r.NextDue, History: history}
		if !r.UpdatedAt.IsZero() {
			en.UpdatedAt = r.UpdatedAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, en)
	}

	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(entries, "", "  ")
	case "csv":
		return writeCSV(entries)
	case "pdf":
		return e.writePDF(entries)
	default:
		return nil, fmt.Errorf("unknown format %s", format)
	}
}

func (e *Exporter) name(id string) string {
	if n, ok := e.names[id]; ok && n != "" {
		return n
	}
	return id
}

// writeCSV emits one row per taken event.
func writeCSV(entries []entry) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"medicine_id", "name", "taken_at", "status", "next_due"})
	for _, en := range entries {
		if len(en.History) == 0 {
			_ = w.Write([]string{en.ID, en.Name, "", en.Status, en.NextDue})
			continue
		}
		for _, t := range en.History {
			_ = w.Write([]string{en.ID, en.Name, t, en.Status, en.NextDue})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return b.Bytes(), nil
}

func (e *Exporter) writePDF(entries []entry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(e.now())
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(40, 10, "Medicine History")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(40, 6, "Generated "+e.now().Format("2006-01-02 15:04 MST"))
	pdf.Ln(10)

	if len(entries) == 0 {
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 6, "No history recorded.", "0", "L", false)
	}
	for _, en := range entries {
		pdf.SetFont("Arial", "B", 11)
		pdf.MultiCell(0, 7, fmt.Sprintf("%s (%s)", en.Name, en.Status), "0", "L", false)
		pdf.SetFont("Arial", "", 10)
		if en.NextDue != "" {
			pdf.MultiCell(0, 6, "Next due: "+en.NextDue, "0", "L", false)
		}
		if len(en.History) == 0 {
			pdf.MultiCell(0, 6, "  never taken", "0", "L", false)
		}
		for _, t := range en.History {
			pdf.MultiCell(0, 6, "  taken "+t, "0", "L", false)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(io.Writer(&buf)); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

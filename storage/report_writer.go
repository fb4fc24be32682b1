package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"xarid-sync/models"
)

// ReportWriter writes the per-record failures of a batch run to a CSV
// file for operator review.
type ReportWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewReportWriter creates (or truncates) the report file at the given
// path and writes the header row. Intermediate directories are created
// automatically.
func NewReportWriter(path string) (*ReportWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("report: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"run_id", "listing_id", "procedure_id", "reason", "recorded_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("report: write header: %w", err)
	}
	w.Flush()

	return &ReportWriter{file: f, writer: w}, nil
}

// WriteSummary appends one row per failed record in the summary.
func (r *ReportWriter) WriteSummary(summary *models.Summary) error {
	now := time.Now().Format(time.RFC3339)
	for _, recErr := range summary.Errors {
		row := []string{
			summary.RunID,
			recErr.ListingID,
			strconv.FormatInt(recErr.ProcedureID, 10),
			recErr.Reason,
			now,
		}
		if err := r.writer.Write(row); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}

	r.writer.Flush()
	return r.writer.Error()
}

// Close flushes and closes the underlying file.
func (r *ReportWriter) Close() error {
	r.writer.Flush()
	return r.file.Close()
}

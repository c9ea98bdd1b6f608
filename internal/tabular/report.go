package tabular

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/feldkamp/equimatch/internal/model"
)

const reportBufSize = 64 * 1024 // 64KB

// ReportWriter renders a suggestion list to a file.
type ReportWriter interface {
	Write(suggestions []model.Suggestion) error
}

// NewReportWriter picks a writer by format: "ndjson" or "csv".
func NewReportWriter(path, format string) (ReportWriter, error) {
	switch format {
	case "ndjson":
		return &ndjsonReport{path: path}, nil
	case "csv":
		return &csvReport{path: path}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// ndjsonReport writes one JSON object per suggestion, buffered.
type ndjsonReport struct {
	path string
}

func (r *ndjsonReport) Write(suggestions []model.Suggestion) error {
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", r.path, err)
	}
	w := bufio.NewWriterSize(f, reportBufSize)
	enc := json.NewEncoder(w)
	for _, s := range suggestions {
		if err := enc.Encode(s); err != nil {
			f.Close()
			return fmt.Errorf("report: encode: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("report: flush: %w", err)
	}
	return f.Close()
}

// csvReport writes a header row followed by one row per suggestion.
type csvReport struct {
	path string
}

var csvHeader = []string{"building_id", "installation", "probability", "reason", "details", "code"}

func (r *csvReport) Write(suggestions []model.Suggestion) error {
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", r.path, err)
	}
	w := csv.NewWriter(bufio.NewWriterSize(f, reportBufSize))
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, s := range suggestions {
		row := []string{
			s.BuildingID,
			s.Installation,
			strconv.FormatFloat(s.Probability, 'f', 4, 64),
			string(s.Reason),
			s.Details,
			s.Code,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("report: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("report: flush: %w", err)
	}
	return f.Close()
}

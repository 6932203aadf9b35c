package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// CSVGenerator renders a case report as CSV with comment-prefixed
// section headers.
type CSVGenerator struct{}

// NewCSVGenerator creates a new CSV generator.
func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

// Generate creates a CSV case report.
func (g *CSVGenerator) Generate(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := g.writeHeader(w, data); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := g.writeEvidence(w, data); err != nil {
		return nil, fmt.Errorf("write CSV evidence section: %w", err)
	}
	if err := g.writeMounts(w, data); err != nil {
		return nil, fmt.Errorf("write CSV mounts section: %w", err)
	}
	if err := g.writeCustody(w, data); err != nil {
		return nil, fmt.Errorf("write CSV custody section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *CSVGenerator) writeHeader(w *csv.Writer, data *ReportData) error {
	c := data.Case
	headers := [][]string{
		{"# Custodian Case Report"},
		{"# Case Number:", c.CaseNumber},
		{"# Case Name:", c.CaseName},
		{"# Investigator:", c.Investigator},
		{"# Opened:", c.CreatedAt.Format(time.RFC3339)},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
		{"# Evidence Items:", fmt.Sprintf("%d", len(c.Evidence))},
		{"# Mount Records:", fmt.Sprintf("%d", len(c.Mounts))},
		{""},
	}
	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

// writeEvidence emits one row per evidence item and digest algorithm, so
// the digests stay greppable and spreadsheet-friendly.
func (g *CSVGenerator) writeEvidence(w *csv.Writer, data *ReportData) error {
	if err := w.Write([]string{"# EVIDENCE"}); err != nil {
		return fmt.Errorf("write evidence section heading: %w", err)
	}
	columns := []string{"Source Path", "Type", "Size Bytes", "Acquired At", "Algorithm", "Digest", "Last Verification", "Last Verified At"}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write evidence column headers: %w", err)
	}

	for _, item := range data.Case.Evidence {
		verifiedAt := ""
		if item.LastVerifiedAt != nil {
			verifiedAt = item.LastVerifiedAt.Format(time.RFC3339)
		}
		base := []string{
			item.SourcePath,
			string(item.Type),
			fmt.Sprintf("%d", item.SizeBytes),
			item.AcquiredAt.Format(time.RFC3339),
		}
		algorithms := sortedAlgorithms(item.Digests)
		if len(algorithms) == 0 {
			row := append(append([]string{}, base...), "", "", string(item.LastVerification), verifiedAt)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write evidence row for %s: %w", item.SourcePath, err)
			}
			continue
		}
		for _, alg := range algorithms {
			row := append(append([]string{}, base...), alg, item.Digests[alg], string(item.LastVerification), verifiedAt)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("write evidence row for %s: %w", item.SourcePath, err)
			}
		}
	}
	return w.Write([]string{""})
}

func (g *CSVGenerator) writeMounts(w *csv.Writer, data *ReportData) error {
	if err := w.Write([]string{"# MOUNTS"}); err != nil {
		return fmt.Errorf("write mounts section heading: %w", err)
	}
	columns := []string{"Mount Point", "Image Path", "Offset", "FS Type", "Read Only", "Status", "Mounted At", "Last Error"}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write mounts column headers: %w", err)
	}

	for _, rec := range data.Case.Mounts {
		row := []string{
			rec.MountPoint,
			rec.ImagePath,
			fmt.Sprintf("%d", rec.Offset),
			rec.FSType,
			fmt.Sprintf("%t", rec.ReadOnly),
			string(rec.Status),
			rec.MountedAt.Format(time.RFC3339),
			rec.LastError,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write mount row for %s: %w", rec.MountPoint, err)
		}
	}
	return w.Write([]string{""})
}

func (g *CSVGenerator) writeCustody(w *csv.Writer, data *ReportData) error {
	if len(data.Custody) == 0 {
		return nil
	}
	if err := w.Write([]string{"# CUSTODY LOG"}); err != nil {
		return fmt.Errorf("write custody section heading: %w", err)
	}
	columns := []string{"Timestamp", "Operation", "Target", "Outcome", "Details"}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write custody column headers: %w", err)
	}

	for _, evt := range data.Custody {
		row := []string{
			evt.Timestamp.Format(time.RFC3339),
			evt.Operation,
			evt.Target,
			string(evt.Outcome),
			evt.Details,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write custody row %s: %w", evt.ID, err)
		}
	}
	return nil
}

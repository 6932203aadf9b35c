// Package reporting renders case reports for disclosure: a PDF for
// reading and a CSV for spreadsheets. Reports are snapshots; they embed
// the recorded digests and verification outcomes but never recompute
// them.
package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/utils"
	"github.com/custodian-dfir/custodian/pkg/audit"
)

// ReportFormat represents the output format of a report.
type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

// ReportData is everything a generator needs to render one case report.
type ReportData struct {
	Case        *models.Case
	Custody     []audit.Event // chain-of-custody extract, newest first
	GeneratedAt time.Time
}

// Generator renders a report into a byte slice.
type Generator interface {
	Generate(data *ReportData) ([]byte, error)
}

// generatorFor maps a format to its generator.
func generatorFor(format ReportFormat) (Generator, string, error) {
	switch format {
	case FormatPDF:
		return NewPDFGenerator(), "pdf", nil
	case FormatCSV:
		return NewCSVGenerator(), "csv", nil
	default:
		return nil, "", fmt.Errorf("unknown report format %q", format)
	}
}

// WriteCaseReport renders the case in the requested format and writes it
// under the case's exports directory, returning the file path.
func WriteCaseReport(c *models.Case, custody []audit.Event, format ReportFormat) (string, error) {
	if c == nil {
		return "", fmt.Errorf("no case to report on")
	}
	if c.Path == "" {
		return "", fmt.Errorf("case %s has no directory", c.CaseNumber)
	}

	gen, ext, err := generatorFor(format)
	if err != nil {
		return "", err
	}

	data := &ReportData{
		Case:        c,
		Custody:     custody,
		GeneratedAt: time.Now().UTC(),
	}
	out, err := gen.Generate(data)
	if err != nil {
		return "", fmt.Errorf("generate %s report: %w", ext, err)
	}

	exportsDir := filepath.Join(c.Path, "exports")
	if err := utils.EnsureDirectory(exportsDir); err != nil {
		return "", fmt.Errorf("create exports directory: %w", err)
	}
	name := fmt.Sprintf("%s-report-%s.%s", c.CaseNumber, data.GeneratedAt.Format("20060102-150405"), ext)
	path := filepath.Join(exportsDir, name)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

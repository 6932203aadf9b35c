package reporting

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/custodian-dfir/custodian/internal/models"
	"github.com/custodian-dfir/custodian/internal/utils"
)

// Color scheme - restrained slate theme suitable for court exhibits
var (
	colorPrimary     = [3]int{38, 50, 56}    // Dark slate
	colorAccent      = [3]int{46, 125, 50}   // Green (verified)
	colorWarning     = [3]int{230, 145, 20}  // Amber (unverified)
	colorDanger      = [3]int{183, 28, 28}   // Red (mismatch)
	colorTextDark    = [3]int{33, 33, 33}    // Body text
	colorTextMuted   = [3]int{117, 117, 117} // Muted text
	colorBackground  = [3]int{245, 246, 247} // Info box fill
	colorTableHeader = [3]int{38, 50, 56}    // Slate header
	colorTableAlt    = [3]int{240, 243, 244} // Alternating row
	colorGridLine    = [3]int{214, 214, 214} // Rules
)

// PDFGenerator renders a case report PDF.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate creates a PDF case report.
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	g.writeCoverPage(pdf, data)

	pdf.AddPage()
	g.addPageHeader(pdf, data, "Evidence")
	g.writeEvidenceSection(pdf, data)

	pdf.AddPage()
	g.addPageHeader(pdf, data, "Mounts")
	g.writeMountsSection(pdf, data)

	if len(data.Custody) > 0 {
		pdf.AddPage()
		g.addPageHeader(pdf, data, "Custody Log")
		g.writeCustodySection(pdf, data)
	}

	g.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

// writeCoverPage creates the cover with case identity and an integrity
// summary.
func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()
	c := data.Case

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(45)
	pdf.SetFont("Arial", "B", 30)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 14, "CUSTODIAN", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 8, "Case & Evidence Report", "", 1, "C", false, 0, "")

	// Case info box
	pdf.SetY(95)
	boxX := 35.0
	boxWidth := pageWidth - 70

	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, 62, 3, "1234", "FD")

	pdf.SetY(pdf.GetY() + 8)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "CASE", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, c.CaseNumber, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, c.CaseName, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "Investigator: "+c.Investigator, "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, "Opened: "+c.CreatedAt.Format("January 2, 2006 15:04 MST"), "", 1, "C", false, 0, "")

	// Integrity summary
	verified, mismatched, unverified := integrityCounts(c)
	pdf.SetY(175)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "EVIDENCE INTEGRITY", "", 1, "C", false, 0, "")

	status, color := integrityStatus(verified, mismatched, unverified)
	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(color[0], color[1], color[2])
	pdf.CellFormat(0, 9, status, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	summary := fmt.Sprintf("%d evidence items: %d verified, %d mismatched, %d not yet verified",
		len(c.Evidence), verified, mismatched, unverified)
	pdf.CellFormat(0, 7, summary, "", 1, "C", false, 0, "")

	pdf.SetY(pageHeight - 50)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "Generated: "+data.GeneratedAt.Format("January 2, 2006 at 15:04 MST"), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Evidence: %d    Mounts: %d", len(c.Evidence), len(c.Mounts)), "", 1, "C", false, 0, "")

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func integrityCounts(c *models.Case) (verified, mismatched, unverified int) {
	for _, item := range c.Evidence {
		switch item.LastVerification {
		case models.VerifyMatch:
			verified++
		case models.VerifyMismatch:
			mismatched++
		default:
			unverified++
		}
	}
	return verified, mismatched, unverified
}

func integrityStatus(verified, mismatched, unverified int) (string, [3]int) {
	switch {
	case mismatched > 0:
		return "MISMATCH DETECTED", colorDanger
	case unverified > 0:
		return "PARTIALLY VERIFIED", colorWarning
	case verified > 0:
		return "ALL VERIFIED", colorAccent
	default:
		return "NO EVIDENCE", colorTextMuted
	}
}

func (g *PDFGenerator) addPageHeader(pdf *fpdf.Fpdf, data *ReportData, section string) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(20, 15, pageWidth-20, 15)

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 5, "CUSTODIAN CASE REPORT", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, data.Case.CaseNumber, "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, section, "", 1, "L", false, 0, "")

	pdf.Ln(3)
}

// writeEvidenceSection lists every evidence item with its digests and
// verification state.
func (g *PDFGenerator) writeEvidenceSection(pdf *fpdf.Fpdf, data *ReportData) {
	if len(data.Case.Evidence) == 0 {
		g.writeEmptyNote(pdf, "No evidence recorded.")
		return
	}

	for i, item := range data.Case.Evidence {
		if pdf.GetY() > 230 {
			pdf.AddPage()
			g.addPageHeader(pdf, data, "Evidence (continued)")
		}

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(0, 7, fmt.Sprintf("%d.  %s", i+1, truncateMiddle(item.SourcePath, 70)), "", 1, "L", false, 0, "")

		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		meta := fmt.Sprintf("Type: %s    Size: %s    Acquired: %s",
			item.Type, utils.FormatBytes(item.SizeBytes), item.AcquiredAt.Format("2006-01-02 15:04 MST"))
		pdf.CellFormat(0, 5, meta, "", 1, "L", false, 0, "")

		if item.Description != "" {
			pdf.CellFormat(0, 5, truncateMiddle(sanitizeText(item.Description), 100), "", 1, "L", false, 0, "")
		}

		for _, alg := range sortedAlgorithms(item.Digests) {
			pdf.SetFont("Courier", "", 8)
			pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
			pdf.CellFormat(0, 4.5, fmt.Sprintf("%-11s %s", alg, item.Digests[alg]), "", 1, "L", false, 0, "")
		}

		pdf.SetFont("Arial", "B", 9)
		switch item.LastVerification {
		case models.VerifyMatch:
			pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
			pdf.CellFormat(0, 5, "VERIFIED "+verifiedAtText(item.LastVerifiedAt), "", 1, "L", false, 0, "")
		case models.VerifyMismatch:
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
			pdf.CellFormat(0, 5, "MISMATCH "+verifiedAtText(item.LastVerifiedAt), "", 1, "L", false, 0, "")
		case models.VerifyUnreadable:
			pdf.SetTextColor(colorWarning[0], colorWarning[1], colorWarning[2])
			pdf.CellFormat(0, 5, "UNREADABLE "+verifiedAtText(item.LastVerifiedAt), "", 1, "L", false, 0, "")
		default:
			pdf.SetTextColor(colorWarning[0], colorWarning[1], colorWarning[2])
			pdf.CellFormat(0, 5, "NOT YET VERIFIED", "", 1, "L", false, 0, "")
		}
		pdf.Ln(3)
	}
}

func verifiedAtText(at *time.Time) string {
	if at == nil {
		return ""
	}
	return "at " + at.Format("2006-01-02 15:04:05 MST")
}

// writeMountsSection renders the mount record table.
func (g *PDFGenerator) writeMountsSection(pdf *fpdf.Fpdf, data *ReportData) {
	if len(data.Case.Mounts) == 0 {
		g.writeEmptyNote(pdf, "No mounts recorded.")
		return
	}

	headers := []string{"Mount Point", "Image", "Offset", "FS", "Status"}
	widths := []float64{45, 55, 20, 18, 32}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	for i, hdr := range headers {
		pdf.CellFormat(widths[i], 8, hdr, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for i, rec := range data.Case.Mounts {
		if pdf.GetY() > 250 {
			pdf.AddPage()
			g.addPageHeader(pdf, data, "Mounts (continued)")
			pdf.SetFont("Arial", "", 8)
		}

		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.CellFormat(widths[0], 7, truncateMiddle(rec.MountPoint, 28), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 7, truncateMiddle(rec.ImagePath, 36), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 7, fmt.Sprintf("%d", rec.Offset), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(widths[3], 7, rec.FSType, "1", 0, "L", fill, 0, "")

		switch rec.Status {
		case models.MountActive:
			pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
		case models.MountError:
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
		default:
			pdf.SetTextColor(colorWarning[0], colorWarning[1], colorWarning[2])
		}
		pdf.CellFormat(widths[4], 7, string(rec.Status), "1", 1, "L", fill, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, "All mounts are established read-only. Offsets are bytes from the start of the image.", "", 1, "L", false, 0, "")
}

// writeCustodySection renders the audit extract.
func (g *PDFGenerator) writeCustodySection(pdf *fpdf.Fpdf, data *ReportData) {
	headers := []string{"Timestamp", "Operation", "Target", "Outcome"}
	widths := []float64{38, 32, 72, 28}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	for i, hdr := range headers {
		pdf.CellFormat(widths[i], 8, hdr, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for i, evt := range data.Custody {
		if pdf.GetY() > 250 {
			pdf.AddPage()
			g.addPageHeader(pdf, data, "Custody Log (continued)")
			pdf.SetFont("Arial", "", 8)
		}

		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.CellFormat(widths[0], 7, evt.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 7, evt.Operation, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 7, truncateMiddle(evt.Target, 48), "1", 0, "L", fill, 0, "")

		if evt.Outcome == "success" {
			pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
		} else {
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
		}
		pdf.CellFormat(widths[3], 7, string(evt.Outcome), "1", 1, "L", fill, 0, "")
	}
}

func (g *PDFGenerator) writeEmptyNote(pdf *fpdf.Fpdf, note string) {
	pdf.SetFont("Arial", "I", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 8, note, "", 1, "L", false, 0, "")
}

func (g *PDFGenerator) addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)

	totalPages := pdf.PageCount()
	for i := 2; i <= totalPages; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i-1, totalPages-1), "", 0, "C", false, 0, "")

		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-20, pageWidth-20, pageHeight-20)
	}
}

// sortedAlgorithms returns digest algorithm names in stable order.
func sortedAlgorithms(digests map[string]string) []string {
	out := make([]string, 0, len(digests))
	for alg := range digests {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}

// truncateMiddle shortens long strings keeping both ends, since the tail
// of a path is usually the interesting part.
func truncateMiddle(s string, max int) string {
	if len(s) <= max || max < 5 {
		return s
	}
	head := (max - 3) / 2
	tail := max - 3 - head
	return s[:head] + "..." + s[len(s)-tail:]
}

// sanitizeText flattens control whitespace so multi-line descriptions fit
// a single table cell.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
}

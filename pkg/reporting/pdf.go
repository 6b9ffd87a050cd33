// Package reporting renders vulnerability findings as PDF reports for
// email delivery.
package reporting

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorDanger      = [3]int{231, 76, 60}   // Red
	colorWarning     = [3]int{241, 196, 15}  // Yellow
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
)

// Finding is the vulnerability data rendered into a report.
type Finding struct {
	Title       string
	Description string
	Severity    string
	Evidence    map[string]any
}

// HostContext is optional host metadata shown on the report.
type HostContext struct {
	Hostname  string
	OS        string
	OSRelease string
}

// PDFGenerator handles vulnerability report generation.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate renders the finding into a PDF and returns the bytes.
func (g *PDFGenerator) Generate(finding Finding, threatID string, host *HostContext) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 12, "OpenSecAgent - Vulnerability Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Threat ID: %s", threatID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	g.writeSeverityBadge(pdf, finding.Severity)

	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	title := finding.Title
	if title == "" {
		title = "N/A"
	}
	pdf.MultiCell(0, 7, title, "", "L", false)
	pdf.Ln(4)

	g.writeSectionHeader(pdf, "Description")
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	description := finding.Description
	if description == "" {
		description = "N/A"
	}
	pdf.MultiCell(0, 5, description, "", "L", false)
	pdf.Ln(4)

	if len(finding.Evidence) > 0 {
		g.writeSectionHeader(pdf, "Evidence")
		g.writeEvidenceTable(pdf, finding.Evidence)
		pdf.Ln(4)
	}

	if host != nil {
		g.writeSectionHeader(pdf, "Host context")
		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Hostname: %s", host.Hostname), "", 1, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("OS: %s %s", host.OS, host.OSRelease), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeSectionHeader(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func (g *PDFGenerator) writeSeverityBadge(pdf *fpdf.Fpdf, severity string) {
	badge := colorWarning
	if severity == "P1" {
		badge = colorDanger
	}
	pdf.SetFillColor(badge[0], badge[1], badge[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 10)
	if severity == "" {
		severity = "P2"
	}
	pdf.CellFormat(20, 7, severity, "", 0, "C", true, 0, "")
	pdf.Ln(10)
}

// writeEvidenceTable renders up to 20 evidence entries as a key/value
// table with alternating row shading.
func (g *PDFGenerator) writeEvidenceTable(pdf *fpdf.Fpdf, evidence map[string]any) {
	keys := make([]string, 0, len(evidence))
	for k := range evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 20 {
		keys = keys[:20]
	}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(50, 7, "Key", "", 0, "L", true, 0, "")
	pdf.CellFormat(120, 7, "Value", "", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, k := range keys {
		value := fmt.Sprintf("%v", evidence[k])
		if len(value) > 200 {
			value = value[:200]
		}
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		}
		pdf.CellFormat(50, 6, k, "", 0, "L", fill, 0, "")
		pdf.CellFormat(120, 6, value, "", 1, "L", fill, 0, "")
	}
}

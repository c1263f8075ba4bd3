// Package render lays out report documents for download.
package render

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/sle-predictor-server/internal/service"
)

const (
	marginMM     = 20.0
	lineHeight   = 6.0
	bulletIndent = 5.0
)

// PDFRenderer renders a service.ReportDocument as an A4 PDF using the core
// Helvetica fonts.
type PDFRenderer struct {
	author string
}

// NewPDFRenderer creates a renderer. author is written into the PDF metadata.
func NewPDFRenderer(author string) *PDFRenderer {
	return &PDFRenderer{author: author}
}

// Render writes doc to w.
func (r *PDFRenderer) Render(w io.Writer, doc *service.ReportDocument) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(r.author, true)
	pdf.AliasNbPages("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s - Page %d/{nb}", doc.Footer, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for i, section := range doc.Sections {
		if i == 0 {
			r.header(pdf, tr, section)
			continue
		}
		r.section(pdf, tr, section, 0)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("laying out pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}
	return nil
}

// RenderBytes renders doc into memory.
func (r *PDFRenderer) RenderBytes(doc *service.ReportDocument) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) header(pdf *gofpdf.Fpdf, tr func(string) string, s service.Section) {
	pdf.SetFillColor(37, 99, 235)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 14, tr(s.Title), "", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, p := range s.Paragraphs {
		pdf.CellFormat(0, 8, tr(p), "", 1, "C", true, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(6)
}

func (r *PDFRenderer) section(pdf *gofpdf.Fpdf, tr func(string) string, s service.Section, depth int) {
	size := 14.0
	if depth > 0 {
		size = 12
	}
	pdf.SetFont("Helvetica", "B", size)
	pdf.CellFormat(0, 9, tr(s.Title), "", 1, "L", false, 0, "")

	if s.ID == service.SectionDisclaimer {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(100, 100, 100)
		for _, p := range s.Paragraphs {
			pdf.MultiCell(0, 4, tr(p), "", "J", false)
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Helvetica", "", 11)
	if len(s.Fields) > 0 {
		pdf.SetFillColor(245, 245, 245)
		for _, f := range s.Fields {
			pdf.SetFont("Helvetica", "B", 11)
			pdf.CellFormat(45, lineHeight+1, tr(f.Label+":"), "", 0, "L", true, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			pdf.CellFormat(0, lineHeight+1, tr(f.Value), "", 1, "L", true, 0, "")
		}
	}
	for _, p := range s.Paragraphs {
		pdf.MultiCell(0, lineHeight, tr(p), "", "L", false)
		pdf.Ln(1)
	}
	for i, item := range s.Items {
		left, _, _, _ := pdf.GetMargins()
		pdf.SetX(left + bulletIndent)
		pdf.MultiCell(0, lineHeight, tr(fmt.Sprintf("%d. %s", i+1, item)), "", "L", false)
	}
	pdf.Ln(3)

	for _, sub := range s.Subsections {
		r.section(pdf, tr, sub, depth+1)
	}
}

package render

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/dshills/brsrcheck/internal/schema"
)

// PDFFileName is the conventional name of the rendered document.
const PDFFileName = "BRSR_Section_A.pdf"

const (
	pageMargin = 14.0
	lineHeight = 6.0
	cellPad    = 1.5
)

type rgb struct{ r, g, b int }

var (
	entityHeadFill = rgb{41, 128, 185}
	tableHeadFill  = rgb{52, 73, 94}
	stripeFill     = rgb{245, 245, 245}
)

// SectionA renders the Section A disclosure: the entity details table and
// Tables 14 and 15 with 1-based serial numbers. Missing strings print as "-"
// and an empty table gets a single "No data extracted" row. It does not
// consult any audit verdict; callers gate publication themselves.
func SectionA(entity *schema.EntityProfile, ext *schema.ExtractionResult) ([]byte, error) {
	return sectionA(entity, ext, true)
}

func sectionA(entity *schema.EntityProfile, ext *schema.ExtractionResult, compress bool) ([]byte, error) {
	if entity == nil {
		entity = &schema.EntityProfile{}
	}
	if ext == nil {
		ext = &schema.ExtractionResult{}
	}

	p := fpdf.New("P", "mm", "A4", "")
	p.SetCompression(compress)
	p.SetTitle("BRSR Section A: General Disclosures", true)
	p.SetCreator("brsrcheck", true)
	p.SetMargins(pageMargin, 20, pageMargin)
	p.SetAutoPageBreak(true, 15)
	tr := p.UnicodeTranslatorFromDescriptor("")
	t := &tableWriter{pdf: p, tr: tr}

	p.AddPage()
	p.SetFont("Helvetica", "B", 16)
	pageW, _ := p.GetPageSize()
	p.CellFormat(pageW-2*pageMargin, 10, "SECTION A: GENERAL DISCLOSURES", "", 1, "C", false, 0, "")
	p.Ln(5)

	p.SetFont("Helvetica", "B", 12)
	p.CellFormat(0, 8, "I. Details of the listed entity", "", 1, "L", false, 0, "")
	t.table([]float64{80, 102}, []string{"Field", "Details"}, entityHeadFill, false, [][]string{
		{"1. Corporate Identity Number (CIN) of the Listed Entity", orDash(entity.CIN)},
		{"2. Name of the Listed Entity", orDash(entity.EntityName)},
		{"3. Year of incorporation", orDash(entity.IncorporationYear)},
		{"4. Registered office address", orDash(entity.RegisteredOffice)},
		{"11. Paid-up Capital", orDash(entity.PaidUpCapital)},
	})
	p.Ln(8)

	p.SetFont("Helvetica", "B", 12)
	p.CellFormat(0, 8, "II. Products/services", "", 1, "L", false, 0, "")
	p.SetFont("Helvetica", "", 10)
	p.CellFormat(0, 7, tr("14. Details of business activities (accounting for 90% of turnover):"), "", 1, "L", false, 0, "")

	var rows14 [][]string
	for i, r := range ext.Table14 {
		rows14 = append(rows14, []string{strconv.Itoa(i + 1), orDash(r.MainActivity), orDash(r.Description), percent(r.TurnoverPercentage)})
	}
	if len(rows14) == 0 {
		rows14 = [][]string{{"1", "No data extracted", "-", "-"}}
	}
	t.table([]float64{14, 45, 93, 30},
		[]string{"S.No.", "Main Activity", "Description of Business Activity", "% of Turnover"},
		tableHeadFill, true, rows14)
	p.Ln(8)

	p.SetFont("Helvetica", "", 10)
	p.CellFormat(0, 7, tr("15. Products/Services sold by the entity (accounting for 90% of turnover):"), "", 1, "L", false, 0, "")
	var rows15 [][]string
	for i, r := range ext.Table15 {
		rows15 = append(rows15, []string{strconv.Itoa(i + 1), orDash(r.ProductService), orDash(r.NICCode), percent(r.TurnoverPercentage)})
	}
	if len(rows15) == 0 {
		rows15 = [][]string{{"1", "No data extracted", "-", "-"}}
	}
	t.table([]float64{14, 80, 44, 44},
		[]string{"S.No.", "Product/Service", "NIC Code", "% of Total Turnover"},
		tableHeadFill, true, rows15)

	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func percent(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + "%"
}

// tableWriter draws grid tables whose cells wrap onto multiple lines.
type tableWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (t *tableWriter) table(widths []float64, head []string, headFill rgb, striped bool, rows [][]string) {
	p := t.pdf
	p.SetFont("Helvetica", "B", 10)
	p.SetFillColor(headFill.r, headFill.g, headFill.b)
	p.SetTextColor(255, 255, 255)
	t.row(widths, head, true)

	p.SetFont("Helvetica", "", 10)
	p.SetTextColor(0, 0, 0)
	for i, r := range rows {
		fill := striped && i%2 == 1
		if fill {
			p.SetFillColor(stripeFill.r, stripeFill.g, stripeFill.b)
		}
		t.row(widths, r, fill)
	}
}

func (t *tableWriter) row(widths []float64, cells []string, fill bool) {
	p := t.pdf
	lines := make([][]string, len(cells))
	maxLines := 1
	for i, c := range cells {
		lines[i] = p.SplitText(t.tr(c), widths[i]-2*cellPad)
		if len(lines[i]) == 0 {
			lines[i] = []string{""}
		}
		if len(lines[i]) > maxLines {
			maxLines = len(lines[i])
		}
	}
	h := float64(maxLines)*lineHeight + cellPad

	_, pageH := p.GetPageSize()
	_, _, _, bottom := p.GetMargins()
	if p.GetY()+h > pageH-bottom {
		p.AddPage()
	}

	x, y := p.GetX(), p.GetY()
	style := "D"
	if fill {
		style = "FD"
	}
	for i, w := range widths {
		p.Rect(x, y, w, h, style)
		for j, l := range lines[i] {
			p.SetXY(x+cellPad, y+cellPad/2+float64(j)*lineHeight)
			p.CellFormat(w-2*cellPad, lineHeight, l, "", 0, "L", false, 0, "")
		}
		x += w
	}
	p.SetXY(pageMargin, y+h)
}

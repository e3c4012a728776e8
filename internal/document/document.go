// Package document loads annual-report files (PDF, Excel, plain text) into
// the plain text handed to extraction.
package document

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// MaxPDFPages caps how many PDF pages are read.
const MaxPDFPages = 50

// Kind is the detected document format.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindExcel Kind = "excel"
	KindText  Kind = "text"
)

// Document holds a loaded document with derived metadata.
type Document struct {
	Name  string
	Kind  Kind
	Hash  string // "sha256:<hex>" of the original bytes
	Text  string
	Pages int // PDF pages or Excel sheets read; 0 for text
}

// Load reads a file from disk and extracts its text.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return doc, nil
}

// LoadAll loads every path in order, failing on the first error.
func LoadAll(paths []string) ([]Document, error) {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		d, err := Load(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, nil
}

// FromText wraps already-extracted text, e.g. a request body.
func FromText(name, text string) Document {
	return Document{Name: name, Kind: KindText, Hash: hash([]byte(text)), Text: text}
}

// Parse extracts text from data, choosing the format by file extension.
func Parse(name string, data []byte) (*Document, error) {
	doc := &Document{Name: name, Hash: hash(data)}
	var err error
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".pdf":
		doc.Kind = KindPDF
		doc.Text, doc.Pages, err = pdfText(data)
	case ".xlsx", ".xlsm", ".xltx":
		doc.Kind = KindExcel
		doc.Text, doc.Pages, err = excelText(data)
	case ".xls":
		return nil, fmt.Errorf("legacy .xls workbooks are not supported; save as .xlsx")
	case ".txt", ".text", ".md", ".csv":
		doc.Kind = KindText
		doc.Text = string(data)
	default:
		return nil, fmt.Errorf("unsupported file format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func hash(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

// pdfText renders up to MaxPDFPages pages, each under a "--- Page i ---" header.
func pdfText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to extract text from PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to extract text from PDF: %w", err)
	}
	n := r.NumPage()
	if n > MaxPDFPages {
		n = MaxPDFPages
	}
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		var pageText string
		if !p.V.IsNull() {
			pageText, err = p.GetPlainText(nil)
			if err != nil {
				return "", 0, fmt.Errorf("failed to extract text from PDF page %d: %w", i, err)
			}
		}
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n\n", i, strings.TrimSpace(pageText))
	}
	return sb.String(), n, nil
}

// excelText renders every sheet under a "--- Sheet: name ---" header with the
// cells of each row joined by spaces.
func excelText(data []byte) (string, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("failed to extract text from Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var sb strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", 0, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		fmt.Fprintf(&sb, "--- Sheet: %s ---\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), len(sheets), nil
}

// Truncate limits text to max runes. It reports whether anything was cut.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}
	r := []rune(text)
	if len(r) <= max {
		return text, false
	}
	return string(r[:max]), true
}

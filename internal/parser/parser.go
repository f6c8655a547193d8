// Package parser extracts page text from business documents and cuts it
// into retrieval chunks.
package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// Page is the text of one page, slide or sheet. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Supported lists the file extensions Extract understands.
var Supported = []string{".pdf", ".docx", ".pptx", ".xlsx", ".ods", ".md", ".txt"}

// IsSupported reports whether path has an extension Extract understands.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range Supported {
		if s == ext {
			return true
		}
	}
	return false
}

// Extract returns the normalized, non-empty pages of the file at path.
func Extract(path string) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		pages, err = parsePDF(path)
	case ".docx":
		pages, err = parseDOCX(path)
	case ".pptx":
		pages, err = parsePPTX(path)
	case ".xlsx":
		pages, err = parseXLSX(path)
	case ".ods":
		pages, err = parseODS(path)
	case ".md":
		pages, err = parseMarkdown(path)
	case ".txt":
		pages, err = parseText(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	out := pages[:0]
	for _, p := range pages {
		p.Text = Normalize(p.Text)
		if p.Text != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func parsePDF(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>|<w:br\s*/>|</a:p>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// xmlText keeps the character data of an Office XML part, one paragraph
// per line.
func xmlText(content string) string {
	content = paragraphEnd.ReplaceAllString(content, "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return html.UnescapeString(content)
}

func parseDOCX(path string) ([]Page, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// A docx has no stored pagination.
	return []Page{{Number: 1, Text: xmlText(r.Editable().GetContent())}}, nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(path string) ([]Page, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: n, Text: xmlText(string(data))})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func parseXLSX(path string) ([]Page, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(f.Sheets))
	for i, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, Page{Number: i + 1, Text: sheetText(sheet.Name, rows)})
	}
	return pages, nil
}

func parseODS(path string) ([]Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for i, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		pages = append(pages, Page{Number: i + 1, Text: sheetText(name, rows)})
	}
	return pages, nil
}

// sheetText renders a sheet as a title line followed by one line per
// non-empty row, cells separated by " | ".
func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feuille : %s\n", name)
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, c := range row {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			b.WriteString(strings.Join(cells, " | "))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func parseText(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}

func parseMarkdown(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Text: markdownText(data)}}, nil
}

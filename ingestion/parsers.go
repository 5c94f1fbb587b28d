package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Extractor pulls zero or more text records out of a file.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, path string) ([]string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) ([]string, error) {
	return f(ctx, path)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExtractText reads a UTF-8 file as a single record.
func ExtractText(_ context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("decode %s: invalid UTF-8", path)
	}
	return []string{normalizePlainText(string(data))}, nil
}

// ExtractPDF yields one record per page with extractable text.
func ExtractPDF(ctx context.Context, path string) ([]string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		pages = append(pages, normalizePlainText(text))
	}
	return pages, nil
}

// ExtractDOCX reads word/document.xml and returns the body text as one record,
// one line per paragraph.
func ExtractDOCX(_ context.Context, path string) ([]string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, errors.New("open docx: word/document.xml not found")
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("open docx body: %w", err)
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return nil, fmt.Errorf("parse docx body: %w", err)
	}
	return []string{text}, nil
}

func docxText(r io.Reader) (string, error) {
	const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Space != wordNS {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if el.Name.Space != wordNS {
				continue
			}
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// ExtractXLSX yields one record per data row across every sheet.
func ExtractXLSX(ctx context.Context, path string) ([]string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	records := make([]string, 0)
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		records = append(records, tableRecords(sheet, rows)...)
	}
	return records, nil
}

// ExtractXLS is the legacy-workbook counterpart of ExtractXLSX.
func ExtractXLS(ctx context.Context, path string) ([]string, error) {
	book, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if book == nil {
		return nil, errors.New("open xls: no workbook stream")
	}

	records := make([]string, 0)
	for s := 0; s < book.NumSheets(); s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheet := book.GetSheet(s)
		if sheet == nil {
			continue
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for i := 0; i <= int(sheet.MaxRow); i++ {
			row := sheetRow(sheet, i)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		records = append(records, tableRecords(sheet.Name, rows)...)
	}
	return records, nil
}

// sheetRow returns nil for row numbers the sheet never recorded; the library
// dereferences the missing row and panics.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// ExtractCSV yields one record per data row, each line "header: value".
func ExtractCSV(_ context.Context, path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headers := rows[0]
	records := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if firstNonEmpty(row) == "" {
			continue
		}
		records = append(records, formatRow(headers, row))
	}
	return records, nil
}

// tableRecords treats the first non-blank row as the header row. A sheet with
// only a header still yields that row so its labels stay searchable.
func tableRecords(sheet string, rows [][]string) []string {
	var headers []string
	records := make([]string, 0, len(rows))
	for _, row := range rows {
		if firstNonEmpty(row) == "" {
			continue
		}
		if headers == nil {
			headers = row
			continue
		}
		records = append(records, "Sheet: "+sheet+"\n"+formatRow(headers, row))
	}
	if len(records) == 0 && headers != nil {
		records = append(records, "Sheet: "+sheet+"\n"+strings.Join(trimAll(headers), " | "))
	}
	return records
}

func formatRow(headers, row []string) string {
	builder := &strings.Builder{}

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		value := strings.TrimSpace(row[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(value)
	}

	// Values beyond the header count keep their position.
	for i := len(headers); i < len(row); i++ {
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

package ingestion

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rpattn/folio/internal/columns"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyPayload is returned when a file carries no content.
	ErrEmptyPayload = errors.New("file payload is empty")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Sheet is one decoded table. Rows keep their 1-based position in the source
// file; blank rows are dropped but still counted.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []columns.Row
	// Err is set when the sheet could not be turned into rows.
	Err error
}

// Decoder turns a file payload into sheets.
type Decoder interface {
	Decode(name string, payload []byte) ([]Sheet, error)
}

// File types accepted by the importer.
const (
	FileTypeCSV  = "csv"
	FileTypeTSV  = "tsv"
	FileTypeText = "txt"
	FileTypeXLSX = "xlsx"
)

// ResolveFileType maps a declared type (extension or MIME type) or, failing
// that, the file name extension onto one of the supported file types.
func ResolveFileType(declared, name string) (string, error) {
	candidates := []string{strings.ToLower(strings.TrimSpace(declared)), strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")}
	for _, candidate := range candidates {
		switch strings.TrimPrefix(candidate, ".") {
		case "csv", "text/csv", "application/csv":
			return FileTypeCSV, nil
		case "tsv", "text/tab-separated-values":
			return FileTypeTSV, nil
		case "txt", "text", "text/plain":
			return FileTypeText, nil
		case "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
			return FileTypeXLSX, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, firstNonEmpty(declared, filepath.Ext(name), name))
}

// DecoderFor returns the decoder for a resolved file type.
func DecoderFor(fileType string) (Decoder, error) {
	switch fileType {
	case FileTypeCSV:
		return delimitedDecoder{comma: ','}, nil
	case FileTypeTSV:
		return delimitedDecoder{comma: '\t'}, nil
	case FileTypeText:
		return delimitedDecoder{sniff: true}, nil
	case FileTypeXLSX:
		return workbookDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileType)
	}
}

// DecodePayload unwraps submitted content. Without an explicit encoding,
// workbooks and data URLs are read as base64 and delimited text as-is. Base64
// content may carry a data URL prefix.
func DecodePayload(content, encoding, fileType string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" {
		encoding = "text"
		if fileType == FileTypeXLSX || strings.HasPrefix(strings.TrimSpace(content), "data:") {
			encoding = "base64"
		}
	}
	switch encoding {
	case "base64":
		trimmed := strings.TrimSpace(content)
		if strings.HasPrefix(trimmed, "data:") {
			if _, data, ok := strings.Cut(trimmed, ","); ok {
				trimmed = data
			}
		}
		if trimmed == "" {
			return nil, ErrEmptyPayload
		}
		payload, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
		if len(payload) == 0 {
			return nil, ErrEmptyPayload
		}
		return payload, nil
	case "text", "plain", "utf-8", "utf8":
		if strings.TrimSpace(content) == "" {
			return nil, ErrEmptyPayload
		}
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

type delimitedDecoder struct {
	comma rune
	sniff bool
}

func (d delimitedDecoder) Decode(name string, payload []byte) ([]Sheet, error) {
	payload = bytes.TrimPrefix(payload, byteOrderMark)
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyPayload
	}

	comma := d.comma
	if d.sniff {
		comma = sniffDelimiter(payload)
	}

	csvReader := csv.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	csvReader.Comma = comma
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	var (
		records [][]string
		lines   []int
	)
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read delimited text: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}

	sheet, err := buildSheet(sheetNameFor(name), records, lines)
	if err != nil {
		return nil, err
	}
	return []Sheet{sheet}, nil
}

func sniffDelimiter(payload []byte) rune {
	firstLine, _, _ := bytes.Cut(payload, []byte("\n"))
	best, bestCount := ',', 0
	for _, candidate := range []rune{'\t', ',', ';', '|'} {
		if count := bytes.Count(firstLine, []byte(string(candidate))); count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}

type workbookDecoder struct{}

// Decode reads every sheet in workbook order. Sheets without any non-blank
// row are left out; a workbook with no usable sheet is an error.
func (workbookDecoder) Decode(_ string, payload []byte) ([]Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	sheets := make([]Sheet, 0, len(names))
	for _, name := range names {
		rows, readErr := f.GetRows(name)
		if readErr != nil {
			sheets = append(sheets, Sheet{Name: name, Err: fmt.Errorf("failed to read rows from sheet %q: %w", name, readErr)})
			continue
		}
		lines := make([]int, len(rows))
		for i := range rows {
			lines[i] = i + 1
		}
		sheet, buildErr := buildSheet(name, rows, lines)
		if errors.Is(buildErr, errNoRows) {
			continue
		}
		if buildErr != nil {
			sheet = Sheet{Name: name, Err: buildErr}
		}
		sheets = append(sheets, sheet)
	}
	if len(sheets) == 0 {
		return nil, errNoRows
	}
	return sheets, nil
}

var errNoRows = errors.New("no rows found in file")

// buildSheet takes the first non-blank record as the header row and pairs
// every later non-blank record with it.
func buildSheet(name string, records [][]string, lines []int) (Sheet, error) {
	headerIndex := -1
	for i, record := range records {
		if len(cleanRow(record)) > 0 {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 {
		return Sheet{}, errNoRows
	}

	headers := make([]string, len(records[headerIndex]))
	for i, value := range records[headerIndex] {
		headers[i] = strings.TrimSpace(value)
	}

	sheet := Sheet{Name: name, Headers: headers}
	for i := headerIndex + 1; i < len(records); i++ {
		if len(cleanRow(records[i])) == 0 {
			continue
		}
		sheet.Rows = append(sheet.Rows, columns.NewRow(lines[i], headers, records[i]))
	}
	return sheet, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sheetNameFor(fileName string) string {
	base := filepath.Base(strings.TrimSpace(fileName))
	if base == "." || base == "/" || base == "" {
		return "Sheet1"
	}
	if trimmed := strings.TrimSuffix(base, filepath.Ext(base)); trimmed != "" {
		return trimmed
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

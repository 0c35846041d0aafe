package ingestion

import (
	"strings"

	"github.com/rpattn/folio/internal/columns"
	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/pkg/validator"
)

var (
	headerSequence = columns.Header(columns.TxSequence)
	headerTitle    = columns.Header(columns.TxTitle)
	headerRating   = columns.Header(columns.TxRating)
)

var rowDefinitions = map[string]validator.FieldDefinition{
	headerSequence: {Type: validator.FieldTypeInteger, Min: validator.Bound(1)},
	headerRating:   {Type: validator.FieldTypeFloat, Min: validator.Bound(0), Max: validator.Bound(10)},
	headerTitle:    {Type: validator.FieldTypeString, MaxLength: 1000},
}

// rowInput is a parsed transaction row before matching.
type rowInput struct {
	row           int
	sequence      int // 0 when the row has none
	titleKey      string
	tx            domain.Transaction
	genericNames  []string
	specificNames []string
	category      string
}

func isBookRow(row columns.Row) bool {
	for _, field := range columns.BookFields() {
		if row.Defines(field) {
			return true
		}
	}
	return false
}

func isTransactionRow(row columns.Row) bool {
	for _, field := range columns.TransactionFields() {
		if row.Defines(field) {
			return true
		}
	}
	return false
}

func extractBook(row columns.Row) domain.Book {
	get := func(field columns.Field) string {
		value, _ := row.Get(field)
		return value
	}
	return domain.Book{
		LibraryID: get(columns.BookLibraryID),
		Name:      get(columns.BookName),
		Summary:   get(columns.BookSummary),
		PageRange: get(columns.BookPageRange),
		Grade:     get(columns.BookGrade),
		Remark:    get(columns.BookRemark),
		Edition:   get(columns.BookEdition),
		Publisher: get(columns.BookPublisher),
	}
}

// parseRow extracts and validates a transaction row. Absent fields are
// treated as empty.
func parseRow(row columns.Row, v *validator.FieldValidator) (rowInput, *domain.RowError) {
	get := func(field columns.Field) string {
		value, _ := row.Get(field)
		return value
	}

	raw := map[string]string{
		headerSequence: get(columns.TxSequence),
		headerRating:   get(columns.TxRating),
		headerTitle:    get(columns.TxTitle),
	}
	if result := v.Validate(raw, rowDefinitions); !result.IsValid {
		return rowInput{}, &domain.RowError{Row: row.Index, Message: result.Message(), Fields: result.Fields()}
	}

	in := rowInput{
		row:           row.Index,
		genericNames:  splitTerms(get(columns.TxGenericTerms)),
		specificNames: splitTerms(get(columns.TxSpecificTerms)),
		category:      get(columns.TxTermCategory),
	}
	if value := raw[headerSequence]; value != "" {
		in.sequence, _ = validator.ParseInteger(value)
	}
	title := raw[headerTitle]
	in.titleKey = columns.Normalize(title)

	in.tx = domain.Transaction{
		Title:      title,
		Keywords:   get(columns.TxKeywords),
		Text:       domain.ParseLocalizedText(get(columns.TxText)),
		Paragraph:  get(columns.TxParagraph),
		Page:       get(columns.TxPage),
		Remark:     get(columns.TxRemark),
		Summary:    get(columns.TxSummary),
		Conclusion: get(columns.TxConclusion),
		Images:     splitImages(get(columns.TxImages)),
	}
	if value := raw[headerRating]; value != "" {
		rating, _ := validator.ParseFloat(value)
		in.tx.Rating = &rating
	}

	if in.sequence == 0 && in.titleKey == "" && in.tx.Text.IsZero() {
		return rowInput{}, &domain.RowError{
			Row:     row.Index,
			Message: "row has no sequence number, title or text",
			Fields:  []string{headerSequence, headerTitle},
		}
	}
	return in, nil
}

// splitTerms splits a term cell on semicolons and newlines and drops repeats
// that normalize to the same name. Commas stay inside names so exported cells
// read back unchanged.
func splitTerms(raw string) []string {
	return splitList(raw, ";\n", columns.Normalize)
}

func splitImages(raw string) []string {
	return splitList(raw, ";\n", strings.TrimSpace)
}

func splitList(raw, separators string, key func(string) string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return strings.ContainsRune(separators, r) })
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		k := key(part)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, part)
	}
	return out
}

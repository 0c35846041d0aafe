package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/folio/internal/columns"
	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"
)

// ListSeparator joins multi-valued cells. The importer splits on it.
const ListSeparator = "; "

// Variant selects the column layout of an export.
type Variant string

const (
	// VariantTransactions writes transaction columns only.
	VariantTransactions Variant = "transactions"
	// VariantOverview prefixes book columns and writes the book as the first
	// data row.
	VariantOverview Variant = "overview"
)

// ErrUnknownVariant is returned for variants other than the two above.
var ErrUnknownVariant = errors.New("unknown export variant")

// ParseVariant maps a query value to a variant. Empty selects transactions.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case "", VariantTransactions:
		return VariantTransactions, nil
	case VariantOverview:
		return VariantOverview, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, raw)
	}
}

// Service turns stored books back into importable delimited text.
type Service struct {
	books        repository.BookRepository
	transactions repository.TransactionRepository
	terms        repository.TermRepository
	now          func() time.Time
}

type Option func(*Service)

// WithClock overrides the clock used for export file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(books repository.BookRepository, transactions repository.TransactionRepository, terms repository.TermRepository, opts ...Option) *Service {
	service := &Service{
		books:        books,
		transactions: transactions,
		terms:        terms,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request describes one export.
type Request struct {
	BookID  uuid.UUID
	Variant Variant
	Filter  domain.TransactionFilter
}

// Document is a fully loaded export ready to be written.
type Document struct {
	Book         domain.Book
	Variant      Variant
	Transactions []domain.Transaction
	categories   map[uuid.UUID]string
	createdAt    time.Time
}

// Build loads the book, its matching transactions and the categories of their
// specific terms. Nothing is written, so callers can still report errors.
func (s *Service) Build(ctx context.Context, req Request) (*Document, error) {
	if req.Variant == "" {
		req.Variant = VariantTransactions
	}
	book, err := s.books.GetByID(ctx, req.BookID)
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", req.BookID, err)
	}
	txs, err := s.transactions.ListByBook(ctx, book.ID, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	categories, err := s.loadCategories(ctx, txs)
	if err != nil {
		return nil, err
	}
	return &Document{
		Book:         book,
		Variant:      req.Variant,
		Transactions: txs,
		categories:   categories,
		createdAt:    s.now().UTC(),
	}, nil
}

func (s *Service) loadCategories(ctx context.Context, txs []domain.Transaction) (map[uuid.UUID]string, error) {
	seen := map[string]struct{}{}
	var names []string
	for _, tx := range txs {
		for _, ref := range tx.SpecificTerms {
			key := strings.ToLower(ref.Name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, ref.Name)
		}
	}
	categories := make(map[uuid.UUID]string)
	if len(names) == 0 || s.terms == nil {
		return categories, nil
	}
	terms, err := s.terms.FindByNames(ctx, domain.TermKindSpecific, names)
	if err != nil {
		return nil, fmt.Errorf("load term categories: %w", err)
	}
	for _, term := range terms {
		if term.Category != "" {
			categories[term.ID] = term.Category
		}
	}
	return categories, nil
}

// FileName is the suggested attachment name.
func (d *Document) FileName() string {
	name := sanitizeFileComponent(d.Book.Name)
	if name == "" {
		name = d.Book.ID.String()
	}
	return fmt.Sprintf("%s-%s-%s.csv", name, d.Variant, d.createdAt.Format("20060102-150405"))
}

// Headers returns the header row for the document's variant.
func (d *Document) Headers() []string {
	var fields []columns.Field
	if d.Variant == VariantOverview {
		fields = append(fields, columns.BookFields()...)
	}
	fields = append(fields, columns.TransactionFields()...)
	headers := make([]string, len(fields))
	for i, field := range fields {
		headers[i] = columns.Header(field)
	}
	return headers
}

// WriteTo streams the document as CSV.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(d.Headers()); err != nil {
		return counter.count, fmt.Errorf("write header: %w", err)
	}

	bookWidth := 0
	if d.Variant == VariantOverview {
		bookWidth = len(columns.BookFields())
		record := append(bookRecord(d.Book), make([]string, len(columns.TransactionFields()))...)
		if err := csvWriter.Write(record); err != nil {
			return counter.count, fmt.Errorf("write book row: %w", err)
		}
	}

	for _, tx := range d.Transactions {
		record := append(make([]string, bookWidth), d.transactionRecord(tx)...)
		if err := csvWriter.Write(record); err != nil {
			return counter.count, fmt.Errorf("write transaction %d: %w", tx.Sequence, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return counter.count, fmt.Errorf("flush csv: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return counter.count, fmt.Errorf("flush buffered export: %w", err)
	}
	log.Printf("[export] book %s: wrote %d transaction(s), %d bytes (%s)", d.Book.ID, len(d.Transactions), counter.count, d.Variant)
	return counter.count, nil
}

func bookRecord(book domain.Book) []string {
	return []string{
		book.LibraryID,
		book.Name,
		book.Summary,
		book.PageRange,
		book.Grade,
		book.Remark,
		book.Edition,
		book.Publisher,
	}
}

func (d *Document) transactionRecord(tx domain.Transaction) []string {
	return []string{
		strconv.Itoa(tx.Sequence),
		tx.Title,
		tx.Keywords,
		tx.Text.String(),
		tx.Paragraph,
		tx.Page,
		formatRating(tx.Rating),
		tx.Remark,
		tx.Summary,
		tx.Conclusion,
		joinTerms(tx.GenericTerms),
		joinTerms(tx.SpecificTerms),
		d.category(tx),
		strings.Join(tx.Images, ListSeparator),
	}
}

// category is the first non-empty category among the specific terms.
func (d *Document) category(tx domain.Transaction) string {
	for _, ref := range tx.SpecificTerms {
		if category := d.categories[ref.ID]; category != "" {
			return category
		}
	}
	return ""
}

func joinTerms(refs []domain.TermRef) string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return strings.Join(names, ListSeparator)
}

func formatRating(rating *float64) string {
	if rating == nil {
		return ""
	}
	return strconv.FormatFloat(*rating, 'f', -1, 64)
}

func sanitizeFileComponent(value string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

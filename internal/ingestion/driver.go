package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/entityloader"
)

// decodedFile holds what a submitted file turned into before any record is
// written.
type decodedFile struct {
	name   string
	err    error
	sheets []parsedSheet
}

// parsedSheet keeps row inputs and row errors in file order.
type parsedSheet struct {
	name  string
	err   error
	items []sheetItem
}

// sheetItem is either a parsed row or the error that rejected it.
type sheetItem struct {
	input  rowInput
	rowErr *domain.RowError
}

var errNoBook = errors.New("no sheet starts with a book row and no book name was given")

// run is the orchestration body of one job. Files and sheets are handled one
// after another; rows of a sheet go through the worker pool.
func (s *Service) run(ctx context.Context, progress Progress, req Request) {
	progress.MarkProcessing()
	jobID := progress.JobID()

	files, candidate, haveBook := s.decodeAll(req)

	var (
		state   *jobState
		bookErr error
	)
	if !haveBook {
		bookErr = errNoBook
	} else {
		state, bookErr = s.prepareJob(ctx, candidate, files)
		if bookErr == nil {
			progress.SetBook(state.book)
			log.Printf("[import] job %s importing into book %s (%q)", jobID, state.book.ID, state.book.Name)
		}
	}

	for fi, file := range files {
		progress.FileStarted(fi)
		if file.err != nil {
			log.Printf("[import] job %s: file %q failed: %v", jobID, file.name, file.err)
			progress.FileFailed(fi, file.err)
			s.recordFailure(ctx, jobID, file.name, "", nil, file.err.Error())
			continue
		}
		for _, sheet := range file.sheets {
			si := progress.SheetStarted(fi, sheet.name)
			sheetErr := sheet.err
			if sheetErr == nil {
				sheetErr = bookErr
			}
			if sheetErr != nil {
				progress.SheetFailed(fi, si, sheetErr)
				s.recordFailure(ctx, jobID, file.name, sheet.name, nil, sheetErr.Error())
				continue
			}
			s.processSheet(ctx, progress, state, sheetRef{file: fi, sheet: si, fileName: file.name, sheetName: sheet.name}, sheet.items)
			progress.SheetCompleted(fi, si)
		}
		progress.FileCompleted(fi)
	}
}

// decodeAll decodes and parses every file up front and finds the book. The
// book comes from the first sheet, in submission order, whose first data row
// carries book fields. That row is only dropped when it carries no
// transaction fields; every other row is parsed as a transaction. A non-empty
// override always provides the name.
func (s *Service) decodeAll(req Request) ([]decodedFile, domain.Book, bool) {
	var (
		candidate domain.Book
		haveBook  bool
	)
	files := make([]decodedFile, len(req.Files))
	for i, input := range req.Files {
		files[i].name = input.Name
		sheets, err := decodeFile(input)
		if err != nil {
			files[i].err = err
			continue
		}
		for _, sheet := range sheets {
			parsed := parsedSheet{name: sheet.Name, err: sheet.Err}
			rows := sheet.Rows
			if parsed.err == nil && !haveBook && len(rows) > 0 && isBookRow(rows[0]) {
				candidate = extractBook(rows[0])
				haveBook = true
				if !isTransactionRow(rows[0]) {
					rows = rows[1:]
				}
			}
			for _, row := range rows {
				in, rowErr := parseRow(row, s.validator)
				parsed.items = append(parsed.items, sheetItem{input: in, rowErr: rowErr})
			}
			files[i].sheets = append(files[i].sheets, parsed)
		}
	}

	if override := strings.TrimSpace(req.BookName); override != "" {
		candidate.Name = override
		haveBook = true
	}
	return files, candidate, haveBook
}

func decodeFile(input FileInput) ([]Sheet, error) {
	fileType, err := ResolveFileType(input.Type, input.Name)
	if err != nil {
		return nil, err
	}
	decoder, err := DecoderFor(fileType)
	if err != nil {
		return nil, err
	}
	payload, err := DecodePayload(input.Content, input.Encoding, fileType)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(input.Name, payload)
}

// jobState is everything a job shares between sheets and workers.
type jobState struct {
	book      domain.Book
	resolver  *resolver
	index     *lookupIndex
	allocator *allocator
}

func (s *Service) prepareJob(ctx context.Context, candidate domain.Book, files []decodedFile) (*jobState, error) {
	if strings.TrimSpace(candidate.Name) == "" {
		return nil, errors.New("book row has no book name")
	}
	loader := entityloader.NewTermLoader(s.terms, s.loaderWait)
	res := newResolver(s.books, s.terms, loader)

	book, err := res.Book(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("resolve book: %w", err)
	}
	index, err := loadLookupIndex(ctx, s.transactions, book.ID)
	if err != nil {
		return nil, err
	}

	var explicit []int
	for _, file := range files {
		for _, sheet := range file.sheets {
			for _, item := range sheet.items {
				if item.rowErr == nil && item.input.sequence > 0 {
					explicit = append(explicit, item.input.sequence)
				}
			}
		}
	}

	return &jobState{
		book:      book,
		resolver:  res,
		index:     index,
		allocator: newAllocator(index, explicit),
	}, nil
}

package ingestion

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/jobs"
	"github.com/rpattn/folio/internal/repository/memory"
)

type fixture struct {
	store    *memory.Store
	registry *jobs.Registry
	service  *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	registry := jobs.NewRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	service := NewService(store.Books, store.Transactions, store.Terms, store.IngestionLogs, registry, opts...)
	return &fixture{store: store, registry: registry, service: service}
}

func (f *fixture) run(t *testing.T, req Request) domain.ImportJob {
	t.Helper()
	job, err := f.service.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.ImportStatusPending, job.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.registry.Wait(ctx, job.ID)
	require.NoError(t, err)
	return done
}

func (f *fixture) book(t *testing.T, name string) domain.Book {
	t.Helper()
	book, err := f.store.Books.FindByName(context.Background(), name)
	require.NoError(t, err)
	return book
}

func (f *fixture) transactions(t *testing.T, book domain.Book) []domain.Transaction {
	t.Helper()
	txs, err := f.store.Transactions.ListByBook(context.Background(), book.ID, domain.TransactionFilter{})
	require.NoError(t, err)
	return txs
}

func csvFile(name, content string) FileInput {
	return FileInput{Name: name, Type: "csv", Content: content, Encoding: "text"}
}

func sequences(txs []domain.Transaction) map[string]int {
	out := make(map[string]int, len(txs))
	for _, tx := range txs {
		out[tx.Title] = tx.Sequence
	}
	return out
}

func termNames(terms []domain.Term) []string {
	names := make([]string, len(terms))
	for i, term := range terms {
		names[i] = term.Name
	}
	return names
}

const basicCSV = `Book Name,Publisher,Sr No,Title,Generic Topics,Specific Topics,Category,Rating
The Book,Acme,,,,,,
,,1,First,Faith; Hope,Grace,Virtue,7.5
,,2,Second,faith,,,
`

func TestSubmitImportsBookTransactionsAndTerms(t *testing.T) {
	f := newFixture(t)

	job := f.run(t, Request{Caller: "alice", Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, "alice", job.Caller)
	assert.Equal(t, 2, job.CreatedCount)
	assert.Equal(t, 0, job.SkippedCount)
	require.Len(t, job.Files, 1)
	require.Len(t, job.Files[0].Sheets, 1)
	assert.Equal(t, "basic", job.Files[0].Sheets[0].Name)
	assert.Equal(t, domain.ImportStatusCompleted, job.Files[0].Sheets[0].Status)

	book := f.book(t, "the book")
	assert.Equal(t, "The Book", book.Name)
	assert.Equal(t, "Acme", book.Publisher)
	require.NotNil(t, job.BookID)
	assert.Equal(t, book.ID, *job.BookID)

	txs := f.transactions(t, book)
	require.Len(t, txs, 2)
	assert.Equal(t, 1, txs[0].Sequence)
	assert.Equal(t, "First", txs[0].Title)
	require.NotNil(t, txs[0].Rating)
	assert.InDelta(t, 7.5, *txs[0].Rating, 0.0001)
	assert.Len(t, txs[0].GenericTerms, 2)
	require.Len(t, txs[0].SpecificTerms, 1)
	assert.Equal(t, "Grace", txs[0].SpecificTerms[0].Name)
	require.Len(t, txs[1].GenericTerms, 1)
	assert.Equal(t, txs[0].GenericTerms[0].ID, txs[1].GenericTerms[0].ID, "faith resolves to the existing term")

	assert.ElementsMatch(t, []string{"Faith", "Hope"}, termNames(f.store.Terms.All(domain.TermKindGeneric)))
	specific := f.store.Terms.All(domain.TermKindSpecific)
	require.Len(t, specific, 1)
	assert.Equal(t, "Virtue", specific[0].Category)
}

func TestReimportUpdatesInsteadOfDuplicating(t *testing.T) {
	f := newFixture(t)

	first := f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})
	require.Equal(t, domain.ImportStatusCompleted, first.Status)

	second := f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})
	require.Equal(t, domain.ImportStatusCompleted, second.Status)
	assert.Equal(t, 0, second.CreatedCount)
	assert.Equal(t, 2, second.UpdatedCount)

	book := f.book(t, "The Book")
	assert.Len(t, f.transactions(t, book), 2)
	assert.Len(t, f.store.Terms.All(domain.TermKindGeneric), 2)
}

func TestUpdateReplacesTermLinks(t *testing.T) {
	f := newFixture(t)
	f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	job := f.run(t, Request{BookName: "The Book", Files: []FileInput{csvFile("update.csv", "Sr No,Title,Generic Topics\n1,First,Charity\n")}})
	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 1, job.UpdatedCount)

	txs := f.transactions(t, f.book(t, "The Book"))
	require.Len(t, txs[0].GenericTerms, 1)
	assert.Equal(t, "Charity", txs[0].GenericTerms[0].Name)
	assert.Empty(t, txs[0].SpecificTerms)
	assert.Nil(t, txs[0].Rating)
}

func TestTitleMatchUpdatesRowWithoutSequence(t *testing.T) {
	f := newFixture(t)
	f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	job := f.run(t, Request{BookName: "The Book", Files: []FileInput{csvFile("retitle.csv", "Title,Keywords\n  SECOND ,kw\n")}})
	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 1, job.UpdatedCount)
	assert.Equal(t, 0, job.CreatedCount)

	txs := f.transactions(t, f.book(t, "The Book"))
	require.Len(t, txs, 2)
	assert.Equal(t, 2, txs[1].Sequence)
	assert.Equal(t, "kw", txs[1].Keywords)
}

func TestAllocationSkipsLaterExplicitSequence(t *testing.T) {
	f := newFixture(t)
	seed := "Book Name,Sr No,Title\nLedger,,\n,1,One\n,2,Two\n,3,Three\n,4,Four\n,5,Five\n"
	require.Equal(t, domain.ImportStatusCompleted, f.run(t, Request{Files: []FileInput{csvFile("seed.csv", seed)}}).Status)

	next := "Sr No,Title\n,Alpha\n,Beta\n7,Gamma\n,Delta\n"
	job := f.run(t, Request{BookName: "Ledger", Files: []FileInput{csvFile("next.csv", next)}})
	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 4, job.CreatedCount)

	got := sequences(f.transactions(t, f.book(t, "Ledger")))
	assert.Equal(t, 6, got["Alpha"])
	assert.Equal(t, 8, got["Beta"])
	assert.Equal(t, 7, got["Gamma"])
	assert.Equal(t, 9, got["Delta"])
}

func TestDuplicateExplicitSequenceIsRowError(t *testing.T) {
	f := newFixture(t)
	content := "Book Name,Sr No,Title\nLedger,,\n,1,One\n,1,Uno\n"

	job := f.run(t, Request{Files: []FileInput{csvFile("dup.csv", content)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 1, job.CreatedCount)
	assert.Equal(t, 1, job.SkippedCount)
	sheet := job.Files[0].Sheets[0]
	require.Len(t, sheet.Errors, 1)
	assert.Equal(t, 4, sheet.Errors[0].Row)
	assert.Contains(t, sheet.Errors[0].Message, "appears more than once")
	assert.Equal(t, []string{"Sr No"}, sheet.Errors[0].Fields)

	logs, err := f.store.IngestionLogs.List(context.Background(), job.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].RowNumber)
	assert.Equal(t, 4, *logs[0].RowNumber)
}

func TestInvalidRowIsSkippedWithFieldError(t *testing.T) {
	f := newFixture(t)
	content := "Book Name,Sr No,Title,Rating\nLedger,,,\n,1,Fine,3\n,2,Loud,11\n,abc,Odd,\n"

	job := f.run(t, Request{Files: []FileInput{csvFile("bad.csv", content)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 1, job.CreatedCount)
	assert.Equal(t, 2, job.SkippedCount)
	errs := job.Files[0].Sheets[0].Errors
	require.Len(t, errs, 2)
	assert.Equal(t, []string{"Rating"}, errs[0].Fields)
	assert.Equal(t, []string{"Sr No"}, errs[1].Fields)
}

func TestConcurrentRowsCreateSharedTermOnce(t *testing.T) {
	f := newFixture(t, WithConcurrency(8))
	f.store.Terms.CreateDelay = 20 * time.Millisecond

	var b strings.Builder
	b.WriteString("Book Name,Sr No,Title,Generic Topics,Specific Topics\nLedger,,,,\n")
	for i := 1; i <= 24; i++ {
		fmt.Fprintf(&b, ",%d,Row %d,Shared; shared ,Only\n", i, i)
	}

	job := f.run(t, Request{Files: []FileInput{csvFile("race.csv", b.String())}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 24, job.CreatedCount)
	require.Len(t, f.store.Terms.All(domain.TermKindGeneric), 1)
	require.Len(t, f.store.Terms.All(domain.TermKindSpecific), 1)
	assert.EqualValues(t, 2, f.store.Terms.CreateCalls())

	shared := f.store.Terms.All(domain.TermKindGeneric)[0].ID
	for _, tx := range f.transactions(t, f.book(t, "Ledger")) {
		require.Len(t, tx.GenericTerms, 1)
		assert.Equal(t, shared, tx.GenericTerms[0].ID)
	}
}

func TestMalformedFileDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t)
	good1 := csvFile("one.csv", "Book Name,Sr No,Title\nLedger,,\n,1,One\n")
	bad := FileInput{Name: "two.csv", Type: "csv", Content: "%%% not base64 %%%", Encoding: "base64"}
	good2 := csvFile("three.csv", "Sr No,Title\n2,Two\n")

	job := f.run(t, Request{Files: []FileInput{good1, bad, good2}})

	require.Equal(t, domain.ImportStatusFailed, job.Status)
	require.Len(t, job.Files, 3)
	assert.Equal(t, domain.ImportStatusCompleted, job.Files[0].Status)
	assert.Equal(t, domain.ImportStatusFailed, job.Files[1].Status)
	assert.Contains(t, job.Files[1].Error, "base64")
	assert.Equal(t, domain.ImportStatusCompleted, job.Files[2].Status)
	assert.Equal(t, 2, job.CreatedCount)
	assert.Len(t, f.transactions(t, f.book(t, "Ledger")), 2)
}

func TestUnsupportedFileFails(t *testing.T) {
	f := newFixture(t)
	job := f.run(t, Request{BookName: "Ledger", Files: []FileInput{{Name: "notes.pdf", Content: "aGVsbG8=", Encoding: "base64"}}})

	require.Equal(t, domain.ImportStatusFailed, job.Status)
	assert.Contains(t, job.Files[0].Error, ErrUnsupportedFormat.Error())
}

func TestMissingBookFailsEverySheet(t *testing.T) {
	f := newFixture(t)
	job := f.run(t, Request{Files: []FileInput{csvFile("orphan.csv", "Sr No,Title\n1,One\n")}})

	require.Equal(t, domain.ImportStatusFailed, job.Status)
	sheet := job.Files[0].Sheets[0]
	assert.Equal(t, domain.ImportStatusFailed, sheet.Status)
	assert.Equal(t, errNoBook.Error(), sheet.Error)
	assert.Nil(t, job.BookID)
}

func TestDenormalizedFilesKeepEveryRow(t *testing.T) {
	f := newFixture(t)
	first := csvFile("one.csv", "Book Name,Sr No,Title\nDenorm,,\n,1,One\n,2,Two\n")
	second := csvFile("two.csv", "Book Name,Sr No,Title\nDenorm,3,Third\nDenorm,4,Fourth\n")

	job := f.run(t, Request{Files: []FileInput{first, second}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 4, job.CreatedCount)
	assert.Equal(t, 0, job.SkippedCount)
	assert.Equal(t, 2, job.Files[1].Sheets[0].CreatedCount)
	got := sequences(f.transactions(t, f.book(t, "Denorm")))
	assert.Equal(t, map[string]int{"One": 1, "Two": 2, "Third": 3, "Fourth": 4}, got)
}

func TestFirstRowCarryingBookAndTransactionIsImported(t *testing.T) {
	f := newFixture(t)
	content := "Book Name,Sr No,Title\nSolo,1,One\nSolo,2,Two\n"

	job := f.run(t, Request{Files: []FileInput{csvFile("solo.csv", content)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	assert.Equal(t, 2, job.CreatedCount)
	assert.Len(t, f.transactions(t, f.book(t, "Solo")), 2)
}

func TestLaterBookOnlyRowIsReported(t *testing.T) {
	f := newFixture(t)
	first := csvFile("one.csv", "Book Name,Sr No,Title\nLedger,,\n,1,One\n")
	second := csvFile("two.csv", "Book Name,Sr No,Title\nLedger,,\n,2,Two\n")

	job := f.run(t, Request{Files: []FileInput{first, second}})

	assert.Equal(t, 2, job.CreatedCount)
	assert.Equal(t, 1, job.SkippedCount)
	require.Len(t, job.Files[1].Sheets[0].Errors, 1)
	assert.Equal(t, 2, job.Files[1].Sheets[0].Errors[0].Row)
}

func TestBookNameOverrideWins(t *testing.T) {
	f := newFixture(t)
	content := "Book Name,Edition,Sr No,Title\nFrom Sheet,2nd,,\n,,1,One\n"

	job := f.run(t, Request{BookName: "  Override ", Files: []FileInput{csvFile("book.csv", content)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	book := f.book(t, "Override")
	assert.Equal(t, "2nd", book.Edition)
	assert.Len(t, f.transactions(t, book), 1)
	_, err := f.store.Books.FindByName(context.Background(), "From Sheet")
	assert.Error(t, err)
}

func TestExistingBookOnlyGetsEmptyFieldsFilled(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Books.Create(context.Background(), domain.Book{Name: "Ledger", Publisher: "Original"})
	require.NoError(t, err)

	content := "Book Name,Publisher,Grade,Sr No,Title\nLedger,Other,A,,\n,,,1,One\n"
	f.run(t, Request{Files: []FileInput{csvFile("fill.csv", content)}})

	book := f.book(t, "Ledger")
	assert.Equal(t, "Original", book.Publisher)
	assert.Equal(t, "A", book.Grade)
}

func TestHeaderDriftIsTolerated(t *testing.T) {
	f := newFixture(t)
	content := "\ufeffBOOK NAME,Sr. No.,Title / Heading,Key Words,Page Number\nLedger,,,,\n,1,One,alpha,12\n"

	job := f.run(t, Request{Files: []FileInput{csvFile("drift.csv", content)}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	txs := f.transactions(t, f.book(t, "Ledger"))
	require.Len(t, txs, 1)
	assert.Equal(t, 1, txs[0].Sequence)
	assert.Equal(t, "One", txs[0].Title)
	assert.Equal(t, "alpha", txs[0].Keywords)
	assert.Equal(t, "12", txs[0].Page)
}

func TestWorkbookSheetsShareTheJob(t *testing.T) {
	f := newFixture(t)
	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]any{"Book Name", "Sr No", "Title"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]any{"Ledger", "", ""}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A3", &[]any{"", "1", "One"}))
	_, err := wb.NewSheet("Second")
	require.NoError(t, err)
	require.NoError(t, wb.SetSheetRow("Second", "A1", &[]any{"Sr No", "Title"}))
	require.NoError(t, wb.SetSheetRow("Second", "A2", &[]any{"", "Two"}))
	require.NoError(t, wb.SetSheetRow("Second", "A3", &[]any{"1", "Clash"}))
	_, err = wb.NewSheet("Empty")
	require.NoError(t, err)
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)

	file := FileInput{Name: "ledger.xlsx", Content: base64.StdEncoding.EncodeToString(buf.Bytes())}
	job := f.run(t, Request{Files: []FileInput{file}})

	require.Equal(t, domain.ImportStatusCompleted, job.Status)
	require.Len(t, job.Files[0].Sheets, 2)
	assert.Equal(t, "Sheet1", job.Files[0].Sheets[0].Name)
	assert.Equal(t, "Second", job.Files[0].Sheets[1].Name)
	assert.Equal(t, 2, job.CreatedCount)
	assert.Equal(t, 1, job.SkippedCount)
	assert.Equal(t, 3, job.Files[0].Sheets[1].Errors[0].Row)

	got := sequences(f.transactions(t, f.book(t, "Ledger")))
	assert.Equal(t, 1, got["One"])
	assert.Equal(t, 2, got["Two"])
}

func TestEventsAreOrderedAndEndTerminal(t *testing.T) {
	f := newFixture(t)
	job := f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	events, _, snapshot, err := f.registry.Events(context.Background(), job.ID, 0, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.ImportEventJobCreated, events[0].Type)
	assert.Equal(t, domain.ImportEventJobCompleted, events[len(events)-1].Type)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
	}
	assert.Equal(t, job.CreatedCount, snapshot.CreatedCount)

	var rowSuccesses int
	var sheetComplete, lastRow, bookResolved int
	for i, evt := range events {
		switch evt.Type {
		case domain.ImportEventBookResolved:
			assert.Equal(t, "The Book", evt.Message)
			bookResolved = i
		case domain.ImportEventRowSuccess:
			rowSuccesses++
			lastRow = i
		case domain.ImportEventSheetComplete:
			sheetComplete = i
		}
	}
	assert.Equal(t, 2, rowSuccesses)
	assert.Greater(t, sheetComplete, lastRow)
	assert.Greater(t, lastRow, bookResolved)
	assert.NotZero(t, bookResolved)
}

func TestSubmitRequiresFiles(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Submit(context.Background(), Request{})
	require.Error(t, err)
	assert.Empty(t, f.registry.List(""))
}

package jobs

import (
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/rpattn/folio/internal/domain"

	"github.com/google/uuid"
)

const maxMessageLength = 512

// Tracker is the write side of a running job. Every method updates the
// summary and appends the matching event under one lock, so the snapshot
// returned with a batch of events always reflects them. Methods are safe for
// concurrent use by row workers.
type Tracker struct {
	entry *entry
	now   func() time.Time
}

// JobID returns the id of the tracked job.
func (t *Tracker) JobID() uuid.UUID {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	return t.entry.job.ID
}

// MarkProcessing moves the job from pending to processing.
func (t *Tracker) MarkProcessing() {
	t.update(func(job *domain.ImportJob, at time.Time) *domain.ImportEvent {
		if job.Status != domain.ImportStatusPending {
			return nil
		}
		job.Status = domain.ImportStatusProcessing
		job.StartedAt = &at
		return &domain.ImportEvent{Type: domain.ImportEventJobStarted, Status: job.Status}
	})
}

// SetBook records the parent record the job resolved and emits
// book-resolved, so pollers learn the book without waiting for the end.
func (t *Tracker) SetBook(book domain.Book) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		id := book.ID
		job.BookID = &id
		job.BookName = book.Name
		return &domain.ImportEvent{Type: domain.ImportEventBookResolved, Message: book.Name}
	})
}

func (t *Tracker) FileStarted(file int) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		f := fileAt(job, file)
		if f == nil {
			return nil
		}
		f.Status = domain.ImportStatusProcessing
		return &domain.ImportEvent{Type: domain.ImportEventFileStart, File: intPtr(file), Status: f.Status, Message: f.Name}
	})
}

// FileFailed marks the file failed. A later FileCompleted keeps the failure.
func (t *Tracker) FileFailed(file int, err error) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		f := fileAt(job, file)
		if f == nil {
			return nil
		}
		f.Status = domain.ImportStatusFailed
		f.Error = truncate(err)
		return &domain.ImportEvent{Type: domain.ImportEventFileComplete, File: intPtr(file), Status: f.Status, Message: f.Error}
	})
}

// FileCompleted settles a file. A file whose every sheet failed is failed.
func (t *Tracker) FileCompleted(file int) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		f := fileAt(job, file)
		if f == nil || f.Status.Terminal() {
			return nil
		}
		f.Status = domain.ImportStatusCompleted
		if len(f.Sheets) > 0 {
			allFailed := true
			for _, sheet := range f.Sheets {
				if sheet.Status != domain.ImportStatusFailed {
					allFailed = false
					break
				}
			}
			if allFailed {
				f.Status = domain.ImportStatusFailed
				f.Error = "every sheet failed"
			}
		}
		return &domain.ImportEvent{Type: domain.ImportEventFileComplete, File: intPtr(file), Status: f.Status, Message: f.Error}
	})
}

// SheetStarted appends a sheet to the file summary and returns its index.
func (t *Tracker) SheetStarted(file int, name string) int {
	index := -1
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		f := fileAt(job, file)
		if f == nil {
			return nil
		}
		f.Sheets = append(f.Sheets, domain.SheetSummary{
			Name:   name,
			Status: domain.ImportStatusProcessing,
			Errors: []domain.RowError{},
		})
		index = len(f.Sheets) - 1
		return &domain.ImportEvent{Type: domain.ImportEventSheetStart, File: intPtr(file), Sheet: name, Status: domain.ImportStatusProcessing}
	})
	return index
}

func (t *Tracker) SheetFailed(file, sheet int, err error) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		s := sheetAt(job, file, sheet)
		if s == nil {
			return nil
		}
		s.Status = domain.ImportStatusFailed
		s.Error = truncate(err)
		return &domain.ImportEvent{Type: domain.ImportEventSheetComplete, File: intPtr(file), Sheet: s.Name, Status: s.Status, Message: s.Error}
	})
}

func (t *Tracker) SheetCompleted(file, sheet int) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		s := sheetAt(job, file, sheet)
		if s == nil || s.Status.Terminal() {
			return nil
		}
		s.Status = domain.ImportStatusCompleted
		return &domain.ImportEvent{
			Type:    domain.ImportEventSheetComplete,
			File:    intPtr(file),
			Sheet:   s.Name,
			Status:  s.Status,
			Message: fmt.Sprintf("%d created, %d updated, %d skipped", s.CreatedCount, s.UpdatedCount, s.SkippedCount),
		}
	})
}

// RowSucceeded counts a persisted row as created or updated.
func (t *Tracker) RowSucceeded(file, sheet, row int, created bool) {
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		s := sheetAt(job, file, sheet)
		if s == nil {
			return nil
		}
		message := "updated"
		if created {
			s.CreatedCount++
			job.CreatedCount++
			message = "created"
		} else {
			s.UpdatedCount++
			job.UpdatedCount++
		}
		return &domain.ImportEvent{Type: domain.ImportEventRowSuccess, File: intPtr(file), Sheet: s.Name, Row: row, Message: message}
	})
}

// RowFailed records a skipped row with its single RowError.
func (t *Tracker) RowFailed(file, sheet int, rowErr domain.RowError) {
	rowErr.Message = truncateMessage(rowErr.Message)
	t.update(func(job *domain.ImportJob, _ time.Time) *domain.ImportEvent {
		s := sheetAt(job, file, sheet)
		if s == nil {
			return nil
		}
		s.SkippedCount++
		job.SkippedCount++
		s.Errors = append(s.Errors, rowErr)
		return &domain.ImportEvent{Type: domain.ImportEventRowError, File: intPtr(file), Sheet: s.Name, Row: rowErr.Row, Message: rowErr.Message}
	})
}

// Fail records a job level error. The job ends failed on Finish.
func (t *Tracker) Fail(err error) {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	if t.entry.job.Status.Terminal() {
		return
	}
	t.entry.job.Error = truncate(err)
}

// Finish settles the job: failed if any file failed or a job level error was
// recorded, completed otherwise. Calls after the first are no-ops.
func (t *Tracker) Finish() {
	var finished bool
	t.update(func(job *domain.ImportJob, at time.Time) *domain.ImportEvent {
		if job.Status.Terminal() {
			return nil
		}
		if job.StartedAt == nil {
			job.StartedAt = &at
		}
		job.FinishedAt = &at
		job.Status = domain.ImportStatusCompleted
		for i := range job.Files {
			f := &job.Files[i]
			if !f.Status.Terminal() {
				f.Status = domain.ImportStatusFailed
				if f.Error == "" {
					f.Error = "file was not processed"
				}
			}
			if f.Status == domain.ImportStatusFailed {
				job.Status = domain.ImportStatusFailed
			}
		}
		if job.Error != "" {
			job.Status = domain.ImportStatusFailed
		}
		finished = true
		counts := fmt.Sprintf("%d created, %d updated, %d skipped", job.CreatedCount, job.UpdatedCount, job.SkippedCount)
		evt := &domain.ImportEvent{Type: domain.ImportEventJobCompleted, Status: job.Status, Message: counts}
		if job.Status == domain.ImportStatusFailed {
			evt.Type = domain.ImportEventJobFailed
			if job.Error != "" {
				evt.Message = job.Error
			}
		}
		return evt
	})
	if !finished {
		return
	}
	close(t.entry.done)
	snapshot := func() domain.ImportJob {
		t.entry.mu.Lock()
		defer t.entry.mu.Unlock()
		return t.entry.job
	}()
	log.Printf("[import] job %s %s: %d created, %d updated, %d skipped",
		snapshot.ID, snapshot.Status, snapshot.CreatedCount, snapshot.UpdatedCount, snapshot.SkippedCount)
}

func (t *Tracker) update(mutate func(job *domain.ImportJob, at time.Time) *domain.ImportEvent) {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	at := t.now()
	if evt := mutate(&t.entry.job, at); evt != nil {
		t.entry.appendLocked(*evt, at)
	}
}

func fileAt(job *domain.ImportJob, file int) *domain.FileSummary {
	if file < 0 || file >= len(job.Files) {
		return nil
	}
	return &job.Files[file]
}

func sheetAt(job *domain.ImportJob, file, sheet int) *domain.SheetSummary {
	f := fileAt(job, file)
	if f == nil || sheet < 0 || sheet >= len(f.Sheets) {
		return nil
	}
	return &f.Sheets[sheet]
}

func truncate(err error) string {
	if err == nil {
		return ""
	}
	return truncateMessage(err.Error())
}

// truncateMessage caps msg at maxMessageLength bytes without splitting a rune.
func truncateMessage(msg string) string {
	if len(msg) <= maxMessageLength {
		return msg
	}
	cut := maxMessageLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func intPtr(v int) *int {
	return &v
}

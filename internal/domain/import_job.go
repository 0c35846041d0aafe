package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the lifecycle state shared by jobs, files and sheets.
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ImportStatus) Terminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// ImportJob is the summary of one submission.
type ImportJob struct {
	ID           uuid.UUID     `json:"id"`
	Caller       string        `json:"caller"`
	Status       ImportStatus  `json:"status"`
	BookID       *uuid.UUID    `json:"book_id,omitempty"`
	BookName     string        `json:"book_name,omitempty"`
	Files        []FileSummary `json:"files"`
	CreatedCount int           `json:"created_count"`
	UpdatedCount int           `json:"updated_count"`
	SkippedCount int           `json:"skipped_count"`
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// FileSummary tracks one uploaded file. Single-sheet formats carry exactly
// one synthetic sheet.
type FileSummary struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Status ImportStatus   `json:"status"`
	Error  string         `json:"error,omitempty"`
	Sheets []SheetSummary `json:"sheets"`
}

// SheetSummary tracks one sheet. Every skipped row has exactly one RowError.
type SheetSummary struct {
	Name         string       `json:"name"`
	Status       ImportStatus `json:"status"`
	CreatedCount int          `json:"created_count"`
	UpdatedCount int          `json:"updated_count"`
	SkippedCount int          `json:"skipped_count"`
	Errors       []RowError   `json:"errors"`
	Error        string       `json:"error,omitempty"`
}

// RowError describes why a row was skipped. Row is 1-based in file
// coordinates with the header row counted.
type RowError struct {
	Row     int      `json:"row"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j ImportJob) Clone() ImportJob {
	out := j
	if j.BookID != nil {
		id := *j.BookID
		out.BookID = &id
	}
	if j.StartedAt != nil {
		at := *j.StartedAt
		out.StartedAt = &at
	}
	if j.FinishedAt != nil {
		at := *j.FinishedAt
		out.FinishedAt = &at
	}
	out.Files = make([]FileSummary, len(j.Files))
	for i, file := range j.Files {
		copied := file
		copied.Sheets = make([]SheetSummary, len(file.Sheets))
		for k, sheet := range file.Sheets {
			sheetCopy := sheet
			sheetCopy.Errors = make([]RowError, len(sheet.Errors))
			for e, rowErr := range sheet.Errors {
				rowErr.Fields = append([]string(nil), rowErr.Fields...)
				sheetCopy.Errors[e] = rowErr
			}
			copied.Sheets[k] = sheetCopy
		}
		out.Files[i] = copied
	}
	return out
}

// ImportEventType names a discrete progress event.
type ImportEventType string

const (
	ImportEventJobCreated    ImportEventType = "job-created"
	ImportEventJobStarted    ImportEventType = "job-started"
	ImportEventBookResolved  ImportEventType = "book-resolved"
	ImportEventFileStart     ImportEventType = "file-start"
	ImportEventFileComplete  ImportEventType = "file-complete"
	ImportEventSheetStart    ImportEventType = "sheet-start"
	ImportEventSheetComplete ImportEventType = "sheet-complete"
	ImportEventRowSuccess    ImportEventType = "row-success"
	ImportEventRowError      ImportEventType = "row-error"
	ImportEventJobCompleted  ImportEventType = "job-completed"
	ImportEventJobFailed     ImportEventType = "job-failed"
)

// ImportEvent is one entry of a job's append-only progress log. Seq starts at
// 1 and increases by one per event.
type ImportEvent struct {
	Seq     int64           `json:"seq"`
	JobID   uuid.UUID       `json:"job_id"`
	Type    ImportEventType `json:"type"`
	File    *int            `json:"file,omitempty"`
	Sheet   string          `json:"sheet,omitempty"`
	Row     int             `json:"row,omitempty"`
	Status  ImportStatus    `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	At      time.Time       `json:"at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry persists a row level issue raised while importing.
type IngestionLogEntry struct {
	ID           uuid.UUID `json:"id"`
	JobID        uuid.UUID `json:"job_id"`
	FileName     string    `json:"file_name"`
	SheetName    string    `json:"sheet_name"`
	RowNumber    *int      `json:"row_number,omitempty"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

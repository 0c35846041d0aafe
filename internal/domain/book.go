package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Book is the parent catalog record every imported transaction belongs to.
type Book struct {
	ID        uuid.UUID `json:"id"`
	LibraryID string    `json:"library_id"`
	Name      string    `json:"name"`
	Summary   string    `json:"summary"`
	PageRange string    `json:"page_range"`
	Grade     string    `json:"grade"`
	Remark    string    `json:"remark"`
	Edition   string    `json:"edition"`
	Publisher string    `json:"publisher"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FillEmpty copies the non-blank descriptive fields of other into the blank
// fields of b. Populated fields are never overwritten. The second return value
// reports whether anything changed.
func (b Book) FillEmpty(other Book) (Book, bool) {
	changed := false
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
			*dst = strings.TrimSpace(src)
			changed = true
		}
	}
	fill(&b.LibraryID, other.LibraryID)
	fill(&b.Summary, other.Summary)
	fill(&b.PageRange, other.PageRange)
	fill(&b.Grade, other.Grade)
	fill(&b.Remark, other.Remark)
	fill(&b.Edition, other.Edition)
	fill(&b.Publisher, other.Publisher)
	return b, changed
}

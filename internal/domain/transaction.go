package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TermRef links a transaction to a term.
type TermRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Transaction is one annotated excerpt of a book, identified within the book
// by its sequence number and, loosely, by its title.
type Transaction struct {
	ID            uuid.UUID     `json:"id"`
	BookID        uuid.UUID     `json:"book_id"`
	Sequence      int           `json:"sequence"`
	Title         string        `json:"title"`
	Keywords      string        `json:"keywords"`
	Text          LocalizedText `json:"text"`
	Paragraph     string        `json:"paragraph"`
	Page          string        `json:"page"`
	Rating        *float64      `json:"rating,omitempty"`
	Remark        string        `json:"remark"`
	Summary       string        `json:"summary"`
	Conclusion    string        `json:"conclusion"`
	Images        []string      `json:"images"`
	GenericTerms  []TermRef     `json:"generic_terms"`
	SpecificTerms []TermRef     `json:"specific_terms"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TransactionFilter narrows a book's transactions for listing and export.
type TransactionFilter struct {
	TermID *uuid.UUID
	Search string
}

// Matches applies the filter in memory. Search is a case-insensitive substring
// test over the title, keywords, text, summary, conclusion and remark.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.TermID != nil && !tx.HasTerm(*f.TermID) {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	if needle == "" {
		return true
	}
	for _, haystack := range []string{tx.Title, tx.Keywords, tx.Text.String(), tx.Summary, tx.Conclusion, tx.Remark} {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}

// HasTerm reports whether the transaction links the term of either kind.
func (tx Transaction) HasTerm(id uuid.UUID) bool {
	for _, ref := range tx.GenericTerms {
		if ref.ID == id {
			return true
		}
	}
	for _, ref := range tx.SpecificTerms {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// LocalizedText is either plain text or a structured language -> text map.
type LocalizedText struct {
	Raw    string
	Values map[string]string
}

// ParseLocalizedText treats a cell holding a non-empty JSON object of strings
// as structured text and anything else as plain text.
func ParseLocalizedText(raw string) LocalizedText {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var values map[string]string
		if err := json.Unmarshal([]byte(trimmed), &values); err == nil && len(values) > 0 {
			return LocalizedText{Values: values}
		}
	}
	return LocalizedText{Raw: raw}
}

// PlainText wraps a raw string.
func PlainText(raw string) LocalizedText {
	return LocalizedText{Raw: raw}
}

// Structured reports whether the text holds a language map.
func (t LocalizedText) Structured() bool {
	return len(t.Values) > 0
}

// IsZero reports whether there is no text at all.
func (t LocalizedText) IsZero() bool {
	return !t.Structured() && t.Raw == ""
}

// String returns the raw text, or the language map dumped as a JSON object
// with keys in sorted order.
func (t LocalizedText) String() string {
	if !t.Structured() {
		return t.Raw
	}
	encoded, err := json.Marshal(t.Values)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func (t LocalizedText) MarshalJSON() ([]byte, error) {
	if t.Structured() {
		return json.Marshal(t.Values)
	}
	return json.Marshal(t.Raw)
}

func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*t = LocalizedText{Raw: raw}
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*t = LocalizedText{Values: values}
	return nil
}

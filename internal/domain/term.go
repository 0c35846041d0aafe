package domain

import (
	"time"

	"github.com/google/uuid"
)

// TermKind discriminates the two taxonomy vocabularies.
type TermKind string

const (
	TermKindGeneric  TermKind = "generic"
	TermKindSpecific TermKind = "specific"
)

// Valid reports whether k is a known kind.
func (k TermKind) Valid() bool {
	return k == TermKindGeneric || k == TermKindSpecific
}

// Term is a reusable named tag. Names are unique per kind, ignoring case.
// Only specific terms carry a category.
type Term struct {
	ID        uuid.UUID `json:"id"`
	Kind      TermKind  `json:"kind"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the link form of the term stored on transactions.
func (t Term) Ref() TermRef {
	return TermRef{ID: t.ID, Name: t.Name}
}

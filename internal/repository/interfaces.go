package repository

import (
	"context"

	"github.com/rpattn/folio/internal/domain"

	"github.com/google/uuid"
)

// BookRepository persists books. Names are unique ignoring case.
type BookRepository interface {
	Create(ctx context.Context, book domain.Book) (domain.Book, error)
	Update(ctx context.Context, book domain.Book) (domain.Book, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Book, error)
	FindByName(ctx context.Context, name string) (domain.Book, error)
}

// TransactionRepository persists transactions together with their term links.
// Update replaces the link sets wholesale.
type TransactionRepository interface {
	Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)
	ListByBook(ctx context.Context, bookID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error)
}

// TermRepository persists taxonomy terms. FindByNames matches ignoring case
// and returns only the terms that exist.
type TermRepository interface {
	FindByNames(ctx context.Context, kind domain.TermKind, names []string) ([]domain.Term, error)
	Create(ctx context.Context, term domain.Term) (domain.Term, error)
	Update(ctx context.Context, term domain.Term) (domain.Term, error)
}

// IngestionLogRepository persists row level import failures.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

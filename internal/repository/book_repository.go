package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/folio/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookColumns = `id, library_id, name, summary, page_range, grade, remark, edition, publisher, created_at, updated_at`

type bookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository wires a book repository backed by pgxpool.
func NewBookRepository(pool *pgxpool.Pool) BookRepository {
	return &bookRepository{pool: pool}
}

func (r *bookRepository) Create(ctx context.Context, book domain.Book) (domain.Book, error) {
	if r.pool == nil {
		return domain.Book{}, fmt.Errorf("book repository not initialized")
	}
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO books (library_id, name, summary, page_range, grade, remark, edition, publisher)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+bookColumns,
		book.LibraryID,
		strings.TrimSpace(book.Name),
		book.Summary,
		book.PageRange,
		book.Grade,
		book.Remark,
		book.Edition,
		book.Publisher,
	)
	created, err := scanBook(row)
	if err != nil {
		return domain.Book{}, wrapError("create book", err)
	}
	return created, nil
}

func (r *bookRepository) Update(ctx context.Context, book domain.Book) (domain.Book, error) {
	if r.pool == nil {
		return domain.Book{}, fmt.Errorf("book repository not initialized")
	}
	row := r.pool.QueryRow(
		ctx,
		`UPDATE books
		 SET library_id = $2, name = $3, summary = $4, page_range = $5, grade = $6,
		     remark = $7, edition = $8, publisher = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+bookColumns,
		book.ID,
		book.LibraryID,
		strings.TrimSpace(book.Name),
		book.Summary,
		book.PageRange,
		book.Grade,
		book.Remark,
		book.Edition,
		book.Publisher,
	)
	updated, err := scanBook(row)
	if err != nil {
		return domain.Book{}, wrapError("update book", err)
	}
	return updated, nil
}

func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	if r.pool == nil {
		return domain.Book{}, fmt.Errorf("book repository not initialized")
	}
	book, err := scanBook(r.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err != nil {
		return domain.Book{}, wrapError("get book", err)
	}
	return book, nil
}

func (r *bookRepository) FindByName(ctx context.Context, name string) (domain.Book, error) {
	if r.pool == nil {
		return domain.Book{}, fmt.Errorf("book repository not initialized")
	}
	book, err := scanBook(r.pool.QueryRow(
		ctx,
		`SELECT `+bookColumns+` FROM books WHERE lower(name) = lower($1)`,
		strings.TrimSpace(name),
	))
	if err != nil {
		return domain.Book{}, wrapError("find book by name", err)
	}
	return book, nil
}

func scanBook(row pgx.Row) (domain.Book, error) {
	var book domain.Book
	err := row.Scan(
		&book.ID,
		&book.LibraryID,
		&book.Name,
		&book.Summary,
		&book.PageRange,
		&book.Grade,
		&book.Remark,
		&book.Edition,
		&book.Publisher,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	return book, err
}

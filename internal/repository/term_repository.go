package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/folio/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type termRepository struct {
	pool *pgxpool.Pool
}

// NewTermRepository wires a term repository backed by pgxpool.
func NewTermRepository(pool *pgxpool.Pool) TermRepository {
	return &termRepository{pool: pool}
}

func (r *termRepository) FindByNames(ctx context.Context, kind domain.TermKind, names []string) ([]domain.Term, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("term repository not initialized")
	}
	if len(names) == 0 {
		return []domain.Term{}, nil
	}
	lowered := make([]string, len(names))
	for i, name := range names {
		lowered[i] = strings.ToLower(strings.TrimSpace(name))
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, kind, name, category, created_at
		 FROM terms
		 WHERE kind = $1 AND lower(name) = ANY($2)`,
		string(kind),
		lowered,
	)
	if err != nil {
		return nil, wrapError("find terms", err)
	}
	defer rows.Close()

	terms := []domain.Term{}
	for rows.Next() {
		term, scanErr := scanTerm(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan term: %w", scanErr)
		}
		terms = append(terms, term)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate terms: %w", rowsErr)
	}
	return terms, nil
}

func (r *termRepository) Create(ctx context.Context, term domain.Term) (domain.Term, error) {
	if r.pool == nil {
		return domain.Term{}, fmt.Errorf("term repository not initialized")
	}
	if !term.Kind.Valid() {
		return domain.Term{}, fmt.Errorf("unknown term kind %q", term.Kind)
	}
	created, err := scanTerm(r.pool.QueryRow(
		ctx,
		`INSERT INTO terms (kind, name, category)
		 VALUES ($1, $2, $3)
		 RETURNING id, kind, name, category, created_at`,
		string(term.Kind),
		strings.TrimSpace(term.Name),
		nullableText(term.Category),
	))
	if err != nil {
		return domain.Term{}, wrapError("create term", err)
	}
	return created, nil
}

func (r *termRepository) Update(ctx context.Context, term domain.Term) (domain.Term, error) {
	if r.pool == nil {
		return domain.Term{}, fmt.Errorf("term repository not initialized")
	}
	updated, err := scanTerm(r.pool.QueryRow(
		ctx,
		`UPDATE terms SET name = $2, category = $3
		 WHERE id = $1
		 RETURNING id, kind, name, category, created_at`,
		term.ID,
		strings.TrimSpace(term.Name),
		nullableText(term.Category),
	))
	if err != nil {
		return domain.Term{}, wrapError("update term", err)
	}
	return updated, nil
}

func scanTerm(row pgx.Row) (domain.Term, error) {
	var (
		term     domain.Term
		kind     string
		category pgtype.Text
	)
	if err := row.Scan(&term.ID, &kind, &term.Name, &category, &term.CreatedAt); err != nil {
		return domain.Term{}, err
	}
	term.Kind = domain.TermKind(kind)
	if category.Valid {
		term.Category = category.String
	}
	return term, nil
}

func nullableText(value string) pgtype.Text {
	value = strings.TrimSpace(value)
	return pgtype.Text{String: value, Valid: value != ""}
}

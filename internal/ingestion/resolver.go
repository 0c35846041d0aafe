package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rpattn/folio/internal/columns"
	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/entityloader"
	"github.com/rpattn/folio/internal/repository"

	"golang.org/x/sync/singleflight"
)

// resolver is the job scoped get-or-create cache for terms and the book.
// Concurrent callers asking for the same normalized name share one flight;
// settled results are kept for the rest of the job. Failures are not kept,
// so a later row retries.
type resolver struct {
	books  repository.BookRepository
	terms  repository.TermRepository
	loader *entityloader.TermLoader

	flights singleflight.Group
	mu      sync.RWMutex
	settled map[string]any
}

func newResolver(books repository.BookRepository, terms repository.TermRepository, loader *entityloader.TermLoader) *resolver {
	return &resolver{
		books:   books,
		terms:   terms,
		loader:  loader,
		settled: map[string]any{},
	}
}

// Term returns the term of the given kind named name, creating it when
// missing. A non-empty category is written onto an existing specific term
// whose category differs; within a job the first row to resolve a term
// decides its category.
func (r *resolver) Term(ctx context.Context, kind domain.TermKind, name, category string) (domain.Term, error) {
	normalized := columns.Normalize(name)
	if normalized == "" {
		return domain.Term{}, fmt.Errorf("term name %q is empty", name)
	}
	if kind != domain.TermKindSpecific {
		category = ""
	}
	value, err := r.do(string(kind)+":"+normalized, func() (any, error) {
		return r.resolveTerm(ctx, kind, strings.TrimSpace(name), strings.TrimSpace(category))
	})
	if err != nil {
		return domain.Term{}, err
	}
	return value.(domain.Term), nil
}

// Book resolves the parent record by name. An existing book only has its
// empty fields filled from candidate.
func (r *resolver) Book(ctx context.Context, candidate domain.Book) (domain.Book, error) {
	candidate.Name = strings.TrimSpace(candidate.Name)
	normalized := columns.Normalize(candidate.Name)
	if normalized == "" {
		return domain.Book{}, errors.New("book name is empty")
	}
	value, err := r.do("book:"+normalized, func() (any, error) {
		return r.resolveBook(ctx, candidate)
	})
	if err != nil {
		return domain.Book{}, err
	}
	return value.(domain.Book), nil
}

func (r *resolver) do(key string, fn func() (any, error)) (any, error) {
	if value, ok := r.lookup(key); ok {
		return value, nil
	}
	value, err, _ := r.flights.Do(key, func() (any, error) {
		// a flight that finished between lookup and Do has already stored
		// its result
		if value, ok := r.lookup(key); ok {
			return value, nil
		}
		value, err := fn()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.settled[key] = value
		r.mu.Unlock()
		return value, nil
	})
	return value, err
}

func (r *resolver) lookup(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.settled[key]
	return value, ok
}

func (r *resolver) resolveTerm(ctx context.Context, kind domain.TermKind, name, category string) (domain.Term, error) {
	term, found, err := r.loader.Load(ctx, kind, name)
	if err != nil {
		return domain.Term{}, fmt.Errorf("look up %s term %q: %w", kind, name, err)
	}
	if found {
		return r.reconcileTerm(ctx, term, category)
	}

	created, err := r.terms.Create(ctx, domain.Term{Kind: kind, Name: name, Category: category})
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return domain.Term{}, fmt.Errorf("create %s term %q: %w", kind, name, err)
	}

	// another writer created it first
	term, found, err = r.loader.Load(ctx, kind, name)
	if err != nil {
		return domain.Term{}, fmt.Errorf("look up %s term %q after conflict: %w", kind, name, err)
	}
	if !found {
		return domain.Term{}, fmt.Errorf("%s term %q conflicted but could not be found", kind, name)
	}
	return r.reconcileTerm(ctx, term, category)
}

func (r *resolver) reconcileTerm(ctx context.Context, term domain.Term, category string) (domain.Term, error) {
	if term.Kind != domain.TermKindSpecific || category == "" || strings.EqualFold(strings.TrimSpace(term.Category), category) {
		return term, nil
	}
	term.Category = category
	updated, err := r.terms.Update(ctx, term)
	if err != nil {
		return domain.Term{}, fmt.Errorf("update category of term %q: %w", term.Name, err)
	}
	return updated, nil
}

func (r *resolver) resolveBook(ctx context.Context, candidate domain.Book) (domain.Book, error) {
	existing, err := r.books.FindByName(ctx, candidate.Name)
	switch {
	case err == nil:
		return r.fillBook(ctx, existing, candidate)
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Book{}, fmt.Errorf("look up book %q: %w", candidate.Name, err)
	}

	created, err := r.books.Create(ctx, candidate)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return domain.Book{}, fmt.Errorf("create book %q: %w", candidate.Name, err)
	}
	existing, err = r.books.FindByName(ctx, candidate.Name)
	if err != nil {
		return domain.Book{}, fmt.Errorf("look up book %q after conflict: %w", candidate.Name, err)
	}
	return r.fillBook(ctx, existing, candidate)
}

func (r *resolver) fillBook(ctx context.Context, existing, candidate domain.Book) (domain.Book, error) {
	filled, changed := existing.FillEmpty(candidate)
	if !changed {
		return existing, nil
	}
	updated, err := r.books.Update(ctx, filled)
	if err != nil {
		return domain.Book{}, fmt.Errorf("update book %q: %w", existing.Name, err)
	}
	return updated, nil
}

// Package memory keeps every repository in process. It enforces the same
// uniqueness rules as the Postgres schema and is used by the memory storage
// driver and by pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"

	"github.com/google/uuid"
)

// Store bundles the in-memory repositories.
type Store struct {
	Books         *BookRepository
	Transactions  *TransactionRepository
	Terms         *TermRepository
	IngestionLogs *IngestionLogRepository
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Books:         &BookRepository{byID: map[uuid.UUID]domain.Book{}},
		Transactions:  &TransactionRepository{byID: map[uuid.UUID]domain.Transaction{}},
		Terms:         &TermRepository{byID: map[uuid.UUID]domain.Term{}},
		IngestionLogs: &IngestionLogRepository{},
	}
}

var (
	_ repository.BookRepository         = (*BookRepository)(nil)
	_ repository.TransactionRepository  = (*TransactionRepository)(nil)
	_ repository.TermRepository         = (*TermRepository)(nil)
	_ repository.IngestionLogRepository = (*IngestionLogRepository)(nil)
)

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BookRepository is an in-memory repository.BookRepository.
type BookRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Book
}

func (r *BookRepository) Create(_ context.Context, book domain.Book) (domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	book.Name = strings.TrimSpace(book.Name)
	for _, existing := range r.byID {
		if nameKey(existing.Name) == nameKey(book.Name) {
			return domain.Book{}, fmt.Errorf("failed to create book %q: %w", book.Name, repository.ErrDuplicate)
		}
	}
	now := time.Now().UTC()
	book.ID = uuid.New()
	book.CreatedAt, book.UpdatedAt = now, now
	r.byID[book.ID] = book
	return book, nil
}

func (r *BookRepository) Update(_ context.Context, book domain.Book) (domain.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[book.ID]
	if !ok {
		return domain.Book{}, fmt.Errorf("failed to update book %s: %w", book.ID, repository.ErrNotFound)
	}
	book.Name = strings.TrimSpace(book.Name)
	for id, existing := range r.byID {
		if id != book.ID && nameKey(existing.Name) == nameKey(book.Name) {
			return domain.Book{}, fmt.Errorf("failed to update book %q: %w", book.Name, repository.ErrDuplicate)
		}
	}
	book.CreatedAt = current.CreatedAt
	book.UpdatedAt = time.Now().UTC()
	r.byID[book.ID] = book
	return book, nil
}

func (r *BookRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	book, ok := r.byID[id]
	if !ok {
		return domain.Book{}, fmt.Errorf("failed to get book %s: %w", id, repository.ErrNotFound)
	}
	return book, nil
}

func (r *BookRepository) FindByName(_ context.Context, name string) (domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, book := range r.byID {
		if nameKey(book.Name) == nameKey(name) {
			return book, nil
		}
	}
	return domain.Book{}, fmt.Errorf("failed to find book %q: %w", name, repository.ErrNotFound)
}

// TransactionRepository is an in-memory repository.TransactionRepository.
type TransactionRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Transaction
}

func (r *TransactionRepository) Create(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkSequence(tx); err != nil {
		return domain.Transaction{}, err
	}
	now := time.Now().UTC()
	tx.ID = uuid.New()
	tx.CreatedAt, tx.UpdatedAt = now, now
	tx = cloneTransaction(tx)
	r.byID[tx.ID] = tx
	return cloneTransaction(tx), nil
}

func (r *TransactionRepository) Update(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[tx.ID]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("failed to update transaction %s: %w", tx.ID, repository.ErrNotFound)
	}
	tx.BookID = current.BookID
	if err := r.checkSequence(tx); err != nil {
		return domain.Transaction{}, err
	}
	tx.CreatedAt = current.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	tx = cloneTransaction(tx)
	r.byID[tx.ID] = tx
	return cloneTransaction(tx), nil
}

func (r *TransactionRepository) checkSequence(tx domain.Transaction) error {
	for id, existing := range r.byID {
		if id != tx.ID && existing.BookID == tx.BookID && existing.Sequence == tx.Sequence {
			return fmt.Errorf("failed to store transaction with sequence %d: %w", tx.Sequence, repository.ErrDuplicate)
		}
	}
	return nil
}

func (r *TransactionRepository) ListByBook(_ context.Context, bookID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Transaction{}
	for _, tx := range r.byID {
		if tx.BookID == bookID && filter.Matches(tx) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	tx.Images = append([]string{}, tx.Images...)
	tx.GenericTerms = append([]domain.TermRef{}, tx.GenericTerms...)
	tx.SpecificTerms = append([]domain.TermRef{}, tx.SpecificTerms...)
	if tx.Rating != nil {
		rating := *tx.Rating
		tx.Rating = &rating
	}
	if tx.Text.Values != nil {
		values := make(map[string]string, len(tx.Text.Values))
		for k, v := range tx.Text.Values {
			values[k] = v
		}
		tx.Text.Values = values
	}
	return tx
}

// TermRepository is an in-memory repository.TermRepository. CreateDelay is
// slept before the uniqueness check so tests can widen race windows.
type TermRepository struct {
	CreateDelay time.Duration

	mu          sync.RWMutex
	byID        map[uuid.UUID]domain.Term
	createCalls atomic.Int64
}

func (r *TermRepository) FindByNames(_ context.Context, kind domain.TermKind, names []string) ([]domain.Term, error) {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[nameKey(name)] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Term{}
	for _, term := range r.byID {
		if term.Kind != kind {
			continue
		}
		if _, ok := wanted[nameKey(term.Name)]; ok {
			out = append(out, term)
		}
	}
	return out, nil
}

func (r *TermRepository) Create(ctx context.Context, term domain.Term) (domain.Term, error) {
	r.createCalls.Add(1)
	if err := sleep(ctx, r.CreateDelay); err != nil {
		return domain.Term{}, err
	}
	if !term.Kind.Valid() {
		return domain.Term{}, fmt.Errorf("unknown term kind %q", term.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	term.Name = strings.TrimSpace(term.Name)
	for _, existing := range r.byID {
		if existing.Kind == term.Kind && nameKey(existing.Name) == nameKey(term.Name) {
			return domain.Term{}, fmt.Errorf("failed to create term %q: %w", term.Name, repository.ErrDuplicate)
		}
	}
	term.ID = uuid.New()
	term.CreatedAt = time.Now().UTC()
	r.byID[term.ID] = term
	return term, nil
}

func (r *TermRepository) Update(_ context.Context, term domain.Term) (domain.Term, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[term.ID]
	if !ok {
		return domain.Term{}, fmt.Errorf("failed to update term %s: %w", term.ID, repository.ErrNotFound)
	}
	current.Name = strings.TrimSpace(term.Name)
	current.Category = strings.TrimSpace(term.Category)
	r.byID[term.ID] = current
	return current, nil
}

// CreateCalls reports how many times Create was invoked.
func (r *TermRepository) CreateCalls() int64 {
	return r.createCalls.Load()
}

// All returns every stored term of a kind ordered by name.
func (r *TermRepository) All(kind domain.TermKind) []domain.Term {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Term{}
	for _, term := range r.byID {
		if term.Kind == kind {
			out = append(out, term)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IngestionLogRepository is an in-memory repository.IngestionLogRepository.
type IngestionLogRepository struct {
	mu      sync.Mutex
	entries []domain.IngestionLogEntry
}

func (r *IngestionLogRepository) Record(_ context.Context, entry domain.IngestionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *IngestionLogRepository) List(_ context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []domain.IngestionLogEntry{}
	for _, entry := range r.entries {
		if entry.JobID == jobID {
			matched = append(matched, entry)
		}
	}
	if offset >= len(matched) {
		return []domain.IngestionLogEntry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

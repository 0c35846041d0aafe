package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rpattn/folio/internal/columns"
	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"

	"github.com/google/uuid"
)

// lookupIndex maps a book's sequence numbers and normalized titles onto
// transaction ids. It starts from the persisted transactions and is updated
// as the job creates records.
type lookupIndex struct {
	mu      sync.RWMutex
	bySeq   map[int]uuid.UUID
	byTitle map[string][]int
	maxSeq  int
}

func newLookupIndex(existing []domain.Transaction) *lookupIndex {
	x := &lookupIndex{
		bySeq:   make(map[int]uuid.UUID, len(existing)),
		byTitle: make(map[string][]int, len(existing)),
	}
	for _, tx := range existing {
		x.addLocked(tx.Sequence, columns.Normalize(tx.Title), tx.ID)
	}
	return x
}

func loadLookupIndex(ctx context.Context, repo repository.TransactionRepository, bookID uuid.UUID) (*lookupIndex, error) {
	existing, err := repo.ListByBook(ctx, bookID, domain.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("load transactions of book %s: %w", bookID, err)
	}
	return newLookupIndex(existing), nil
}

// ID returns the transaction stored under seq.
func (x *lookupIndex) ID(seq int) (uuid.UUID, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.bySeq[seq]
	return id, ok
}

// Has reports whether seq is taken by a stored transaction.
func (x *lookupIndex) Has(seq int) bool {
	_, ok := x.ID(seq)
	return ok
}

// SequencesForTitle lists the sequence numbers carrying the title, ascending.
func (x *lookupIndex) SequencesForTitle(titleKey string) []int {
	if titleKey == "" {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]int(nil), x.byTitle[titleKey]...)
}

// Max returns the highest stored sequence number, or 0.
func (x *lookupIndex) Max() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.maxSeq
}

// Add records a transaction created by the job.
func (x *lookupIndex) Add(seq int, titleKey string, id uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addLocked(seq, titleKey, id)
}

func (x *lookupIndex) addLocked(seq int, titleKey string, id uuid.UUID) {
	x.bySeq[seq] = id
	if seq > x.maxSeq {
		x.maxSeq = seq
	}
	if titleKey == "" {
		return
	}
	seqs := x.byTitle[titleKey]
	i := sort.SearchInts(seqs, seq)
	if i < len(seqs) && seqs[i] == seq {
		return
	}
	seqs = append(seqs, 0)
	copy(seqs[i+1:], seqs[i:])
	seqs[i] = seq
	x.byTitle[titleKey] = seqs
}

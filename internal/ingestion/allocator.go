package ingestion

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/rpattn/folio/internal/domain"
)

// assignment is the matching decision for one row.
type assignment struct {
	seq      int
	existing uuid.UUID
	update   bool
}

// allocator assigns sequence numbers for a whole job. It runs on the
// orchestration goroutine in file order, so sequence numbers are handed out
// deterministically before rows are dispatched to workers. Each number is
// claimed by at most one row per job.
type allocator struct {
	index    *lookupIndex
	explicit mapset.Set[int]
	seqs     mapset.Set[int]
	next     int
}

// newAllocator reserves every explicit sequence number of the job so rows
// without one never take a number a later row asks for.
func newAllocator(index *lookupIndex, explicit []int) *allocator {
	return &allocator{
		index:    index,
		explicit: mapset.NewSet(explicit...),
		seqs:     mapset.NewSet[int](),
		next:     index.Max() + 1,
	}
}

// Assign decides create vs update for a row. A stored record under the
// row's explicit sequence number wins; otherwise the first stored record with
// the same title not yet claimed by this job is updated; otherwise the row
// creates a record under its explicit number or a freshly allocated one.
// Title matching never takes a number some row of the job names explicitly.
func (a *allocator) Assign(in rowInput) (assignment, *domain.RowError) {
	if in.sequence > 0 {
		if !a.seqs.Add(in.sequence) {
			return assignment{}, &domain.RowError{
				Row:     in.row,
				Message: fmt.Sprintf("sequence number %d appears more than once in this import", in.sequence),
				Fields:  []string{headerSequence},
			}
		}
		if a.index.Has(in.sequence) {
			return a.decide(in.sequence), nil
		}
		// a stored record with the same title is renumbered
		for _, seq := range a.index.SequencesForTitle(in.titleKey) {
			if !a.explicit.Contains(seq) && a.seqs.Add(seq) {
				id, _ := a.index.ID(seq)
				return assignment{seq: in.sequence, existing: id, update: true}, nil
			}
		}
		return assignment{seq: in.sequence}, nil
	}

	for _, seq := range a.index.SequencesForTitle(in.titleKey) {
		if !a.explicit.Contains(seq) && a.seqs.Add(seq) {
			return a.decide(seq), nil
		}
	}

	return a.decide(a.allocate()), nil
}

func (a *allocator) decide(seq int) assignment {
	if id, ok := a.index.ID(seq); ok {
		return assignment{seq: seq, existing: id, update: true}
	}
	return assignment{seq: seq}
}

// allocate is monotonic: the cursor only moves forward.
func (a *allocator) allocate() int {
	for {
		seq := a.next
		a.next++
		if a.index.Has(seq) || a.explicit.Contains(seq) {
			continue
		}
		if a.seqs.Add(seq) {
			return seq
		}
	}
}

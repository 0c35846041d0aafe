package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"
)

// sheetRef locates a sheet both in the job summary and in the source files.
type sheetRef struct {
	file      int
	sheet     int
	fileName  string
	sheetName string
}

type rowTask struct {
	input  rowInput
	assign assignment
}

// processSheet assigns sequence numbers in file order on the calling
// goroutine, then persists the rows through a bounded pool. A row failure
// never stops its siblings.
func (s *Service) processSheet(ctx context.Context, progress Progress, state *jobState, ref sheetRef, items []sheetItem) {
	tasks := make([]rowTask, 0, len(items))
	for _, item := range items {
		if item.rowErr != nil {
			s.rowFailed(ctx, progress, ref, *item.rowErr)
			continue
		}
		assign, rowErr := state.allocator.Assign(item.input)
		if rowErr != nil {
			s.rowFailed(ctx, progress, ref, *rowErr)
			continue
		}
		tasks = append(tasks, rowTask{input: item.input, assign: assign})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, task := range tasks {
		group.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					s.rowFailed(ctx, progress, ref, domain.RowError{Row: task.input.row, Message: fmt.Sprintf("panic: %v", rec)})
				}
			}()
			created, err := s.persistRow(groupCtx, state, task)
			if err != nil {
				s.rowFailed(ctx, progress, ref, domain.RowError{Row: task.input.row, Message: err.Error()})
				return nil
			}
			progress.RowSucceeded(ref.file, ref.sheet, task.input.row, created)
			return nil
		})
	}
	_ = group.Wait()
}

func (s *Service) persistRow(ctx context.Context, state *jobState, task rowTask) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tx := task.input.tx
	tx.BookID = state.book.ID
	tx.Sequence = task.assign.seq

	var err error
	if tx.GenericTerms, err = s.resolveTerms(ctx, state, domain.TermKindGeneric, task.input.genericNames, ""); err != nil {
		return false, err
	}
	if tx.SpecificTerms, err = s.resolveTerms(ctx, state, domain.TermKindSpecific, task.input.specificNames, task.input.category); err != nil {
		return false, err
	}

	var saved domain.Transaction
	if task.assign.update {
		tx.ID = task.assign.existing
		saved, err = s.transactions.Update(ctx, tx)
	} else {
		saved, err = s.transactions.Create(ctx, tx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return false, fmt.Errorf("sequence number %d was taken by another import", tx.Sequence)
		}
		return false, fmt.Errorf("failed to save transaction %d: %w", tx.Sequence, err)
	}
	state.index.Add(saved.Sequence, task.input.titleKey, saved.ID)
	return !task.assign.update, nil
}

func (s *Service) resolveTerms(ctx context.Context, state *jobState, kind domain.TermKind, names []string, category string) ([]domain.TermRef, error) {
	if len(names) == 0 {
		return nil, nil
	}
	refs := make([]domain.TermRef, 0, len(names))
	for _, name := range names {
		term, err := state.resolver.Term(ctx, kind, name, category)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s term %q: %w", kind, name, err)
		}
		refs = append(refs, term.Ref())
	}
	return refs, nil
}

func (s *Service) rowFailed(ctx context.Context, progress Progress, ref sheetRef, rowErr domain.RowError) {
	progress.RowFailed(ref.file, ref.sheet, rowErr)
	row := rowErr.Row
	s.recordFailure(ctx, progress.JobID(), ref.fileName, ref.sheetName, &row, rowErr.Message)
	if rowErr.Row > 0 {
		log.Printf("[import] job %s: %s/%s row %d skipped: %s", progress.JobID(), ref.fileName, ref.sheetName, rowErr.Row, rowErr.Message)
	}
}

package entityloader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/folio/internal/domain"
	"github.com/rpattn/folio/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// TermLoader batches term lookups issued by concurrent row workers into one
// FindByNames call per kind. It does not cache: callers memoize.
type TermLoader struct {
	Loader *dataloader.Loader
}

func NewTermLoader(repo repository.TermRepository, wait time.Duration) *TermLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		// Group requested names by kind
		names := map[domain.TermKind][]string{}
		parsed := make([]termKey, len(keys))
		for i, k := range keys {
			key, err := parseTermKey(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			parsed[i] = key
			names[key.kind] = append(names[key.kind], key.name)
		}

		found := map[termKey]domain.Term{}
		failed := map[domain.TermKind]error{}
		for kind, batch := range names {
			terms, err := repo.FindByNames(ctx, kind, batch)
			if err != nil {
				failed[kind] = err
				continue
			}
			for _, term := range terms {
				found[termKey{kind: kind, name: foldName(term.Name)}] = term
			}
		}

		// Build results in the same order as keys
		for i, key := range parsed {
			if results[i] != nil {
				continue
			}
			if err, ok := failed[key.kind]; ok {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			if term, ok := found[key]; ok {
				results[i] = &dataloader.Result{Data: term}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	if wait <= 0 {
		wait = 2 * time.Millisecond
	}
	loader := dataloader.NewBatchedLoader(
		batchFn,
		dataloader.WithWait(wait),
		dataloader.WithCache(&dataloader.NoCache{}),
	)
	return &TermLoader{Loader: loader}
}

// Load looks a term up by name ignoring case. The boolean is false when no
// term of that kind and name exists.
func (l *TermLoader) Load(ctx context.Context, kind domain.TermKind, name string) (domain.Term, bool, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(termKey{kind: kind, name: foldName(name)}.String()))
	data, err := thunk()
	if err != nil {
		return domain.Term{}, false, err
	}
	if data == nil {
		return domain.Term{}, false, nil
	}
	term, ok := data.(domain.Term)
	if !ok {
		return domain.Term{}, false, fmt.Errorf("unexpected term loader result %T", data)
	}
	return term, true, nil
}

type termKey struct {
	kind domain.TermKind
	name string
}

func (k termKey) String() string {
	return string(k.kind) + ":" + k.name
}

func parseTermKey(raw string) (termKey, error) {
	kind, name, ok := strings.Cut(raw, ":")
	if !ok || !domain.TermKind(kind).Valid() {
		return termKey{}, fmt.Errorf("invalid term key %q", raw)
	}
	return termKey{kind: domain.TermKind(kind), name: name}, nil
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

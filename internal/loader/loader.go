// Package loader batches by-id lookups made while serving one request.
//
// Loaders are built per request and carried in its context, so their
// memoization never outlives the request.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/repository"
)

// ErrNotFound is placed at the position of an id with no row.
var ErrNotFound = errors.New("not found")

// batchWait is how long a loader collects keys before querying.
const batchWait = 2 * time.Millisecond

type Loaders struct {
	Users    *dataloader.Loader[uuid.UUID, *domain.User]
	Channels *dataloader.Loader[uuid.UUID, *domain.Channel]
	Messages *dataloader.Loader[uuid.UUID, *domain.Message]
}

func New(repos repository.Repos) *Loaders {
	return &Loaders{
		Users:    newLoader(byID(repos.Users().GetByIDs, func(u domain.User) uuid.UUID { return u.ID })),
		Channels: newLoader(byID(repos.Channels().GetByIDs, func(c domain.Channel) uuid.UUID { return c.ID })),
		Messages: newLoader(byID(repos.Messages().GetByIDs, func(m domain.Message) uuid.UUID { return m.ID })),
	}
}

func newLoader[V any](fn dataloader.BatchFunc[uuid.UUID, *V]) *dataloader.Loader[uuid.UUID, *V] {
	return dataloader.NewBatchedLoader(fn, dataloader.WithWait[uuid.UUID, *V](batchWait))
}

// byID adapts a GetByIDs query to a batch function. The query may return rows
// in any order and skip missing ids; results are realigned to the keys.
func byID[V any](query func(context.Context, []uuid.UUID) ([]V, error), idOf func(V) uuid.UUID) dataloader.BatchFunc[uuid.UUID, *V] {
	return func(ctx context.Context, keys []uuid.UUID) []*dataloader.Result[*V] {
		results := make([]*dataloader.Result[*V], len(keys))

		rows, err := query(ctx, keys)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result[*V]{Error: err}
			}
			return results
		}

		found := make(map[uuid.UUID]*V, len(rows))
		for i := range rows {
			found[idOf(rows[i])] = &rows[i]
		}
		for i, key := range keys {
			if v, ok := found[key]; ok {
				results[i] = &dataloader.Result[*V]{Data: v}
			} else {
				results[i] = &dataloader.Result[*V]{Error: fmt.Errorf("%w: %s", ErrNotFound, key)}
			}
		}
		return results
	}
}

// LoadAll resolves ids through l. The results line up with ids, duplicates
// included; errs[i] is set where results[i] could not be loaded.
func LoadAll[V any](ctx context.Context, l *dataloader.Loader[uuid.UUID, *V], ids []uuid.UUID) (results []*V, errs []error) {
	thunks := make([]dataloader.Thunk[*V], len(ids))
	for i, id := range ids {
		thunks[i] = l.Load(ctx, id)
	}

	results = make([]*V, len(ids))
	errs = make([]error, len(ids))
	for i, thunk := range thunks {
		results[i], errs[i] = thunk()
	}
	return results, errs
}

// Found drops the positions that failed to load.
func Found[V any](results []*V, errs []error) []*V {
	out := make([]*V, 0, len(results))
	for i, v := range results {
		if errs[i] == nil && v != nil {
			out = append(out, v)
		}
	}
	return out
}

type contextKey struct{}

func NewContext(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the request's loaders, or nil outside a request.
func FromContext(ctx context.Context) *Loaders {
	l, _ := ctx.Value(contextKey{}).(*Loaders)
	return l
}

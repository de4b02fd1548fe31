package viewrepo

import (
	"context"
	"sync"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

type storedView struct {
	version uint64
	payload []byte
}

// InMemoryViewRepository is a ViewRepository for tests. Views are stored as
// JSON so callers never share state with the repository.
type InMemoryViewRepository[V any] struct {
	mu           sync.RWMutex
	views        map[string]storedView
	versionCheck bool
}

var _ appcore.ViewRepository[struct{}] = (*InMemoryViewRepository[struct{}])(nil)

// NewInMemoryViewRepository создает новый in-memory репозиторий представлений
func NewInMemoryViewRepository[V any](opts ...Option) *InMemoryViewRepository[V] {
	o := buildOptions(opts)
	return &InMemoryViewRepository[V]{
		views:        make(map[string]storedView),
		versionCheck: o.versionCheck,
	}
}

// Load returns the view, false when it was never stored.
func (r *InMemoryViewRepository[V]) Load(ctx context.Context, viewID string) (V, bool, error) {
	view, vc, err := r.LoadWithContext(ctx, viewID)
	return view, vc != nil, err
}

// LoadWithContext returns the view and its version token.
func (r *InMemoryViewRepository[V]) LoadWithContext(_ context.Context, viewID string) (V, *appcore.ViewContext, error) {
	r.mu.RLock()
	stored, ok := r.views[viewID]
	r.mu.RUnlock()

	var zero V
	if !ok {
		return zero, nil, nil
	}

	view, err := decodeView[V]("load view", stored.payload)
	if err != nil {
		return zero, nil, err
	}
	vc := appcore.NewViewContext(viewID, stored.version)
	return view, &vc, nil
}

// UpdateView inserts or updates the view depending on vc.Version.
func (r *InMemoryViewRepository[V]) UpdateView(_ context.Context, view V, vc appcore.ViewContext) error {
	payload, err := encodeView("update view", view)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.views[vc.ViewInstanceID]

	if vc.Version == 0 {
		if exists {
			return appcore.NewPersistenceError("insert view", appcore.ErrConcurrencyConflict, nil)
		}
		r.views[vc.ViewInstanceID] = storedView{version: 1, payload: payload}
		return nil
	}

	switch {
	case r.versionCheck && (!exists || stored.version != vc.Version):
		return appcore.NewPersistenceError("update view", appcore.ErrConcurrencyConflict, nil)
	case !exists:
		return errRowMissing("update view")
	}

	r.views[vc.ViewInstanceID] = storedView{version: vc.Version + 1, payload: payload}
	return nil
}

// Len returns the number of stored views.
func (r *InMemoryViewRepository[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

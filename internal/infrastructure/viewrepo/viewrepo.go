// Package viewrepo persists materialized views keyed by view id.
//
// Every repository follows the same insert-or-update protocol: a ViewContext
// with version 0 inserts a new row, any other version updates the existing row
// and writes version+1. By default the update does not compare versions, so two
// processors updating the same view concurrently both succeed and the last one
// wins. WithVersionCheck turns the update into a compare-and-swap that reports
// a stale version as appcore.ErrConcurrencyConflict.
package viewrepo

import (
	"encoding/json"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
)

// Option configures a view repository.
type Option func(*options)

type options struct {
	versionCheck bool
}

// WithVersionCheck guards updates with the expected version.
func WithVersionCheck() Option {
	return func(o *options) {
		o.versionCheck = true
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func encodeView[V any](op string, view V) ([]byte, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return nil, appcore.NewPersistenceError(op, appcore.ErrSerialization, err)
	}
	return data, nil
}

func decodeView[V any](op string, data []byte) (V, error) {
	var view V
	if err := json.Unmarshal(data, &view); err != nil {
		var zero V
		return zero, appcore.NewPersistenceError(op, appcore.ErrSerialization, err)
	}
	return view, nil
}

// errRowMissing is reported by a blind update that matched no row.
func errRowMissing(op string) error {
	return appcore.NewPersistenceError(op, appcore.ErrConnection, errViewNotFound)
}

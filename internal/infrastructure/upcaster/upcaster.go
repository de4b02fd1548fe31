// Package upcaster migrates stored event payloads from obsolete schema versions
// to the version expected by current business logic.
package upcaster

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
)

// ErrNoUpcastPath is returned when no chain of upcasters leads from the stored
// version to the current one.
var ErrNoUpcastPath = errors.New("no upcast path")

// Func transforms a payload of one schema version into the next.
// It must be deterministic and free of side effects.
type Func func(payload codec.Document) (codec.Document, error)

// Upcaster migrates payloads of EventType from FromVersion to ToVersion.
type Upcaster struct {
	EventType   string
	FromVersion string
	ToVersion   string
	Upcast      Func
}

type key struct {
	eventType string
	version   string
}

type step struct {
	upcaster Upcaster
	to       *semver.Version
}

// Pipeline is a registry of upcasters keyed by (event type, source version).
// A nil Pipeline is valid and knows no upcasters.
type Pipeline struct {
	steps map[key]step
}

// NewPipeline validates and indexes the given upcasters.
func NewPipeline(upcasters ...Upcaster) (*Pipeline, error) {
	p := &Pipeline{steps: make(map[key]step, len(upcasters))}

	for i, u := range upcasters {
		if u.EventType == "" {
			return nil, fmt.Errorf("%w: upcaster %d: event type is required", appcore.ErrInvalidConfiguration, i)
		}
		if u.Upcast == nil {
			return nil, fmt.Errorf("%w: upcaster %d (%s): function is required",
				appcore.ErrInvalidConfiguration, i, u.EventType)
		}

		from, err := semver.NewVersion(u.FromVersion)
		if err != nil {
			return nil, fmt.Errorf("%w: upcaster %d (%s): invalid source version %q: %w",
				appcore.ErrInvalidConfiguration, i, u.EventType, u.FromVersion, err)
		}
		to, err := semver.NewVersion(u.ToVersion)
		if err != nil {
			return nil, fmt.Errorf("%w: upcaster %d (%s): invalid target version %q: %w",
				appcore.ErrInvalidConfiguration, i, u.EventType, u.ToVersion, err)
		}
		if !from.LessThan(to) {
			return nil, fmt.Errorf("%w: upcaster %d (%s): target version %s must be greater than %s",
				appcore.ErrInvalidConfiguration, i, u.EventType, to, from)
		}

		k := key{eventType: u.EventType, version: from.String()}
		if _, exists := p.steps[k]; exists {
			return nil, fmt.Errorf("%w: duplicate upcaster for %s %s",
				appcore.ErrInvalidConfiguration, u.EventType, from)
		}
		p.steps[k] = step{upcaster: u, to: to}
	}

	return p, nil
}

// MustNewPipeline is like NewPipeline but panics on an invalid chain.
func MustNewPipeline(upcasters ...Upcaster) *Pipeline {
	p, err := NewPipeline(upcasters...)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of registered upcasters.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.steps)
}

// Path resolves the ordered chain of upcasters leading from one version to another.
func (p *Pipeline) Path(eventType, fromVersion, toVersion string) ([]Upcaster, error) {
	from, err := semver.NewVersion(fromVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s has invalid version %q", appcore.ErrSerialization, ErrNoUpcastPath, eventType, fromVersion)
	}
	to, err := semver.NewVersion(toVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s has invalid version %q", appcore.ErrSerialization, ErrNoUpcastPath, eventType, toVersion)
	}

	return p.path(eventType, from, to)
}

func (p *Pipeline) path(eventType string, from, to *semver.Version) ([]Upcaster, error) {
	if to.LessThan(from) {
		return nil, fmt.Errorf("%w: %w: %s stored version %s is newer than %s",
			appcore.ErrSerialization, ErrNoUpcastPath, eventType, from, to)
	}

	var chain []Upcaster
	current := from
	for current.LessThan(to) {
		var s step
		ok := false
		if p != nil {
			s, ok = p.steps[key{eventType: eventType, version: current.String()}]
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s %s -> %s (missing step at %s)",
				appcore.ErrSerialization, ErrNoUpcastPath, eventType, from, to, current)
		}
		chain = append(chain, s.upcaster)
		current = s.to
	}

	if !current.Equal(to) {
		return nil, fmt.Errorf("%w: %w: %s %s -> %s (chain overshoots to %s)",
			appcore.ErrSerialization, ErrNoUpcastPath, eventType, from, to, current)
	}

	return chain, nil
}

// Upcast transforms payload from storedVersion to currentVersion.
// When the versions match the payload is returned as is; otherwise the chain is
// applied in ascending version order to a deep copy, so the caller's document
// is never modified. A nil payload reaches the upcasters as an empty document.
func (p *Pipeline) Upcast(eventType, storedVersion, currentVersion string, payload codec.Document) (codec.Document, error) {
	if storedVersion == currentVersion {
		return payload, nil
	}

	from, err := semver.NewVersion(storedVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s has invalid stored version %q",
			appcore.ErrSerialization, ErrNoUpcastPath, eventType, storedVersion)
	}
	to, err := semver.NewVersion(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s has invalid current version %q",
			appcore.ErrSerialization, ErrNoUpcastPath, eventType, currentVersion)
	}
	if from.Equal(to) {
		return payload, nil
	}

	chain, err := p.path(eventType, from, to)
	if err != nil {
		return nil, err
	}

	doc := codec.Clone(payload)
	if doc == nil {
		doc = codec.Document{}
	}
	for _, u := range chain {
		doc, err = u.Upcast(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: upcasting %s from %s to %s: %w",
				appcore.ErrSerialization, eventType, u.FromVersion, u.ToVersion, err)
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: upcasting %s from %s to %s returned no payload",
				appcore.ErrSerialization, eventType, u.FromVersion, u.ToVersion)
		}
	}

	return doc, nil
}

// Package registry tracks the script sources referenced during a build and
// the bundle file name assigned to each.
//
// A ReferenceRegistry belongs to one coordinator instance. Names are computed
// at most once per source per build, even when pages render concurrently:
// concurrent first registrations of the same source share one in-flight
// naming call. An OwnershipRegistry shared by all instances detects sources
// claimed by more than one bundle.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/siteroll/internal/logging"
	"github.com/conneroisu/siteroll/internal/naming"
)

// ReferenceRegistry maps normalized source paths to assigned names.
type ReferenceRegistry struct {
	instance  string
	namer     naming.NamingStrategy
	ownership *OwnershipRegistry
	logger    logging.Logger

	mu         sync.RWMutex
	entries    map[string]string
	order      []string
	generation uint64

	inflight singleflight.Group
}

// NewReferenceRegistry creates a registry for the named coordinator instance.
// A nil ownership registry means Shared; a nil logger discards output.
func NewReferenceRegistry(instance string, namer naming.NamingStrategy, ownership *OwnershipRegistry, logger logging.Logger) *ReferenceRegistry {
	if ownership == nil {
		ownership = Shared
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &ReferenceRegistry{
		instance:  instance,
		namer:     namer,
		ownership: ownership,
		logger:    logger.WithComponent("registry"),
		entries:   make(map[string]string),
	}
}

// Instance returns the name of the owning coordinator instance.
func (r *ReferenceRegistry) Instance() string {
	return r.instance
}

// Ownership returns the ownership registry this registry reports to.
func (r *ReferenceRegistry) Ownership() *OwnershipRegistry {
	return r.ownership
}

// Register records source and returns its assigned name. The first call for
// a source within a build runs the naming strategy; later calls return the
// stored name. A source already owned by another instance is logged as a
// warning and registered anyway.
func (r *ReferenceRegistry) Register(ctx context.Context, source string) (string, error) {
	if prev, collided := r.ownership.Claim(source, r); collided {
		r.logger.Warn(ctx, nil, "script is used in multiple bundles, this might lead to duplicated code",
			"source", source,
			"previous_instance", prev.Instance(),
			"instance", r.instance,
		)
	}

	r.mu.RLock()
	name, ok := r.entries[source]
	generation := r.generation
	r.mu.RUnlock()
	if ok {
		return name, nil
	}

	v, err, _ := r.inflight.Do(source, func() (interface{}, error) {
		r.mu.RLock()
		existing, ok := r.entries[source]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		assigned, err := r.namer.AssignName(ctx, source)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		// A reset while naming was in flight belongs to a newer build.
		if r.generation == generation {
			if _, ok := r.entries[source]; !ok {
				r.entries[source] = assigned
				r.order = append(r.order, source)
			}
		}
		r.logger.Debug(ctx, "registered script", "source", source, "name", assigned)
		return assigned, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Lookup returns the assigned name for source.
func (r *ReferenceRegistry) Lookup(source string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.entries[source]
	return name, ok
}

// Keys returns the registered sources in registration order.
func (r *ReferenceRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Snapshot returns a copy of the source to name mapping.
func (r *ReferenceRegistry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of registered sources.
func (r *ReferenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset discards every registration. It does not touch the ownership
// registry, which is shared and reset by the build lifecycle.
func (r *ReferenceRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]string)
	r.order = nil
	r.generation++
}

package registry

import "sync"

// OwnershipRegistry records which ReferenceRegistry last claimed each source
// across every coordinator instance in the process. It only feeds the
// duplicate-bundle warning; claims are never refused.
type OwnershipRegistry struct {
	mu         sync.Mutex
	owners     map[string]*ReferenceRegistry
	collisions int
}

// NewOwnershipRegistry creates an empty ownership registry.
func NewOwnershipRegistry() *OwnershipRegistry {
	return &OwnershipRegistry{
		owners: make(map[string]*ReferenceRegistry),
	}
}

// Shared is the process-wide ownership registry used when a coordinator is
// not given one explicitly.
var Shared = NewOwnershipRegistry()

// Claim makes owner the owner of source. It returns the previous owner when
// that was a different registry; the last claimant always wins.
func (o *OwnershipRegistry) Claim(source string, owner *ReferenceRegistry) (previous *ReferenceRegistry, collided bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev, exists := o.owners[source]
	o.owners[source] = owner
	if exists && prev != owner {
		o.collisions++
		return prev, true
	}
	return nil, false
}

// Owner returns the registry that last claimed source.
func (o *OwnershipRegistry) Owner(source string) (*ReferenceRegistry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owners[source]
	return owner, ok
}

// Len returns the number of claimed sources.
func (o *OwnershipRegistry) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.owners)
}

// Collisions returns how many cross-instance claims happened since the last reset.
func (o *OwnershipRegistry) Collisions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.collisions
}

// Reset forgets every claim. Called at the start of each build.
func (o *OwnershipRegistry) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owners = make(map[string]*ReferenceRegistry)
	o.collisions = 0
}

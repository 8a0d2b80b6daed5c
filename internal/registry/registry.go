// Package registry holds the in-memory set of wallets each user tracks.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LADAN401/Elite-Degen/internal/detect"
)

// ErrDuplicateEntry is returned when an owner adds an address it already tracks
var ErrDuplicateEntry = errors.New("wallet already tracked")

// Entry is one tracked wallet
type Entry struct {
	Owner   int64     `json:"owner"`
	Address string    `json:"address"`
	Label   string    `json:"label"`
	AddedAt time.Time `json:"added_at"`
}

// Match pairs an entry with the owner to notify
type Match struct {
	Owner int64 `json:"owner"`
	Entry Entry `json:"entry"`
}

// Registry is a process-lifetime store of tracked wallets. All methods are
// safe for concurrent use and return copies.
type Registry struct {
	mu      sync.RWMutex
	byOwner map[int64][]Entry
	// address -> owners tracking it
	index    map[string]map[int64]struct{}
	onChange []func()
	now      func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		byOwner: make(map[int64][]Entry),
		index:   make(map[string]map[int64]struct{}),
		now:     time.Now,
	}
}

// OnChange registers fn to be called after every successful mutation.
// Callbacks run outside the lock.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Add tracks address for owner. The address is normalized first; adding an
// address the owner already tracks returns ErrDuplicateEntry and keeps the
// existing entry.
func (r *Registry) Add(owner int64, address, label string) (Entry, error) {
	addr, err := detect.NormalizeAddress(address)
	if err != nil {
		return Entry{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = detect.ShortAddress(addr)
	}

	r.mu.Lock()
	if _, ok := r.index[addr][owner]; ok {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrDuplicateEntry, addr)
	}

	entry := Entry{Owner: owner, Address: addr, Label: label, AddedAt: r.now()}
	r.byOwner[owner] = append(r.byOwner[owner], entry)
	owners, ok := r.index[addr]
	if !ok {
		owners = make(map[int64]struct{})
		r.index[addr] = owners
	}
	owners[owner] = struct{}{}
	hooks := r.onChange
	r.mu.Unlock()

	notify(hooks)
	return entry, nil
}

// Remove stops tracking address for owner. It reports whether an entry was
// removed; removing an unknown or malformed address is a no-op.
func (r *Registry) Remove(owner int64, address string) bool {
	addr, err := detect.NormalizeAddress(address)
	if err != nil {
		return false
	}

	r.mu.Lock()
	if _, ok := r.index[addr][owner]; !ok {
		r.mu.Unlock()
		return false
	}

	entries := r.byOwner[owner]
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Address != addr {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.byOwner, owner)
	} else {
		r.byOwner[owner] = kept
	}

	delete(r.index[addr], owner)
	if len(r.index[addr]) == 0 {
		delete(r.index, addr)
	}
	hooks := r.onChange
	r.mu.Unlock()

	notify(hooks)
	return true
}

// List returns owner's entries in insertion order
func (r *Registry) List(owner int64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byOwner[owner]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// ScanAll returns every (owner, entry) pair currently held, ordered by owner
// and then insertion.
func (r *Registry) ScanAll() []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]int64, 0, len(r.byOwner))
	for owner := range r.byOwner {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })

	var out []Match
	for _, owner := range owners {
		for _, e := range r.byOwner[owner] {
			out = append(out, Match{Owner: owner, Entry: e})
		}
	}
	return out
}

// Lookup returns the matches for any of the given addresses using the
// address index. Addresses are normalized; malformed ones are ignored.
// Each (owner, address) pair appears at most once.
func (r *Registry) Lookup(addresses ...string) []Match {
	normalized := make([]string, 0, len(addresses))
	seen := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		addr, err := detect.NormalizeAddress(a)
		if err != nil || seen[addr] {
			continue
		}
		seen[addr] = true
		normalized = append(normalized, addr)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Match
	for _, addr := range normalized {
		owners := r.index[addr]
		if len(owners) == 0 {
			continue
		}
		ids := make([]int64, 0, len(owners))
		for owner := range owners {
			ids = append(ids, owner)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, owner := range ids {
			for _, e := range r.byOwner[owner] {
				if e.Address == addr {
					out = append(out, Match{Owner: owner, Entry: e})
					break
				}
			}
		}
	}
	return out
}

// Addresses returns the distinct tracked addresses, sorted
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.index))
	for addr := range r.index {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Stats returns the number of owners and entries
func (r *Registry) Stats() (owners, entries int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, list := range r.byOwner {
		entries += len(list)
	}
	return len(r.byOwner), entries
}

func notify(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// Package socketset implements the process-wide socket-set registry (spec
// §3.2, §4.5): a linked structure mapping equivalence classes of contexts
// to the file descriptors that share them, supporting the "choose an
// existing descriptor or open a new one" protocol behind socketchoose_req.
//
// The registry is not safe for concurrent use (spec §5: "the library makes
// no global locks and therefore the socket-set registry is not
// thread-safe"); callers needing multi-threaded access must add their own
// external locking.
package socketset

import (
	"errors"

	"github.com/m-lab/muacc/metrics"
	"github.com/m-lab/muacc/muaccctx"
)

// ErrNotFound is returned when a lookup by descriptor finds nothing.
var ErrNotFound = errors.New("socketset: no entry for descriptor")

// Entry is a single file descriptor belonging to a Set. Ctx is the exact
// same *muaccctx.Context pointer the Set shares across every one of its
// entries; FindDuplicate relies on this pointer identity.
type Entry struct {
	Fd  int
	Ctx *muaccctx.Context
}

// Set is one equivalence class: a shared context plus the descriptors
// currently attributed to it.
type Set struct {
	Ctx     *muaccctx.Context
	Entries []*Entry
}

// Registry is the process-wide list of Sets.
type Registry struct {
	Sets []*Set
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// equivalent implements the socket-set equivalence rule of spec §3.2:
// (domain, type, protocol) match and the remote addresses compare equal
// at the family-specific address length, ignoring ports (addr.Address.Equal
// already drops ports, per spec §8's find_set_for_ctx boundary behavior).
//
// When either side has no remote address yet (e.g. before connect), the
// original implementation falls back to comparing file descriptor inode
// numbers instead (PART D's supplemented inode-equivalence signal); we
// apply that same fallback rather than treating two addressless contexts
// as automatically equivalent.
func equivalent(a, b *muaccctx.Context) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Domain != b.Domain || a.Type != b.Type || a.Protocol != b.Protocol {
		return false
	}
	if a.RemoteSa == nil || b.RemoteSa == nil {
		return a.Inode != 0 && a.Inode == b.Inode
	}
	return a.RemoteSa.Equal(b.RemoteSa)
}

// FindSetForCtx returns the set whose shared context is equivalent to ctx,
// or nil if none exists. Linear search, per spec §4.5.
func (r *Registry) FindSetForCtx(ctx *muaccctx.Context) *Set {
	for _, s := range r.Sets {
		if equivalent(s.Ctx, ctx) {
			return s
		}
	}
	return nil
}

// FindByFd returns the entry for fd, or nil. Linear search across every
// set, per spec §4.5.
func (r *Registry) FindByFd(fd int) *Entry {
	for _, s := range r.Sets {
		for _, e := range s.Entries {
			if e.Fd == fd {
				return e
			}
		}
	}
	return nil
}

// FindDuplicate returns the first entry in set other than exclude that
// shares exact context pointer identity with exclude's context. Used by
// Remove to decide whether removing exclude should also free the shared
// context (spec §4.5: "the first other entry sharing the exact context
// pointer identity — used to decide whether a set removal frees the
// context").
func FindDuplicate(set *Set, exclude *Entry) *Entry {
	if set == nil || exclude == nil {
		return nil
	}
	for _, e := range set.Entries {
		if e == exclude {
			continue
		}
		if e.Ctx == exclude.Ctx {
			return e
		}
	}
	return nil
}

// Add attributes fd to the equivalence class ctx belongs to, creating a new
// set (owning a clone of ctx) if none matches yet (spec §4.5).
func (r *Registry) Add(fd int, ctx *muaccctx.Context) (*Entry, error) {
	set := r.FindSetForCtx(ctx)
	if set == nil {
		clone, err := muaccctx.Clone(ctx)
		if err != nil {
			return nil, err
		}
		set = &Set{Ctx: clone}
		r.Sets = append(r.Sets, set)
	}
	entry := &Entry{Fd: fd, Ctx: set.Ctx}
	set.Entries = append(set.Entries, entry)
	r.recordSizeMetrics(set)
	return entry, nil
}

// Remove unlinks the entry for fd. If no other entry in its set shares the
// same context pointer, the shared context is released; the entry is then
// unlinked, and if the set becomes empty it is dropped from the registry
// (spec §4.5).
func (r *Registry) Remove(fd int) error {
	for si, s := range r.Sets {
		for ei, e := range s.Entries {
			if e.Fd != fd {
				continue
			}
			if FindDuplicate(s, e) == nil {
				muaccctx.Release(e.Ctx)
			}
			s.Entries = append(s.Entries[:ei], s.Entries[ei+1:]...)
			r.recordSizeMetrics(s)
			if len(s.Entries) == 0 {
				r.Sets = append(r.Sets[:si], r.Sets[si+1:]...)
				metrics.SocketSetCount.Set(float64(len(r.Sets)))
			}
			return nil
		}
	}
	return ErrNotFound
}

func (r *Registry) recordSizeMetrics(set *Set) {
	metrics.SocketSetSize.Observe(float64(len(set.Entries)))
	metrics.SocketSetCount.Set(float64(len(r.Sets)))
}

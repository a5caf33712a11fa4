// Package optlist implements the ordered socket-option list muacc contexts
// carry: the options the caller has set, and the options the daemon
// suggests in response to a request (spec §3.1).
package optlist

// IntentsLevel is the sentinel "level" value marking an intent option: a
// policy hint carried in the context but never forwarded to the kernel via
// setsockopt/getsockopt.
const IntentsLevel int32 = -1

// Flag bits carried on each option.
type Flag uint32

const (
	// Optional means failure to apply this option at the kernel is
	// tolerated; see spec §4.4's connect() handling of sockopts_suggested.
	Optional Flag = 1 << iota
	// IsSet means the option has already been applied.
	IsSet
)

// Option is a single (level, name, value) triple plus bookkeeping flags.
type Option struct {
	Level       int32
	Name        int32
	Value       []byte
	Flags       Flag
	ReturnValue int32
}

// Clone returns an independent deep copy.
func (o *Option) Clone() *Option {
	if o == nil {
		return nil
	}
	v := make([]byte, len(o.Value))
	copy(v, o.Value)
	return &Option{Level: o.Level, Name: o.Name, Value: v, Flags: o.Flags, ReturnValue: o.ReturnValue}
}

// IsIntent reports whether o is a policy-intent hint rather than a kernel
// option.
func (o *Option) IsIntent() bool {
	return o != nil && o.Level == IntentsLevel
}

// List is an ordered sequence of Options. Insertion order is preserved;
// Append does not deduplicate (the wire codec is fine with duplicate
// entries), but the call surface overwrites by (level, name) on set, via
// OverwriteByName.
type List struct {
	items []*Option
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// Len returns the number of options in the list.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the i'th option, or nil if i is out of range.
func (l *List) At(i int) *Option {
	if l == nil || i < 0 || i >= len(l.items) {
		return nil
	}
	return l.items[i]
}

// Append adds opt to the end of the list, unconditionally.
func (l *List) Append(opt *Option) {
	l.items = append(l.items, opt)
}

// FindByName returns the first option with the given (level, name), or nil.
func (l *List) FindByName(level, name int32) *Option {
	if l == nil {
		return nil
	}
	for _, o := range l.items {
		if o.Level == level && o.Name == name {
			return o
		}
	}
	return nil
}

// OverwriteByName inserts opt, replacing any existing entry with the same
// (level, name) in place (preserving its position) or appending if none
// exists (spec §8 boundary behavior: "Inserting an intent option with the
// same (level, name) as an existing entry overwrites the value and
// preserves ordering").
func (l *List) OverwriteByName(opt *Option) {
	for i, o := range l.items {
		if o.Level == opt.Level && o.Name == opt.Name {
			l.items[i] = opt
			return
		}
	}
	l.Append(opt)
}

// Clone returns a deep, independently owned copy of the list. Safe to call
// on a nil *List (returns nil).
func (l *List) Clone() *List {
	if l == nil {
		return nil
	}
	out := &List{items: make([]*Option, len(l.items))}
	for i, o := range l.items {
		out.items[i] = o.Clone()
	}
	return out
}

// Each calls fn for every option in order.
func (l *List) Each(fn func(*Option)) {
	if l == nil {
		return
	}
	for _, o := range l.items {
		fn(o)
	}
}

// Package image implements the in-process loaded-image registry: the
// exported-symbol table, the flat class/method registry, and the
// patchable dispatch slots the hook engine operates on. The embedding
// process (an agent loader, or a test harness) populates the registry;
// the engine only ever sees the domain.Image interface.
package image

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gand3lf/unpin/internal/domain"
)

// Addresses are assigned monotonically from a fixed base, the way a
// loader lays out a text segment. The values are opaque to callers.
const (
	baseAddr   domain.Address = 0x1000
	addrStride domain.Address = 0x10
)

// funcCell boxes a domain.Func so atomic.Value always stores one
// concrete type.
type funcCell struct {
	fn domain.Func
}

// slot is one patchable code location. The callable is swapped
// atomically; in-flight calls are tracked with a two-epoch counter
// pair so Restore can wait for calls that entered through the old
// callable without blocking on calls that entered after the swap.
type slot struct {
	fn       atomic.Value
	epoch    atomic.Uint64
	inflight [2]atomic.Int64
}

func newSlot(fn domain.Func) *slot {
	s := &slot{}
	s.fn.Store(funcCell{fn: fn})
	return s
}

func (s *slot) call(frame domain.Frame) {
	// The counter must be taken before the callable is loaded: any
	// call that loaded the pre-swap callable is then guaranteed to be
	// counted under the pre-flip epoch, which is what drain waits on.
	e := s.epoch.Load() & 1
	s.inflight[e].Add(1)
	defer s.inflight[e].Add(-1)

	s.fn.Load().(funcCell).fn(frame)
}

func (s *slot) swap(fn domain.Func) {
	s.fn.Store(funcCell{fn: fn})
}

func (s *slot) load() domain.Func {
	return s.fn.Load().(funcCell).fn
}

// drain flips the epoch and waits for calls counted under the old
// epoch to leave. Calls entering after the flip are counted under the
// new epoch and execute the already-swapped callable, so they are not
// waited on.
func (s *slot) drain() {
	old := s.epoch.Add(1) - 1
	for s.inflight[old&1].Load() != 0 {
		runtime.Gosched()
	}
}

// Registry implements domain.Image.
type Registry struct {
	mu      sync.RWMutex
	next    domain.Address
	slots   map[domain.Address]*slot
	exports map[string]domain.Address
	classes map[string]*Class
}

// NewRegistry creates an empty image registry.
func NewRegistry() *Registry {
	return &Registry{
		next:    baseAddr,
		slots:   make(map[domain.Address]*slot),
		exports: make(map[string]domain.Address),
		classes: make(map[string]*Class),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry populated by the embedding
// agent loader.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
	})
	return defaultReg
}

// AddExport registers an exported function and assigns it an address.
func (r *Registry) AddExport(name string, fn domain.Func) domain.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := r.alloc(fn)
	r.exports[name] = addr
	return addr
}

// AddClass registers a class with an empty method table. Registering
// an existing name returns the existing class.
func (r *Registry) AddClass(name string) *Class {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.classes[name]; ok {
		return c
	}
	c := &Class{
		reg:     r,
		name:    name,
		methods: make(map[string]domain.Address),
	}
	r.classes[name] = c
	return c
}

// alloc assigns the next address and installs the callable. Caller
// holds r.mu.
func (r *Registry) alloc(fn domain.Func) domain.Address {
	addr := r.next
	r.next += addrStride
	r.slots[addr] = newSlot(fn)
	return addr
}

// ExportAddr returns the address of an exported function.
func (r *Registry) ExportAddr(name string) (domain.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.exports[name]
	return addr, ok
}

// MethodAddr returns the address of a class method.
func (r *Registry) MethodAddr(class, selector string) (domain.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[class]
	if !ok {
		return 0, false
	}
	addr, ok := c.methods[selector]
	return addr, ok
}

// HasClass checks whether a class is present in the image.
func (r *Registry) HasClass(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.classes[name]
	return ok
}

// EachMethod enumerates every method of every class, classes and
// selectors in lexical order so wildcard resolution is deterministic.
func (r *Registry) EachMethod(fn func(class, selector string, addr domain.Address)) {
	r.mu.RLock()
	classNames := make([]string, 0, len(r.classes))
	for name := range r.classes {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)

	type entry struct {
		class, selector string
		addr            domain.Address
	}
	var entries []entry
	for _, cn := range classNames {
		c := r.classes[cn]
		selectors := make([]string, 0, len(c.methods))
		for sel := range c.methods {
			selectors = append(selectors, sel)
		}
		sort.Strings(selectors)
		for _, sel := range selectors {
			entries = append(entries, entry{class: cn, selector: sel, addr: c.methods[sel]})
		}
	}
	r.mu.RUnlock()

	for _, e := range entries {
		fn(e.class, e.selector, e.addr)
	}
}

// Call dispatches a frame through the current callable at addr.
func (r *Registry) Call(addr domain.Address, frame domain.Frame) error {
	s, ok := r.slot(addr)
	if !ok {
		return fmt.Errorf("call %#x: %w", uint64(addr), domain.ErrNoCode)
	}
	s.call(frame)
	return nil
}

// Callable returns the current callable at addr.
func (r *Registry) Callable(addr domain.Address) (domain.Func, bool) {
	s, ok := r.slot(addr)
	if !ok {
		return nil, false
	}
	return s.load(), true
}

// Swap atomically replaces the callable at addr.
func (r *Registry) Swap(addr domain.Address, fn domain.Func) error {
	s, ok := r.slot(addr)
	if !ok {
		return fmt.Errorf("swap %#x: %w", uint64(addr), domain.ErrNoCode)
	}
	s.swap(fn)
	return nil
}

// Restore swaps fn back in and blocks until calls that entered through
// the previous callable have drained.
func (r *Registry) Restore(addr domain.Address, fn domain.Func) error {
	s, ok := r.slot(addr)
	if !ok {
		return fmt.Errorf("restore %#x: %w", uint64(addr), domain.ErrNoCode)
	}
	s.swap(fn)
	s.drain()
	return nil
}

func (r *Registry) slot(addr domain.Address) (*slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[addr]
	return s, ok
}

// Class is one entry in the loaded-type registry.
type Class struct {
	reg     *Registry
	name    string
	methods map[string]domain.Address
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// AddMethod registers a method on the class and assigns it an address.
func (c *Class) AddMethod(selector string, fn domain.Func) domain.Address {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	addr := c.reg.alloc(fn)
	c.methods[selector] = addr
	return addr
}

// Ensure Registry implements domain.Image.
var _ domain.Image = (*Registry)(nil)

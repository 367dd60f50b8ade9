package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gand3lf/unpin/internal/domain"
)

var (
	// ErrAlreadyReplaced reports a second replacement installed at an
	// address that already has one. Chained replacement is a strategy
	// bug, never silently allowed.
	ErrAlreadyReplaced = errors.New("address already has a replacement hook")

	// ErrHookNotCurrent reports removal of a hook that is no longer the
	// top of its address's chain. Remove hooks in reverse install order.
	ErrHookNotCurrent = errors.New("hook is not the current modification at its address")

	// ErrHookRemoved reports a second removal of the same hook.
	ErrHookRemoved = errors.New("hook already removed")
)

// Observation holds the callbacks of a non-replacing hook. OnEnter may
// mutate the frame's argument fields before the original executes;
// OnLeave may overwrite its return fields after. The original always
// runs.
type Observation struct {
	OnEnter domain.Func
	OnLeave domain.Func
}

// Replacement is a synthetic implementation superseding the original.
// It receives the pre-swap original so it can selectively call through.
type Replacement func(frame domain.Frame, original domain.Func)

// Installer installs hooks into an image. Installation of one address
// is atomic from the perspective of any single call; installs at
// different addresses are independent.
type Installer struct {
	img domain.Image

	mu       sync.Mutex
	replaced map[domain.Address]bool
	tops     map[domain.Address]*Hook
}

// NewInstaller creates an installer over an image.
func NewInstaller(img domain.Image) *Installer {
	return &Installer{
		img:      img,
		replaced: make(map[domain.Address]bool),
		tops:     make(map[domain.Address]*Hook),
	}
}

// InstallObservation attaches observation callbacks at addr. Multiple
// observation hooks at one address stack; each fires independently.
func (in *Installer) InstallObservation(addr domain.Address, obs Observation) (*Hook, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	prev, ok := in.img.Callable(addr)
	if !ok {
		return nil, fmt.Errorf("install observation at %#x: %w", uint64(addr), domain.ErrNoCode)
	}

	h := &Hook{
		addr:  addr,
		kind:  domain.HookObservation,
		inst:  in,
		prev:  prev,
		below: in.tops[addr],
	}
	wrapper := func(f domain.Frame) {
		if obs.OnEnter != nil {
			obs.OnEnter(f)
		}
		prev(f)
		if obs.OnLeave != nil {
			obs.OnLeave(f)
		}
	}
	if err := in.img.Swap(addr, wrapper); err != nil {
		return nil, err
	}
	in.tops[addr] = h
	return h, nil
}

// InstallReplacement swaps the callable at addr for a synthetic one.
// A second replacement at the same address is rejected.
func (in *Installer) InstallReplacement(addr domain.Address, syn Replacement) (*Hook, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.replaced[addr] {
		return nil, fmt.Errorf("install replacement at %#x: %w", uint64(addr), ErrAlreadyReplaced)
	}
	prev, ok := in.img.Callable(addr)
	if !ok {
		return nil, fmt.Errorf("install replacement at %#x: %w", uint64(addr), domain.ErrNoCode)
	}

	h := &Hook{
		addr:  addr,
		kind:  domain.HookReplacement,
		inst:  in,
		prev:  prev,
		below: in.tops[addr],
	}
	wrapper := func(f domain.Frame) {
		syn(f, prev)
	}
	if err := in.img.Swap(addr, wrapper); err != nil {
		return nil, err
	}
	in.replaced[addr] = true
	in.tops[addr] = h
	return h, nil
}

// Hook is one installed modification at one address. Each hook owns
// exactly one modification and is responsible for its own removal.
type Hook struct {
	addr  domain.Address
	kind  domain.HookKind
	inst  *Installer
	prev  domain.Func
	below *Hook

	removed bool // guarded by inst.mu
}

// Addr returns the hooked address.
func (h *Hook) Addr() domain.Address { return h.addr }

// Kind returns the hook variant.
func (h *Hook) Kind() domain.HookKind { return h.kind }

// Remove restores the callable the hook displaced and blocks until no
// in-flight call is still executing the hook. Hooks stacked on one
// address must be removed in reverse install order.
func (h *Hook) Remove() error {
	in := h.inst
	in.mu.Lock()
	defer in.mu.Unlock()

	if h.removed {
		return fmt.Errorf("remove %s hook at %#x: %w", h.kind, uint64(h.addr), ErrHookRemoved)
	}
	if in.tops[h.addr] != h {
		return fmt.Errorf("remove %s hook at %#x: %w", h.kind, uint64(h.addr), ErrHookNotCurrent)
	}
	if err := in.img.Restore(h.addr, h.prev); err != nil {
		return err
	}
	h.removed = true
	if h.below != nil {
		in.tops[h.addr] = h.below
	} else {
		delete(in.tops, h.addr)
	}
	if h.kind == domain.HookReplacement {
		delete(in.replaced, h.addr)
	}
	return nil
}

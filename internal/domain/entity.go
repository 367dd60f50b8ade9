// Package domain contains core entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
)

// ErrNoCode is returned when an operation targets an address with no
// resolvable code behind it.
var ErrNoCode = errors.New("no code at address")

// Address is a code address inside the instrumented process image.
type Address uint64

// Frame is the call frame flowing through one hooked code location.
// Every hooked signature defines exactly one typed struct carrying its
// arguments and return slots; frames are always passed by pointer so
// that mutation by a hook is visible to the original and to the caller.
type Frame any

// Func is a callable installed at an Address.
type Func func(Frame)

// DescriptorKind identifies how a target is located.
type DescriptorKind int

const (
	// KindExport is an exact exported-symbol name.
	KindExport DescriptorKind = iota
	// KindClassMethod is a (class name, selector) pair.
	KindClassMethod
	// KindMethodPattern is a wildcard selector pattern matched against
	// every loaded class. The only kind that can resolve to more than
	// one address.
	KindMethodPattern
)

// TargetDescriptor identifies a hookable location. Immutable once
// constructed.
type TargetDescriptor struct {
	kind     DescriptorKind
	symbol   string
	class    string
	selector string
	pattern  string
}

// ExportSymbol describes an exported native function by exact name.
func ExportSymbol(name string) TargetDescriptor {
	return TargetDescriptor{kind: KindExport, symbol: name}
}

// ClassMethod describes a dynamically-dispatched method by class name
// and selector.
func ClassMethod(class, selector string) TargetDescriptor {
	return TargetDescriptor{kind: KindClassMethod, class: class, selector: selector}
}

// MethodPattern describes every method whose selector matches the
// given glob pattern, across all loaded classes.
func MethodPattern(pattern string) TargetDescriptor {
	return TargetDescriptor{kind: KindMethodPattern, pattern: pattern}
}

func (d TargetDescriptor) Kind() DescriptorKind { return d.kind }
func (d TargetDescriptor) Symbol() string       { return d.symbol }
func (d TargetDescriptor) Class() string        { return d.class }
func (d TargetDescriptor) Selector() string     { return d.selector }
func (d TargetDescriptor) Pattern() string      { return d.pattern }

func (d TargetDescriptor) String() string {
	switch d.kind {
	case KindExport:
		return d.symbol
	case KindClassMethod:
		return fmt.Sprintf("%s.%s", d.class, d.selector)
	default:
		return fmt.Sprintf("*.%s", d.pattern)
	}
}

// Match is one concrete address a descriptor resolved to. Class is
// empty for exported functions.
type Match struct {
	Class    string
	Selector string
	Addr     Address
}

// ResolvedTarget is a descriptor plus every address found for it in
// the current image. Zero matches is a valid, non-error outcome.
type ResolvedTarget struct {
	Descriptor TargetDescriptor
	Matches    []Match
}

// Found reports whether the descriptor matched anything.
func (r ResolvedTarget) Found() bool { return len(r.Matches) > 0 }

// HookKind distinguishes the two modification variants.
type HookKind int

const (
	// HookObservation runs callbacks around the original, which still
	// executes.
	HookObservation HookKind = iota
	// HookReplacement fully supersedes the original callable.
	HookReplacement
)

func (k HookKind) String() string {
	if k == HookReplacement {
		return "replacement"
	}
	return "observation"
}

// Package engine is the generic runtime-patching substrate: symbol
// resolution against the loaded image, observation and replacement hook
// installation, and challenge interception.
package engine

import (
	"path"

	"github.com/gand3lf/unpin/internal/domain"
)

// Resolver finds code addresses for target descriptors. Resolution
// never fails: an unmatched descriptor yields zero matches, which
// callers must treat as "feature absent, skip", not as an error.
type Resolver struct {
	img domain.Image
}

// NewResolver creates a resolver over an image.
func NewResolver(img domain.Image) *Resolver {
	return &Resolver{img: img}
}

// Resolve returns every address the descriptor matches in the current
// image. Exact-name and class/method lookups hit the symbol tables
// directly; wildcard patterns linearly scan the flat method registry
// and are the only kind that can return more than one match.
func (r *Resolver) Resolve(desc domain.TargetDescriptor) domain.ResolvedTarget {
	rt := domain.ResolvedTarget{Descriptor: desc}

	switch desc.Kind() {
	case domain.KindExport:
		if addr, ok := r.img.ExportAddr(desc.Symbol()); ok {
			rt.Matches = append(rt.Matches, domain.Match{Selector: desc.Symbol(), Addr: addr})
		}
	case domain.KindClassMethod:
		if addr, ok := r.img.MethodAddr(desc.Class(), desc.Selector()); ok {
			rt.Matches = append(rt.Matches, domain.Match{
				Class:    desc.Class(),
				Selector: desc.Selector(),
				Addr:     addr,
			})
		}
	case domain.KindMethodPattern:
		r.img.EachMethod(func(class, selector string, addr domain.Address) {
			// A malformed pattern matches nothing; resolution stays
			// non-failing either way.
			if ok, err := path.Match(desc.Pattern(), selector); err == nil && ok {
				rt.Matches = append(rt.Matches, domain.Match{
					Class:    class,
					Selector: selector,
					Addr:     addr,
				})
			}
		})
	}

	return rt
}

// HasClass checks for the presence of a class in the image, for
// presence-gated strategies.
func (r *Resolver) HasClass(name string) bool {
	return r.img.HasClass(name)
}

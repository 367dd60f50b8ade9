// Package bypass implements the Strategy pattern for pinning-defeat
// techniques. Each known pinning mechanism has its own strategy, a pure
// consumer of the resolver, the installer and the challenge adapter
// plus a static table of target names.
package bypass

import (
	"context"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/infra"
)

// Outcome classifies one strategy attempt. Absence of a target is a
// distinct success variant, never an error.
type Outcome int

const (
	// OutcomeNotFound means the mechanism is absent from the image;
	// the strategy contributed zero hooks.
	OutcomeNotFound Outcome = iota
	// OutcomeHooked means at least one hook was installed.
	OutcomeHooked
	// OutcomeLimited means the target exists but the engine has no
	// working bypass for it; an observation-only hook reports calls.
	// A permanent, documented outcome, not a retry candidate.
	OutcomeLimited
	// OutcomeFailed means installation failed. Scoped to this
	// strategy; others are unaffected.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not-found"
	case OutcomeHooked:
		return "hooked"
	case OutcomeLimited:
		return "limited"
	default:
		return "failed"
	}
}

// Result captures what one strategy did.
type Result struct {
	StrategyID string
	Outcome    Outcome
	Hooks      int
	Note       string
	Err        error
}

// JobRecorder is the slice of the lifecycle manager a strategy needs:
// it records every hook the strategy installs under the current job.
type JobRecorder interface {
	RecordObservation(h *engine.Hook) error
	RecordReplacement(addr domain.Address, h *engine.Hook) error
}

// Env carries the shared collaborators one disable invocation hands to
// every strategy.
type Env struct {
	Image     domain.Image
	Resolver  *engine.Resolver
	Installer *engine.Installer
	Job       JobRecorder
	Log       *infra.Sink
}

// Strategy defeats one known pinning mechanism. Implementations are
// independently optional: when their target is absent they are no-ops
// and never block another strategy.
type Strategy interface {
	// ID returns a unique identifier (e.g., "afnetworking").
	ID() string

	// Name returns a human-readable name for display.
	Name() string

	// Apply attempts the bypass against env's image, registering every
	// installed hook with env.Job.
	Apply(ctx context.Context, env *Env) Result
}

func notFound(id string) Result {
	return Result{StrategyID: id, Outcome: OutcomeNotFound}
}

func hooked(id string, hooks int) Result {
	return Result{StrategyID: id, Outcome: OutcomeHooked, Hooks: hooks}
}

func failed(id string, err error) Result {
	return Result{StrategyID: id, Outcome: OutcomeFailed, Err: err}
}

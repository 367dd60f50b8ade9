// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/bypass"
	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/infra"
	"github.com/gand3lf/unpin/internal/job"
)

// Disabler is the single "disable pinning" entry point: it runs every
// registered strategy against the image, groups the resulting hooks
// under one fresh job, and reports per-strategy outcomes. The installer
// lives with the disabler, not with one invocation: replacement
// conflicts must surface even when the competing replacement was
// installed by an earlier Disable call.
type Disabler struct {
	image      domain.Image
	resolver   *engine.Resolver
	installer  *engine.Installer
	strategies *bypass.Registry
	jobs       *job.Manager
	log        *infra.Sink
}

// NewDisabler creates a disabler.
func NewDisabler(img domain.Image, strategies *bypass.Registry, jobs *job.Manager, log *infra.Sink) *Disabler {
	return &Disabler{
		image:      img,
		resolver:   engine.NewResolver(img),
		installer:  engine.NewInstaller(img),
		strategies: strategies,
		jobs:       jobs,
		log:        log,
	}
}

// Report aggregates one disable invocation.
type Report struct {
	Job     *job.Job
	Results []bypass.Result
}

func (r *Report) count(o bypass.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Hooked returns the number of strategies that installed hooks.
func (r *Report) Hooked() int { return r.count(bypass.OutcomeHooked) }

// NotFound returns the number of strategies whose target was absent.
func (r *Report) NotFound() int { return r.count(bypass.OutcomeNotFound) }

// Limited returns the number of strategies with a documented
// no-working-bypass limitation.
func (r *Report) Limited() int { return r.count(bypass.OutcomeLimited) }

// Failed returns the number of strategies that failed to install.
func (r *Report) Failed() int { return r.count(bypass.OutcomeFailed) }

// Err aggregates the errors of failed strategies. Absence and
// documented limitations are not errors.
func (r *Report) Err() error {
	var err error
	for _, res := range r.Results {
		if res.Outcome == bypass.OutcomeFailed && res.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", res.StrategyID, res.Err))
		}
	}
	return err
}

// Disable runs all strategies in order. Per-strategy failures are
// isolated: one strategy failing (or panicking) never prevents the
// remaining strategies from running. The returned error aggregates
// only installation failures; a report is always returned.
func (d *Disabler) Disable(ctx context.Context) (*Report, error) {
	j := d.jobs.Create("disable ssl pinning")
	env := &bypass.Env{
		Image:     d.image,
		Resolver:  d.resolver,
		Installer: d.installer,
		Job:       j,
		Log:       d.log,
	}

	report := &Report{Job: j}
	for _, s := range d.strategies.All() {
		res := d.apply(ctx, s, env)
		report.Results = append(report.Results, res)

		switch res.Outcome {
		case bypass.OutcomeNotFound:
			d.log.Verbose("target absent, skipping",
				zap.String("strategy", res.StrategyID))
		case bypass.OutcomeHooked:
			d.log.Verbose("strategy installed",
				zap.String("strategy", res.StrategyID),
				zap.Int("hooks", res.Hooks))
		case bypass.OutcomeLimited:
			d.log.Log("strategy limited",
				zap.String("strategy", res.StrategyID),
				zap.String("note", res.Note))
		case bypass.OutcomeFailed:
			d.log.Warn("strategy failed",
				zap.String("strategy", res.StrategyID),
				zap.Error(res.Err))
		}
	}
	j.Seal()

	d.log.Log("pinning bypass installed",
		zap.Int64("job", j.ID()),
		zap.String("guid", j.GUID().String()),
		zap.Int("hooks", j.HookCount()),
		zap.Int("strategies_hooked", report.Hooked()),
		zap.Int("strategies_absent", report.NotFound()))

	return report, report.Err()
}

// apply isolates one strategy: a panic becomes a failed result scoped
// to that strategy.
func (d *Disabler) apply(ctx context.Context, s bypass.Strategy, env *bypass.Env) (res bypass.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = bypass.Result{
				StrategyID: s.ID(),
				Outcome:    bypass.OutcomeFailed,
				Err:        fmt.Errorf("strategy panic: %v", r),
			}
		}
	}()
	return s.Apply(ctx, env)
}

package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

const (
	trustKitValidatorClass = "TSKPinningValidator"
	selEvaluateTrust       = "evaluateTrust:forHostname:"

	// TSKTrustDecisionShouldAllowConnection
	trustKitDecisionAllow int64 = 1
)

// TrustKitStrategy overwrites the pinning validator's verdict: whatever
// the evaluation concluded, the returned decision says allow.
type TrustKitStrategy struct{}

// NewTrustKitStrategy creates the TrustKit bypass.
func NewTrustKitStrategy() *TrustKitStrategy {
	return &TrustKitStrategy{}
}

func (s *TrustKitStrategy) ID() string   { return "trustkit" }
func (s *TrustKitStrategy) Name() string { return "TrustKit pinning validator" }

func (s *TrustKitStrategy) Apply(ctx context.Context, env *Env) Result {
	rt := env.Resolver.Resolve(domain.ClassMethod(trustKitValidatorClass, selEvaluateTrust))
	if !rt.Found() {
		return notFound(s.ID())
	}

	obs := engine.Observation{
		OnLeave: func(f domain.Frame) {
			fr := f.(*EvaluateTrustFrame)
			if fr.Decision != trustKitDecisionAllow {
				env.Log.Verbose("overwriting TrustKit decision to allow",
					zap.String("hostname", fr.Hostname),
					zap.Int64("was", fr.Decision))
				fr.Decision = trustKitDecisionAllow
			}
		},
	}

	h, err := env.Installer.InstallObservation(rt.Matches[0].Addr, obs)
	if err != nil {
		return failed(s.ID(), err)
	}
	if err := env.Job.RecordObservation(h); err != nil {
		return failed(s.ID(), err)
	}
	return hooked(s.ID(), 1)
}

// Ensure TrustKitStrategy implements Strategy.
var _ Strategy = (*TrustKitStrategy)(nil)

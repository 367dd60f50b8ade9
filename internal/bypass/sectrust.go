package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

const (
	symTrustEvaluate          = "SecTrustEvaluate"
	symTrustEvaluateWithError = "SecTrustEvaluateWithError"

	// kSecTrustResultProceed
	trustResultProceed int32 = 1
)

// SecTrustStrategy covers the two generations of the low-level
// peer-trust API, presence-gated independently.
//
// The first generation gets a full replacement returning success. For
// the second generation no working bypass exists: the hook is
// observation-only and logs every call as a documented limitation.
// That limitation is deliberate; do not replace it with an invented
// forced-success path.
type SecTrustStrategy struct{}

// NewSecTrustStrategy creates the peer-trust evaluation bypass.
func NewSecTrustStrategy() *SecTrustStrategy {
	return &SecTrustStrategy{}
}

func (s *SecTrustStrategy) ID() string   { return "sectrust" }
func (s *SecTrustStrategy) Name() string { return "SecTrust peer-trust evaluation" }

func (s *SecTrustStrategy) Apply(ctx context.Context, env *Env) Result {
	evaluate := env.Resolver.Resolve(domain.ExportSymbol(symTrustEvaluate))
	withError := env.Resolver.Resolve(domain.ExportSymbol(symTrustEvaluateWithError))

	if !evaluate.Found() && !withError.Found() {
		return notFound(s.ID())
	}

	hooks := 0
	limited := false

	if evaluate.Found() {
		rep := func(f domain.Frame, _ domain.Func) {
			fr := f.(*TrustEvaluateFrame)
			fr.Result = trustResultProceed
			fr.Status = errSecSuccess
			env.Log.Verbose("trust evaluation forced to proceed",
				zap.String("trust", string(fr.Trust)))
		}
		h, err := env.Installer.InstallReplacement(evaluate.Matches[0].Addr, rep)
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordReplacement(evaluate.Matches[0].Addr, h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
	}

	if withError.Found() {
		obs := engine.Observation{
			OnEnter: func(f domain.Frame) {
				fr := f.(*TrustEvaluateWithErrorFrame)
				env.Log.Log("SecTrustEvaluateWithError called: no working bypass, observing only",
					zap.String("trust", string(fr.Trust)))
			},
		}
		h, err := env.Installer.InstallObservation(withError.Matches[0].Addr, obs)
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordObservation(h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
		limited = true
	}

	res := hooked(s.ID(), hooks)
	if limited {
		res.Note = "SecTrustEvaluateWithError has no working bypass; observation only"
		if !evaluate.Found() {
			res.Outcome = OutcomeLimited
		}
	}
	return res
}

// Ensure SecTrustStrategy implements Strategy.
var _ Strategy = (*SecTrustStrategy)(nil)

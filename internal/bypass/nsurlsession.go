package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

// selURLSessionChallenge is matched as a wildcard across every loaded
// class: any delegate implementing the trust-challenge callback is a
// target, whatever its class.
const selURLSessionChallenge = "URLSession:didReceiveChallenge:completionHandler:"

// URLSessionStrategy intercepts session trust challenges on every
// delegate class in the image and forges their completion callbacks
// via the challenge adapter. The delegate's own accept/reject logic
// still runs, but the completion it eventually invokes is synthetic.
type URLSessionStrategy struct{}

// NewURLSessionStrategy creates the session trust-challenge bypass.
func NewURLSessionStrategy() *URLSessionStrategy {
	return &URLSessionStrategy{}
}

func (s *URLSessionStrategy) ID() string   { return "nsurlsession" }
func (s *URLSessionStrategy) Name() string { return "NSURLSession trust challenge" }

func (s *URLSessionStrategy) Apply(ctx context.Context, env *Env) Result {
	rt := env.Resolver.Resolve(domain.MethodPattern(selURLSessionChallenge))
	if !rt.Found() {
		return notFound(s.ID())
	}

	adapter := engine.NewAdapter(env.Log)
	onEnter := adapter.OnEnter(engine.ChallengeAccess{
		Challenge: func(f domain.Frame) engine.Challenge {
			return f.(*URLSessionChallengeFrame).Challenge
		},
		Completion: func(f domain.Frame) engine.CompletionFunc {
			return f.(*URLSessionChallengeFrame).Completion
		},
		SetCompletion: func(f domain.Frame, fn engine.CompletionFunc) {
			f.(*URLSessionChallengeFrame).Completion = fn
		},
	})

	hooks := 0
	for _, m := range rt.Matches {
		h, err := env.Installer.InstallObservation(m.Addr, engine.Observation{OnEnter: onEnter})
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordObservation(h); err != nil {
			return failed(s.ID(), err)
		}
		env.Log.Verbose("hooked session challenge delegate",
			zap.String("class", m.Class))
		hooks++
	}
	return hooked(s.ID(), hooks)
}

// Ensure URLSessionStrategy implements Strategy.
var _ Strategy = (*URLSessionStrategy)(nil)

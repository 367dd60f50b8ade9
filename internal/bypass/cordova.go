package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

const (
	cordovaDelegateClass  = "CustomURLConnectionDelegate"
	selFingerprintTrusted = "isFingerprintTrusted:"
)

// CordovaStrategy targets the hybrid-app certificate-checker plugin.
// Presence-gated on its delegate class: most images don't carry it.
type CordovaStrategy struct{}

// NewCordovaStrategy creates the hybrid-app plugin bypass.
func NewCordovaStrategy() *CordovaStrategy {
	return &CordovaStrategy{}
}

func (s *CordovaStrategy) ID() string   { return "cordova" }
func (s *CordovaStrategy) Name() string { return "Cordova certificate checker plugin" }

func (s *CordovaStrategy) Apply(ctx context.Context, env *Env) Result {
	if !env.Resolver.HasClass(cordovaDelegateClass) {
		return notFound(s.ID())
	}

	rt := env.Resolver.Resolve(domain.ClassMethod(cordovaDelegateClass, selFingerprintTrusted))
	if !rt.Found() {
		return notFound(s.ID())
	}

	obs := engine.Observation{
		OnLeave: func(f domain.Frame) {
			fr := f.(*FingerprintTrustedFrame)
			if !fr.Trusted {
				env.Log.Verbose("overwriting fingerprint check to trusted",
					zap.String("fingerprint", fr.Fingerprint))
				fr.Trusted = true
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

// Ensure CordovaStrategy implements Strategy.
var _ Strategy = (*CordovaStrategy)(nil)

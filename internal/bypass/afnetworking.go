package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

const (
	afSecurityPolicyClass = "AFSecurityPolicy"

	selSetPinningMode        = "setSSLPinningMode:"
	selSetAllowInvalidCerts  = "setAllowInvalidCertificates:"
	selPolicyWithMode        = "policyWithPinningMode:"
	selPolicyWithModeAndPins = "policyWithPinningMode:withPinnedCertificates:"

	// AFSSLPinningModeNone
	afPinningModeNone int64 = 0
)

// AFNetworkingStrategy defeats AFSecurityPolicy pinning: every mode
// argument is forced to the no-pinning value and invalid certificates
// are allowed, on the setters and on both class constructors.
type AFNetworkingStrategy struct{}

// NewAFNetworkingStrategy creates the AFNetworking bypass.
func NewAFNetworkingStrategy() *AFNetworkingStrategy {
	return &AFNetworkingStrategy{}
}

func (s *AFNetworkingStrategy) ID() string   { return "afnetworking" }
func (s *AFNetworkingStrategy) Name() string { return "AFNetworking AFSecurityPolicy" }

func (s *AFNetworkingStrategy) Apply(ctx context.Context, env *Env) Result {
	targets := []domain.TargetDescriptor{
		domain.ClassMethod(afSecurityPolicyClass, selSetPinningMode),
		domain.ClassMethod(afSecurityPolicyClass, selSetAllowInvalidCerts),
		domain.ClassMethod(afSecurityPolicyClass, selPolicyWithMode),
		domain.ClassMethod(afSecurityPolicyClass, selPolicyWithModeAndPins),
	}

	hooks := 0
	for _, desc := range targets {
		rt := env.Resolver.Resolve(desc)
		if !rt.Found() {
			continue
		}
		obs := engine.Observation{OnEnter: s.onEnter(env)}
		for _, m := range rt.Matches {
			h, err := env.Installer.InstallObservation(m.Addr, obs)
			if err != nil {
				return failed(s.ID(), err)
			}
			if err := env.Job.RecordObservation(h); err != nil {
				return failed(s.ID(), err)
			}
			env.Log.Verbose("hooked AFSecurityPolicy",
				zap.String("selector", m.Selector))
			hooks++
		}
	}

	if hooks == 0 {
		return notFound(s.ID())
	}
	return hooked(s.ID(), hooks)
}

// onEnter forces the pinning-relevant argument on whichever
// AFSecurityPolicy frame comes through.
func (s *AFNetworkingStrategy) onEnter(env *Env) domain.Func {
	return func(f domain.Frame) {
		switch fr := f.(type) {
		case *SetPinningModeFrame:
			if fr.Mode != afPinningModeNone {
				env.Log.Verbose("forcing SSL pinning mode to none",
					zap.Int64("was", fr.Mode))
				fr.Mode = afPinningModeNone
			}
		case *AllowInvalidCertsFrame:
			if !fr.Allow {
				env.Log.Verbose("forcing allowInvalidCertificates to true")
				fr.Allow = true
			}
		case *PolicyWithPinningModeFrame:
			if fr.Mode != afPinningModeNone {
				env.Log.Verbose("forcing constructor pinning mode to none",
					zap.Int64("was", fr.Mode))
				fr.Mode = afPinningModeNone
			}
		}
	}
}

// Ensure AFNetworkingStrategy implements Strategy.
var _ Strategy = (*AFNetworkingStrategy)(nil)

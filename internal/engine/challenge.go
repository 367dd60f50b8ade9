package engine

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/infra"
)

// ErrCallbackConsumed reports a second invocation of a single-use
// captured callback.
var ErrCallbackConsumed = errors.New("captured callback already invoked")

// Disposition is a completion callback's verdict on a pending trust
// challenge. Values mirror the session API's auth-challenge
// dispositions.
type Disposition int

const (
	// DispositionUseCredential accepts the challenge with the supplied
	// credential.
	DispositionUseCredential Disposition = iota
	// DispositionPerformDefaultHandling defers to system handling.
	DispositionPerformDefaultHandling
	// DispositionCancelChallenge aborts the connection.
	DispositionCancelChallenge
	// DispositionRejectProtectionSpace rejects this protection space.
	DispositionRejectProtectionSpace
)

func (d Disposition) String() string {
	switch d {
	case DispositionUseCredential:
		return "use-credential"
	case DispositionPerformDefaultHandling:
		return "default-handling"
	case DispositionCancelChallenge:
		return "cancel"
	default:
		return "reject-protection-space"
	}
}

// TrustRef identifies the server trust object attached to a challenge.
// Opaque to the engine; only carried into the forged credential.
type TrustRef string

// Credential asserts that a trust decision has been made.
type Credential struct {
	Trust TrustRef
}

// CredentialForTrust constructs a credential accepting the given trust.
func CredentialForTrust(t TrustRef) Credential {
	return Credential{Trust: t}
}

// Challenge is the pending trust decision carried by an intercepted
// call.
type Challenge interface {
	// ServerTrust returns the trust object under evaluation.
	ServerTrust() TrustRef

	// Host returns the peer the challenge is for, for logging.
	Host() string
}

// CompletionFunc is the asynchronous completion callback a caller
// passes into a challenge-carrying call.
type CompletionFunc func(d Disposition, cred *Credential)

// CapturedCallback is the snapshot of a caller-supplied completion
// callback, taken at the moment of interception. Single use: it is
// created at interception, consumed exactly once at forged invocation,
// then dead.
type CapturedCallback struct {
	fn   CompletionFunc
	used atomic.Bool
}

// CaptureCallback snapshots a completion callback's entry point.
func CaptureCallback(fn CompletionFunc) *CapturedCallback {
	return &CapturedCallback{fn: fn}
}

// Invoke drives the original callback. The second and later calls
// return ErrCallbackConsumed without invoking anything.
func (c *CapturedCallback) Invoke(d Disposition, cred *Credential) error {
	if c.used.Swap(true) {
		return ErrCallbackConsumed
	}
	c.fn(d, cred)
	return nil
}

// Consumed reports whether the callback has been invoked.
func (c *CapturedCallback) Consumed() bool {
	return c.used.Load()
}

// ChallengeAccess is the typed view a strategy provides over one hooked
// signature: how to read the challenge, and how to read and replace the
// completion-callback argument slot. One fixed accessor per signature;
// the call's other arguments and internals stay opaque.
type ChallengeAccess struct {
	Challenge     func(domain.Frame) Challenge
	Completion    func(domain.Frame) CompletionFunc
	SetCompletion func(domain.Frame, CompletionFunc)
}

// Adapter intercepts challenge-carrying calls and drives their
// completion callbacks with a forged trusted outcome. Whatever
// accept/reject branching the application intended never runs; trust
// is granted regardless of the real certificate chain.
type Adapter struct {
	log *infra.Sink
}

// NewAdapter creates a challenge-interception adapter.
func NewAdapter(log *infra.Sink) *Adapter {
	return &Adapter{log: log}
}

// OnEnter returns the observation callback implementing the
// interception: it captures the caller's completion callback and
// substitutes a synthetic one in the argument slot before the hooked
// call proceeds.
func (a *Adapter) OnEnter(access ChallengeAccess) domain.Func {
	return func(f domain.Frame) {
		ch := access.Challenge(f)
		captured := CaptureCallback(access.Completion(f))
		access.SetCompletion(f, a.forged(ch, captured))
		a.log.Verbose("challenge intercepted, completion captured",
			zap.String("host", ch.Host()))
	}
}

// forged builds the synthetic completion. When the application's own
// code path eventually invokes it, its arguments are ignored: a
// credential is built from the challenge's server trust and the
// captured original is driven with a use-credential disposition.
func (a *Adapter) forged(ch Challenge, captured *CapturedCallback) CompletionFunc {
	return func(Disposition, *Credential) {
		cred := CredentialForTrust(ch.ServerTrust())
		if err := captured.Invoke(DispositionUseCredential, &cred); err != nil {
			a.log.Warn("completion invoked twice, ignoring",
				zap.String("host", ch.Host()),
				zap.Error(err))
			return
		}
		a.log.Log("trust challenge forged, credential accepted",
			zap.String("host", ch.Host()),
			zap.String("disposition", DispositionUseCredential.String()))
	}
}

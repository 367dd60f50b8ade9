package bypass

import (
	"github.com/gand3lf/unpin/internal/engine"
)

// One typed call frame per hooked signature. The embedding process and
// the hooks share these shapes; a hook mutating a field is seen by the
// original implementation and, for return fields, by the caller. Using
// a fixed struct per signature instead of an indexed argument list
// removes the off-by-one and type-confusion hazards of generic access.

// SetPinningModeFrame is -[AFSecurityPolicy setSSLPinningMode:].
type SetPinningModeFrame struct {
	Mode int64
}

// AllowInvalidCertsFrame is
// -[AFSecurityPolicy setAllowInvalidCertificates:].
type AllowInvalidCertsFrame struct {
	Allow bool
}

// PolicyWithPinningModeFrame covers both AFSecurityPolicy class
// constructors; PinnedCertificates is nil for the single-argument one.
type PolicyWithPinningModeFrame struct {
	Mode               int64
	PinnedCertificates []string
	Policy             any // return: the constructed policy
}

// URLSessionChallengeFrame is the delegate method
// URLSession:didReceiveChallenge:completionHandler:.
type URLSessionChallengeFrame struct {
	Session    any
	Challenge  engine.Challenge
	Completion engine.CompletionFunc
}

// EvaluateTrustFrame is -[TSKPinningValidator evaluateTrust:forHostname:].
type EvaluateTrustFrame struct {
	Trust    engine.TrustRef
	Hostname string
	Decision int64 // return
}

// FingerprintTrustedFrame is
// -[CustomURLConnectionDelegate isFingerprintTrusted:].
type FingerprintTrustedFrame struct {
	Fingerprint string
	Trusted     bool // return
}

// SetSessionOptionFrame is SSLSetSessionOption.
type SetSessionOptionFrame struct {
	Context any
	Option  int32
	Value   bool
	Status  int32 // return
}

// CreateContextFrame is SSLCreateContext.
type CreateContextFrame struct {
	ProtocolSide   int32
	ConnectionType int32
	Context        any // return: the freshly created context
}

// HandshakeFrame is SSLHandshake.
type HandshakeFrame struct {
	Context any
	Result  int32 // return
}

// TrustEvaluateFrame is SecTrustEvaluate.
type TrustEvaluateFrame struct {
	Trust  engine.TrustRef
	Result int32 // out: trust result type
	Status int32 // return
}

// TrustEvaluateWithErrorFrame is SecTrustEvaluateWithError.
type TrustEvaluateWithErrorFrame struct {
	Trust engine.TrustRef
	OK    bool   // return
	Error string // out: failure description when !OK
}

// VerifyCallback is a custom certificate-verify callback as installed
// into a TLS connection or context.
type VerifyCallback func(conn any) int32

// SetCustomVerifyFrame covers SSL_set_custom_verify and its
// context-level fallback SSL_CTX_set_custom_verify.
type SetCustomVerifyFrame struct {
	Conn   any
	Mode   int32
	Verify VerifyCallback
}

// PSKIdentityFrame is SSL_get_psk_identity.
type PSKIdentityFrame struct {
	Conn     any
	Identity string // return
}

package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
)

const (
	symSetCustomVerify    = "SSL_set_custom_verify"
	symCtxSetCustomVerify = "SSL_CTX_set_custom_verify"
	symGetPSKIdentity     = "SSL_get_psk_identity"

	// ssl_verify_ok
	verifyOK int32 = 0

	// Returned by the identity-lookup replacement so callers that
	// inspect the PSK identity see a stable placeholder.
	pskIdentityPlaceholder = "fakePSKidentity"
)

// BoringSSLStrategy defeats the modern TLS library's custom-verify
// mechanism. The verify-installer is replaced so whatever callback the
// application supplies is swapped for a synthetic one that always
// reports success; the connection-level name is preferred and the
// context-level name is the fallback. The companion identity lookup is
// replaced to return a fixed placeholder.
type BoringSSLStrategy struct{}

// NewBoringSSLStrategy creates the custom-verify bypass.
func NewBoringSSLStrategy() *BoringSSLStrategy {
	return &BoringSSLStrategy{}
}

func (s *BoringSSLStrategy) ID() string   { return "boringssl" }
func (s *BoringSSLStrategy) Name() string { return "BoringSSL custom verify" }

func (s *BoringSSLStrategy) Apply(ctx context.Context, env *Env) Result {
	installerSym := symSetCustomVerify
	verify := env.Resolver.Resolve(domain.ExportSymbol(installerSym))
	if !verify.Found() {
		// Partial capability: retry with the fallback name before
		// concluding absence.
		installerSym = symCtxSetCustomVerify
		verify = env.Resolver.Resolve(domain.ExportSymbol(installerSym))
	}
	if !verify.Found() {
		return notFound(s.ID())
	}

	hooks := 0

	rep := func(f domain.Frame, original domain.Func) {
		fr := f.(*SetCustomVerifyFrame)
		if fr.Verify != nil {
			env.Log.Verbose("replacing application verify callback",
				zap.String("symbol", installerSym))
		}
		fr.Verify = func(conn any) int32 {
			env.Log.Verbose("custom verify forged to success")
			return verifyOK
		}
		original(f)
	}
	h, err := env.Installer.InstallReplacement(verify.Matches[0].Addr, rep)
	if err != nil {
		return failed(s.ID(), err)
	}
	if err := env.Job.RecordReplacement(verify.Matches[0].Addr, h); err != nil {
		return failed(s.ID(), err)
	}
	hooks++

	if psk := env.Resolver.Resolve(domain.ExportSymbol(symGetPSKIdentity)); psk.Found() {
		pskRep := func(f domain.Frame, _ domain.Func) {
			f.(*PSKIdentityFrame).Identity = pskIdentityPlaceholder
		}
		h, err := env.Installer.InstallReplacement(psk.Matches[0].Addr, pskRep)
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordReplacement(psk.Matches[0].Addr, h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
	}

	return hooked(s.ID(), hooks)
}

// Ensure BoringSSLStrategy implements Strategy.
var _ Strategy = (*BoringSSLStrategy)(nil)

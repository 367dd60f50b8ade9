package bypass

import (
	"context"

	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
)

const (
	symSetSessionOption = "SSLSetSessionOption"
	symCreateContext    = "SSLCreateContext"
	symHandshake        = "SSLHandshake"

	// kSSLSessionOptionBreakOnServerAuth
	sessionOptionBreakOnServerAuth int32 = 0
	// errSecSuccess / noErr
	errSecSuccess int32 = 0
	// errSSLServerAuthCompleted
	errServerAuthCompleted int32 = -9841
)

// SecureTransportStrategy defeats the legacy transport-security API
// with three replacements:
//
//   - SSLSetSessionOption: enabling break-on-server-auth is silently
//     dropped and reported as success; everything else calls through.
//   - SSLCreateContext: calls through, then forces break-on-server-auth
//     off on the freshly created context.
//   - SSLHandshake: calls through; when the result is the
//     server-auth-completed code, performs a second handshake call and
//     returns that second result instead.
type SecureTransportStrategy struct{}

// NewSecureTransportStrategy creates the legacy transport-security
// bypass.
func NewSecureTransportStrategy() *SecureTransportStrategy {
	return &SecureTransportStrategy{}
}

func (s *SecureTransportStrategy) ID() string   { return "securetransport" }
func (s *SecureTransportStrategy) Name() string { return "SecureTransport (legacy TLS API)" }

func (s *SecureTransportStrategy) Apply(ctx context.Context, env *Env) Result {
	setOpt := env.Resolver.Resolve(domain.ExportSymbol(symSetSessionOption))
	create := env.Resolver.Resolve(domain.ExportSymbol(symCreateContext))
	handshake := env.Resolver.Resolve(domain.ExportSymbol(symHandshake))

	if !setOpt.Found() && !create.Found() && !handshake.Found() {
		return notFound(s.ID())
	}

	hooks := 0

	if setOpt.Found() {
		h, err := env.Installer.InstallReplacement(setOpt.Matches[0].Addr, s.setSessionOption(env))
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordReplacement(setOpt.Matches[0].Addr, h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
	}

	if create.Found() {
		// The post-create forcing goes back through the image so the
		// real setter runs; disabling the option is always passed
		// through by the setter replacement above.
		var setOptAddr domain.Address
		if setOpt.Found() {
			setOptAddr = setOpt.Matches[0].Addr
		}
		h, err := env.Installer.InstallReplacement(create.Matches[0].Addr, s.createContext(env, setOptAddr))
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordReplacement(create.Matches[0].Addr, h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
	}

	if handshake.Found() {
		h, err := env.Installer.InstallReplacement(handshake.Matches[0].Addr, s.handshake(env))
		if err != nil {
			return failed(s.ID(), err)
		}
		if err := env.Job.RecordReplacement(handshake.Matches[0].Addr, h); err != nil {
			return failed(s.ID(), err)
		}
		hooks++
	}

	return hooked(s.ID(), hooks)
}

func (s *SecureTransportStrategy) setSessionOption(env *Env) engine.Replacement {
	return func(f domain.Frame, original domain.Func) {
		fr := f.(*SetSessionOptionFrame)
		if fr.Option == sessionOptionBreakOnServerAuth && fr.Value {
			// The caller wants manual server-auth verification; deny it
			// the break point but tell it everything went fine.
			env.Log.Verbose("dropped break-on-server-auth request, reporting success")
			fr.Status = errSecSuccess
			return
		}
		original(f)
	}
}

func (s *SecureTransportStrategy) createContext(env *Env, setOptAddr domain.Address) engine.Replacement {
	return func(f domain.Frame, original domain.Func) {
		original(f)
		fr := f.(*CreateContextFrame)
		if fr.Context == nil || setOptAddr == 0 {
			return
		}
		off := &SetSessionOptionFrame{
			Context: fr.Context,
			Option:  sessionOptionBreakOnServerAuth,
			Value:   false,
		}
		if err := env.Image.Call(setOptAddr, off); err != nil {
			env.Log.Warn("failed to clear break-on-server-auth on new context",
				zap.Error(err))
			return
		}
		env.Log.Verbose("cleared break-on-server-auth on new context")
	}
}

func (s *SecureTransportStrategy) handshake(env *Env) engine.Replacement {
	return func(f domain.Frame, original domain.Func) {
		original(f)
		fr := f.(*HandshakeFrame)
		if fr.Result == errServerAuthCompleted {
			// The break point fired despite everything; push the
			// handshake past it and hand the caller the second result.
			env.Log.Verbose("server auth break hit, continuing handshake",
				zap.Int32("result", fr.Result))
			original(f)
		}
	}
}

// Ensure SecureTransportStrategy implements Strategy.
var _ Strategy = (*SecureTransportStrategy)(nil)

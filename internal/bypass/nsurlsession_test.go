package bypass

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/image"
)

type testChallenge struct {
	trust engine.TrustRef
	host  string
}

func (c *testChallenge) ServerTrust() engine.TrustRef { return c.trust }
func (c *testChallenge) Host() string                 { return c.host }

// pinningDelegate simulates an application delegate that evaluates the
// pin and cancels the connection on mismatch.
func pinningDelegate(rejections *int) domain.Func {
	return func(f domain.Frame) {
		fr := f.(*URLSessionChallengeFrame)
		// Pin check "fails"; the app rejects the connection.
		*rejections++
		fr.Completion(engine.DispositionCancelChallenge, nil)
	}
}

func TestURLSession_AbsenceIsNotFound(t *testing.T) {
	env, job := newTestEnv(image.NewRegistry())

	res := NewURLSessionStrategy().Apply(context.Background(), env)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Zero(t, job.total())
}

func TestURLSession_HooksEveryDelegateClass(t *testing.T) {
	reg := image.NewRegistry()
	rejections := 0
	a := reg.AddClass("APIDelegate").AddMethod(selURLSessionChallenge, pinningDelegate(&rejections))
	b := reg.AddClass("LoginDelegate").AddMethod(selURLSessionChallenge, pinningDelegate(&rejections))
	env, job := newTestEnv(reg)

	res := NewURLSessionStrategy().Apply(context.Background(), env)
	require.Equal(t, OutcomeHooked, res.Outcome)
	assert.Equal(t, 2, res.Hooks)
	assert.Equal(t, 2, len(job.observations))

	for _, addr := range []domain.Address{a, b} {
		var gotDisposition engine.Disposition
		var gotCred *engine.Credential
		completions := 0

		fr := &URLSessionChallengeFrame{
			Challenge: &testChallenge{trust: "server-trust-T", host: "pinned.example.com"},
			Completion: func(d engine.Disposition, cred *engine.Credential) {
				completions++
				gotDisposition = d
				gotCred = cred
			},
		}
		require.NoError(t, reg.Call(addr, fr))

		// The delegate ran and rejected, but the caller's completion
		// saw exactly one forged use-credential verdict.
		require.Equal(t, 1, completions)
		assert.Equal(t, engine.DispositionUseCredential, gotDisposition)
		require.NotNil(t, gotCred)
		assert.Equal(t, engine.TrustRef("server-trust-T"), gotCred.Trust)
	}
	assert.Equal(t, 2, rejections, "application logic still runs, its verdict is discarded")
}

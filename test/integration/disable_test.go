//go:build integration

package integration

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gand3lf/unpin/internal/bypass"
	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/image"
	"github.com/gand3lf/unpin/internal/infra"
	"github.com/gand3lf/unpin/internal/job"
	"github.com/gand3lf/unpin/internal/usecase"
)

// serverChallenge is the trust challenge the simulated session hands to
// its delegate.
type serverChallenge struct {
	host  string
	trust engine.TrustRef
}

func (c *serverChallenge) ServerTrust() engine.TrustRef { return c.trust }
func (c *serverChallenge) Host() string                 { return c.host }

// tlsContext backs the legacy transport-security exports.
type tlsContext struct {
	breakOnServerAuth bool
	authBroken        bool
}

// tlsConn backs the custom-verify exports.
type tlsConn struct {
	verify bypass.VerifyCallback
	psk    string
}

// pinnedApp is a synthetic image populated with every pinning mechanism
// the strategies target, each wired to reject untrusted peers the way a
// pinning-enabled application would.
type pinnedApp struct {
	reg *image.Registry

	policyMode   int64
	allowInvalid bool
	rejections   int
	evaluations  int

	setModeAddr   domain.Address
	challengeAddr domain.Address
	trustKitAddr  domain.Address
	cordovaAddr   domain.Address
	setOptAddr    domain.Address
	createAddr    domain.Address
	handshakeAddr domain.Address
	evaluateAddr  domain.Address
	withErrAddr   domain.Address
	setVerifyAddr domain.Address
	pskAddr       domain.Address
}

func newPinnedApp() *pinnedApp {
	app := &pinnedApp{reg: image.NewRegistry(), policyMode: 2, allowInvalid: false}

	policy := app.reg.AddClass("AFSecurityPolicy")
	app.setModeAddr = policy.AddMethod("setSSLPinningMode:", func(f domain.Frame) {
		app.policyMode = f.(*bypass.SetPinningModeFrame).Mode
	})
	policy.AddMethod("setAllowInvalidCertificates:", func(f domain.Frame) {
		app.allowInvalid = f.(*bypass.AllowInvalidCertsFrame).Allow
	})
	policy.AddMethod("policyWithPinningMode:", func(f domain.Frame) {
		fr := f.(*bypass.PolicyWithPinningModeFrame)
		fr.Policy = fr.Mode
	})
	policy.AddMethod("policyWithPinningMode:withPinnedCertificates:", func(f domain.Frame) {
		fr := f.(*bypass.PolicyWithPinningModeFrame)
		fr.Policy = fr.Mode
	})

	// The delegate rejects every challenge: its pin never matches the
	// synthetic server.
	delegate := app.reg.AddClass("PinnedSessionDelegate")
	app.challengeAddr = delegate.AddMethod("URLSession:didReceiveChallenge:completionHandler:",
		func(f domain.Frame) {
			fr := f.(*bypass.URLSessionChallengeFrame)
			app.rejections++
			fr.Completion(engine.DispositionCancelChallenge, nil)
		})

	validator := app.reg.AddClass("TSKPinningValidator")
	app.trustKitAddr = validator.AddMethod("evaluateTrust:forHostname:", func(f domain.Frame) {
		f.(*bypass.EvaluateTrustFrame).Decision = 2 // block connection
	})

	checker := app.reg.AddClass("CustomURLConnectionDelegate")
	app.cordovaAddr = checker.AddMethod("isFingerprintTrusted:", func(f domain.Frame) {
		f.(*bypass.FingerprintTrustedFrame).Trusted = false
	})

	app.setOptAddr = app.reg.AddExport("SSLSetSessionOption", func(f domain.Frame) {
		fr := f.(*bypass.SetSessionOptionFrame)
		if fr.Option == 0 { // break on server auth
			fr.Context.(*tlsContext).breakOnServerAuth = fr.Value
		}
		fr.Status = 0
	})
	app.createAddr = app.reg.AddExport("SSLCreateContext", func(f domain.Frame) {
		f.(*bypass.CreateContextFrame).Context = &tlsContext{}
	})
	app.handshakeAddr = app.reg.AddExport("SSLHandshake", func(f domain.Frame) {
		fr := f.(*bypass.HandshakeFrame)
		ctx := fr.Context.(*tlsContext)
		if ctx.breakOnServerAuth && !ctx.authBroken {
			ctx.authBroken = true
			fr.Result = -9841
			return
		}
		fr.Result = 0
	})

	app.evaluateAddr = app.reg.AddExport("SecTrustEvaluate", func(f domain.Frame) {
		fr := f.(*bypass.TrustEvaluateFrame)
		app.evaluations++
		fr.Result = 5 // recoverable trust failure
		fr.Status = 0
	})
	app.withErrAddr = app.reg.AddExport("SecTrustEvaluateWithError", func(f domain.Frame) {
		fr := f.(*bypass.TrustEvaluateWithErrorFrame)
		fr.OK = false
		fr.Error = "certificate pin mismatch"
	})

	app.setVerifyAddr = app.reg.AddExport("SSL_set_custom_verify", func(f domain.Frame) {
		fr := f.(*bypass.SetCustomVerifyFrame)
		fr.Conn.(*tlsConn).verify = fr.Verify
	})
	app.pskAddr = app.reg.AddExport("SSL_get_psk_identity", func(f domain.Frame) {
		fr := f.(*bypass.PSKIdentityFrame)
		fr.Identity = fr.Conn.(*tlsConn).psk
	})

	return app
}

// connect simulates the session framework delivering a trust challenge
// to the delegate and returns the verdict the framework's completion
// callback received.
func (app *pinnedApp) connect(host string) (engine.Disposition, *engine.Credential) {
	var (
		disp engine.Disposition
		cred *engine.Credential
		done bool
	)
	fr := &bypass.URLSessionChallengeFrame{
		Session:   "session",
		Challenge: &serverChallenge{host: host, trust: engine.TrustRef("trust-" + host)},
		Completion: func(d engine.Disposition, c *engine.Credential) {
			disp, cred, done = d, c, true
		},
	}
	Expect(app.reg.Call(app.challengeAddr, fr)).To(Succeed())
	Expect(done).To(BeTrue(), "completion callback must have been driven")
	return disp, cred
}

var _ = Describe("Disable", func() {
	var (
		app     *pinnedApp
		manager *job.Manager
		report  *usecase.Report
		results map[string]bypass.Result
	)

	BeforeEach(func() {
		app = newPinnedApp()
		sink := infra.NewNopSink()
		manager = job.NewManager(sink)
		d := usecase.NewDisabler(app.reg, bypass.NewRegistry(), manager, sink)

		var err error
		report, err = d.Disable(context.Background())
		Expect(err).NotTo(HaveOccurred())

		results = make(map[string]bypass.Result, len(report.Results))
		for _, res := range report.Results {
			results[res.StrategyID] = res
		}
	})

	It("hooks every mechanism present in the image", func() {
		Expect(report.Hooked()).To(Equal(7))
		Expect(report.NotFound()).To(BeZero())
		Expect(report.Limited()).To(BeZero())
		Expect(report.Failed()).To(BeZero())

		Expect(results["afnetworking"].Hooks).To(Equal(4))
		Expect(results["nsurlsession"].Hooks).To(Equal(1))
		Expect(results["trustkit"].Hooks).To(Equal(1))
		Expect(results["cordova"].Hooks).To(Equal(1))
		Expect(results["securetransport"].Hooks).To(Equal(3))
		Expect(results["sectrust"].Hooks).To(Equal(2))
		Expect(results["boringssl"].Hooks).To(Equal(2))

		Expect(report.Job.HookCount()).To(Equal(14))
	})

	It("notes the second-generation trust API limitation", func() {
		Expect(results["sectrust"].Outcome).To(Equal(bypass.OutcomeHooked))
		Expect(results["sectrust"].Note).To(ContainSubstring("no working bypass"))
	})

	It("forces the security policy to no pinning", func() {
		Expect(app.reg.Call(app.setModeAddr, &bypass.SetPinningModeFrame{Mode: 2})).To(Succeed())
		Expect(app.policyMode).To(BeZero())

		fr := &bypass.PolicyWithPinningModeFrame{Mode: 2}
		constructor, ok := app.reg.MethodAddr("AFSecurityPolicy", "policyWithPinningMode:")
		Expect(ok).To(BeTrue())
		Expect(app.reg.Call(constructor, fr)).To(Succeed())
		Expect(fr.Policy).To(Equal(int64(0)))
	})

	It("forges the session trust challenge despite the delegate's rejection", func() {
		disp, cred := app.connect("pinned.example.com")

		Expect(disp).To(Equal(engine.DispositionUseCredential))
		Expect(cred).NotTo(BeNil())
		Expect(cred.Trust).To(Equal(engine.TrustRef("trust-pinned.example.com")))
		Expect(app.rejections).To(Equal(1), "delegate's own logic still ran")
	})

	It("overwrites the pinning validator's verdict", func() {
		fr := &bypass.EvaluateTrustFrame{Trust: "t", Hostname: "pinned.example.com"}
		Expect(app.reg.Call(app.trustKitAddr, fr)).To(Succeed())
		Expect(fr.Decision).To(Equal(int64(1)))
	})

	It("trusts every fingerprint the plugin checks", func() {
		fr := &bypass.FingerprintTrustedFrame{Fingerprint: "ab:cd"}
		Expect(app.reg.Call(app.cordovaAddr, fr)).To(Succeed())
		Expect(fr.Trusted).To(BeTrue())
	})

	It("completes a legacy handshake without a server-auth break", func() {
		create := &bypass.CreateContextFrame{}
		Expect(app.reg.Call(app.createAddr, create)).To(Succeed())

		set := &bypass.SetSessionOptionFrame{Context: create.Context, Option: 0, Value: true}
		Expect(app.reg.Call(app.setOptAddr, set)).To(Succeed())
		Expect(set.Status).To(Equal(int32(0)))
		Expect(create.Context.(*tlsContext).breakOnServerAuth).To(BeFalse(),
			"break-on-server-auth request must have been dropped")

		hs := &bypass.HandshakeFrame{Context: create.Context}
		Expect(app.reg.Call(app.handshakeAddr, hs)).To(Succeed())
		Expect(hs.Result).To(Equal(int32(0)))
	})

	It("pushes a pre-configured handshake past the auth break", func() {
		// Context configured before injection, break point already armed.
		hs := &bypass.HandshakeFrame{Context: &tlsContext{breakOnServerAuth: true}}
		Expect(app.reg.Call(app.handshakeAddr, hs)).To(Succeed())
		Expect(hs.Result).To(Equal(int32(0)))
	})

	It("forces first-generation trust evaluation to proceed", func() {
		fr := &bypass.TrustEvaluateFrame{Trust: "t"}
		Expect(app.reg.Call(app.evaluateAddr, fr)).To(Succeed())
		Expect(fr.Result).To(Equal(int32(1)))
		Expect(fr.Status).To(Equal(int32(0)))
		Expect(app.evaluations).To(BeZero(), "real evaluation must not run")
	})

	It("observes second-generation trust evaluation without altering it", func() {
		fr := &bypass.TrustEvaluateWithErrorFrame{Trust: "t"}
		Expect(app.reg.Call(app.withErrAddr, fr)).To(Succeed())
		Expect(fr.OK).To(BeFalse())
		Expect(fr.Error).To(Equal("certificate pin mismatch"))
	})

	It("substitutes the application's custom verify callback", func() {
		conn := &tlsConn{psk: "real-identity"}
		strict := func(any) int32 { return 3 }
		Expect(app.reg.Call(app.setVerifyAddr, &bypass.SetCustomVerifyFrame{
			Conn:   conn,
			Verify: strict,
		})).To(Succeed())

		Expect(conn.verify).NotTo(BeNil())
		Expect(conn.verify(conn)).To(Equal(int32(0)))

		psk := &bypass.PSKIdentityFrame{Conn: conn}
		Expect(app.reg.Call(app.pskAddr, psk)).To(Succeed())
		Expect(psk.Identity).To(Equal("fakePSKidentity"))
	})

	Context("after tearing the job down", func() {
		BeforeEach(func() {
			Expect(manager.Teardown(report.Job.ID())).To(Succeed())
		})

		It("drops the job from the manager", func() {
			_, ok := manager.Get(report.Job.ID())
			Expect(ok).To(BeFalse())
		})

		It("restores the original pinning behavior", func() {
			Expect(app.reg.Call(app.setModeAddr, &bypass.SetPinningModeFrame{Mode: 2})).To(Succeed())
			Expect(app.policyMode).To(Equal(int64(2)))

			tk := &bypass.EvaluateTrustFrame{Trust: "t", Hostname: "pinned.example.com"}
			Expect(app.reg.Call(app.trustKitAddr, tk)).To(Succeed())
			Expect(tk.Decision).To(Equal(int64(2)), "validator blocks again")

			fr := &bypass.TrustEvaluateFrame{Trust: "t"}
			Expect(app.reg.Call(app.evaluateAddr, fr)).To(Succeed())
			Expect(fr.Result).To(Equal(int32(5)))
			Expect(app.evaluations).To(Equal(1))

			hs := &bypass.HandshakeFrame{Context: &tlsContext{breakOnServerAuth: true}}
			Expect(app.reg.Call(app.handshakeAddr, hs)).To(Succeed())
			Expect(hs.Result).To(Equal(int32(-9841)), "auth break fires again")
		})

		It("delivers the delegate's real rejection", func() {
			disp, cred := app.connect("pinned.example.com")
			Expect(disp).To(Equal(engine.DispositionCancelChallenge))
			Expect(cred).To(BeNil())
		})
	})
})

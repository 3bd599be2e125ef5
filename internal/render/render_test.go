package render

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"nani/internal/domain"
	"nani/internal/gate"
)

func newPlainRenderer(t *testing.T) (*Renderer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
	var buf bytes.Buffer
	return New(&buf, ThemeFor("kapha", time.Now())), &buf
}

func TestTurnPrefixes(t *testing.T) {
	r, buf := newPlainRenderer(t)
	r.Turn(domain.TurnUser, "hello")
	r.Turn(domain.TurnAssistant, "namaste")
	out := buf.String()
	if !strings.Contains(out, "you> hello") {
		t.Fatalf("missing user line: %q", out)
	}
	if !strings.Contains(out, "nani> ") || !strings.Contains(out, "namaste") {
		t.Fatalf("missing assistant line: %q", out)
	}
}

func TestBannerVariants(t *testing.T) {
	trial := domain.Entitlement{Role: domain.RoleTrial, TrialActive: true, DaysLeft: 3}
	lapsed := domain.Entitlement{Role: domain.RoleFree}
	paid := domain.Entitlement{Role: domain.RolePremium, Subscribed: true}

	cases := []struct {
		name string
		st   gate.State
		want string
	}{
		{"trial countdown", gate.State{Authenticated: true, EntitlementKnown: true, Entitlement: trial, UpgradeBanner: true}, "3 days left"},
		{"single day", gate.State{Authenticated: true, EntitlementKnown: true, Entitlement: domain.Entitlement{Role: domain.RoleTrial, TrialActive: true, DaysLeft: 1}, UpgradeBanner: true}, "1 day left"},
		{"hard gate", gate.State{Authenticated: true, EntitlementKnown: true, Entitlement: lapsed, HardGate: true}, "trial has ended"},
		{"subscriber", gate.State{Authenticated: true, EntitlementKnown: true, Entitlement: paid}, ""},
		{"signed out", gate.State{}, ""},
	}
	for _, tc := range cases {
		r, buf := newPlainRenderer(t)
		r.Banner(tc.st)
		out := buf.String()
		if tc.want == "" {
			if out != "" {
				t.Fatalf("%s: expected no banner, got %q", tc.name, out)
			}
			continue
		}
		if !strings.Contains(out, tc.want) {
			t.Fatalf("%s: output %q missing %q", tc.name, out, tc.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: dial tcp refused", domain.ErrNetwork), "Network error. Try again."},
		{fmt.Errorf("%w: token expired", domain.ErrAuth), "Please sign in again."},
		{domain.ErrGated, "Upgrade with /upgrade"},
		{fmt.Errorf("%w: still checking your plan, try again in a moment", domain.ErrGated), "still checking your plan"},
		{fmt.Errorf("%w: type a question first", domain.ErrValidation), "type a question first"},
		{fmt.Errorf("%w: status 502", domain.ErrServer), "Something went wrong"},
	}
	for _, tc := range cases {
		r, buf := newPlainRenderer(t)
		r.Error(tc.err)
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("Error(%v) = %q, want substring %q", tc.err, buf.String(), tc.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	r, buf := newPlainRenderer(t)
	r.Status(gate.State{Authenticated: true, Email: "mia@example.com", EntitlementKnown: true, Entitlement: domain.Entitlement{Role: domain.RolePremium}})
	if !strings.Contains(buf.String(), "mia@example.com") || !strings.Contains(buf.String(), "premium") {
		t.Fatalf("status = %q", buf.String())
	}

	r, buf = newPlainRenderer(t)
	r.Status(gate.State{})
	if !strings.Contains(buf.String(), "/login") {
		t.Fatalf("signed-out status = %q", buf.String())
	}
}

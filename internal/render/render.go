// Package render writes the chat transcript and status lines to a terminal.
// Colors come from the active Theme; fatih/color disables them on dumb
// terminals and when NO_COLOR is set, so callers never need to check.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"nani/internal/domain"
	"nani/internal/gate"
)

type Renderer struct {
	out   io.Writer
	theme Theme
}

func New(out io.Writer, theme Theme) *Renderer {
	return &Renderer{out: out, theme: theme}
}

// Turn prints a single conversation turn as a prompt-prefixed line.
func (r *Renderer) Turn(role domain.TurnRole, text string) {
	switch role {
	case domain.TurnUser:
		r.theme.User.Fprint(r.out, "you> ")
		fmt.Fprintln(r.out, text)
	default:
		r.theme.Accent.Fprint(r.out, "nani> ")
		r.theme.Assistant.Fprintln(r.out, text)
	}
}

// Typing prints the pending-query indicator.
func (r *Renderer) Typing() {
	r.theme.Muted.Fprintln(r.out, "nani is thinking...")
}

// Banner prints whatever entitlement notice the current state calls for:
// a trial countdown for active trials, the upgrade notice once the trial
// has lapsed, nothing for subscribers.
func (r *Renderer) Banner(st gate.State) {
	if !st.Authenticated || !st.EntitlementKnown {
		return
	}
	ent := st.Entitlement
	if st.HardGate {
		r.theme.Warn.Fprintln(r.out, "Your free trial has ended. Upgrade to keep chatting with Nani (/upgrade).")
		return
	}
	if st.UpgradeBanner {
		word := "days"
		if ent.DaysLeft == 1 {
			word = "day"
		}
		r.theme.Accent.Fprintf(r.out, "Trial: %d %s left. Upgrade anytime with /upgrade.\n", ent.DaysLeft, word)
	}
}

// Status prints the session line shown at startup and after /account.
func (r *Renderer) Status(st gate.State) {
	if !st.Authenticated {
		r.theme.Muted.Fprintln(r.out, "Not signed in. Use /login <email> or /google to begin.")
		return
	}
	plan := "free"
	if st.EntitlementKnown {
		plan = string(st.Entitlement.Role)
	}
	r.theme.Muted.Fprintf(r.out, "Signed in as %s (%s plan)\n", st.Email, plan)
}

func (r *Renderer) Info(format string, args ...any) {
	r.theme.Muted.Fprintf(r.out, format+"\n", args...)
}

// Error maps a failure to the message the user sees. The wording for
// network and auth failures matches what the widget has always shown.
func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	var msg string
	switch domain.Classify(err) {
	case domain.KindNetwork:
		msg = "Network error. Try again."
	case domain.KindAuth:
		msg = "Please sign in again."
	case domain.KindGated:
		msg = trimSentinel(err, domain.ErrGated, "Chat is locked. Upgrade with /upgrade to continue.")
	case domain.KindValidation:
		msg = trimSentinel(err, domain.ErrValidation, "Invalid input.")
	default:
		msg = "Something went wrong. Please try again."
	}
	r.theme.Warn.Fprintf(r.out, "⚠ %s\n", msg)
}

// trimSentinel strips the wrapping sentinel's text so the wrapped detail
// reads as plain guidance rather than an error chain. A bare sentinel with
// no detail gets the fallback.
func trimSentinel(err error, sentinel error, fallback string) string {
	msg := err.Error()
	if errors.Is(err, sentinel) {
		msg = strings.TrimPrefix(msg, sentinel.Error())
		msg = strings.TrimPrefix(msg, ": ")
	}
	if msg == "" {
		msg = fallback
	}
	return msg
}

package domain

// Role enumerates the usage tiers reported by the entitlement endpoint.
type Role string

const (
	RoleFree    Role = "free"
	RoleTrial   Role = "trial"
	RolePremium Role = "premium"
)

// Entitlement is the usage-rights record fetched from the back end. It is
// never mutated locally; a refetch replaces it entirely.
type Entitlement struct {
	Role        Role   `json:"role"`
	TrialActive bool   `json:"trial_active"`
	DaysLeft    int    `json:"days_left"`
	Subscribed  bool   `json:"subscribed"`
	Email       string `json:"email,omitempty"`
}

// ChatAllowed reports whether this entitlement permits sending queries.
// A subscription always permits chat, regardless of trial state.
func (e Entitlement) ChatAllowed() bool {
	return e.Subscribed || e.TrialActive
}

// UpgradeBanner reports whether the soft upgrade prompt should show:
// the user is on an active trial but has not subscribed.
func (e Entitlement) UpgradeBanner() bool {
	return !e.Subscribed && e.TrialActive
}

// HardGate reports whether chat must be blocked and the upgrade path
// surfaced: no subscription and the trial has lapsed.
func (e Entitlement) HardGate() bool {
	return !e.Subscribed && !e.TrialActive
}

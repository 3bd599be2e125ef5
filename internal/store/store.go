// Package store persists the client's local state: the cached token pair
// (the terminal counterpart of the widget's localStorage keys) and the
// conversation transcript log.
package store

import (
	"time"

	"nani/internal/domain"
)

// Credentials is the locally cached token pair and account email. It is
// written on every auth-state change and wiped entirely on sign-out.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Email        string
}

// TranscriptEntry is one persisted conversation turn. Latency is recorded
// on assistant turns only, measured over the full round trip.
type TranscriptEntry struct {
	ID        int64
	Role      domain.TurnRole
	Content   string
	LatencyMS int64
	CreatedAt time.Time
}

// UsageStats summarizes local query activity for the stats command.
type UsageStats struct {
	Queries       int64
	MeanLatencyMS int64
	LastQueryAt   time.Time
}

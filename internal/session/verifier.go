package session

import (
	"strings"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/portal"
)

// PageState is the snapshot of an open page that login verification runs on.
// HasBearerToken reflects the tap's accumulated tokens: some portal surfaces
// authenticate with a bearer token and never set a session cookie.
type PageState struct {
	URL              string
	HasPasswordInput bool
	Cookies          []browser.Cookie
	HasBearerToken   bool
}

// Outcome is the result of one verification poll.
type Outcome int

const (
	// OutcomeNotYet means the page does not look logged in.
	OutcomeNotYet Outcome = iota
	// OutcomeCandidate means the page looks logged in but the settle
	// interval has not elapsed since the first passing evaluation.
	OutcomeCandidate
	// OutcomePromoted means the page still looked logged in on a fresh
	// evaluation after the settle interval. This is the point of no return:
	// a promoted session never demotes.
	OutcomePromoted
)

// Verifier decides whether a capture's page has reached a stable logged-in
// state. Promotion is two-phase: the first passing evaluation only records a
// candidate timestamp, and a later poll must pass again after the settle
// interval. Transient post-login redirects through login-family URLs
// therefore never promote.
type Verifier struct {
	profile *portal.Profile
	settle  time.Duration
}

func NewVerifier(profile *portal.Profile, settle time.Duration) *Verifier {
	return &Verifier{profile: profile, settle: settle}
}

// Evaluate reports whether the page currently looks logged in: off the login
// flow, no password input rendered, and session material present, either a
// session-bearing cookie or a captured bearer token.
func (v *Verifier) Evaluate(st PageState) bool {
	if v.profile.IsLoginAddress(st.URL) {
		return false
	}
	if st.HasPasswordInput {
		return false
	}
	return HasSessionCookie(st.Cookies, v.profile.SessionCookie) || st.HasBearerToken
}

// Decide runs the two-phase check against a fresh page state. candidateAt is
// the timestamp recorded by the first passing evaluation (zero when none);
// the returned time is the candidate timestamp to carry into the next poll,
// zero when the evaluation failed.
func (v *Verifier) Decide(st PageState, candidateAt, now time.Time) (Outcome, time.Time) {
	if !v.Evaluate(st) {
		return OutcomeNotYet, time.Time{}
	}
	if candidateAt.IsZero() {
		return OutcomeCandidate, now
	}
	if now.Sub(candidateAt) >= v.settle {
		return OutcomePromoted, candidateAt
	}
	return OutcomeCandidate, candidateAt
}

// HasSessionCookie reports whether any cookie carries session material: the
// portal's canonical session cookie by exact name, or any cookie whose name
// mentions session or auth.
func HasSessionCookie(cookies []browser.Cookie, canonical string) bool {
	for _, c := range cookies {
		if c.Name == canonical {
			return true
		}
		name := strings.ToLower(c.Name)
		if strings.Contains(name, "session") || strings.Contains(name, "auth") {
			return true
		}
	}
	return false
}

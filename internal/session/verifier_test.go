package session

import (
	"testing"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/portal"
)

func sessionCookies() []browser.Cookie {
	return []browser.Cookie{{Name: "PHPSESSID", Value: "abc123"}}
}

func TestVerifierEvaluate(t *testing.T) {
	v := NewVerifier(portal.Default(), 2*time.Second)

	cases := []struct {
		name string
		st   PageState
		want bool
	}{
		{"logged in", PageState{URL: "https://www.adda.io/dashboard", Cookies: sessionCookies()}, true},
		{"still on login page", PageState{URL: "https://auth.adda.io/login", Cookies: sessionCookies()}, false},
		{"password input visible", PageState{URL: "https://www.adda.io/dashboard", HasPasswordInput: true, Cookies: sessionCookies()}, false},
		{"no session material", PageState{URL: "https://www.adda.io/dashboard", Cookies: []browser.Cookie{{Name: "theme", Value: "dark"}}}, false},
		{"bearer token, no cookies", PageState{URL: "https://www.adda.io/dashboard", HasBearerToken: true}, true},
		{"bearer token on login page", PageState{URL: "https://auth.adda.io/login", HasBearerToken: true}, false},
		{"session-ish cookie by name", PageState{URL: "https://www.adda.io/dashboard", Cookies: []browser.Cookie{{Name: "my_auth_cookie", Value: "x"}}}, true},
	}
	for _, tc := range cases {
		if got := v.Evaluate(tc.st); got != tc.want {
			t.Errorf("%s: Evaluate() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestVerifierTwoPhasePromotion(t *testing.T) {
	v := NewVerifier(portal.Default(), 2*time.Second)
	good := PageState{URL: "https://www.adda.io/dashboard", Cookies: sessionCookies()}
	bad := PageState{URL: "https://auth.adda.io/login", Cookies: sessionCookies()}

	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// First passing evaluation only records a candidate.
	outcome, cand := v.Decide(good, time.Time{}, t0)
	if outcome != OutcomeCandidate || !cand.Equal(t0) {
		t.Fatalf("first pass: outcome=%v cand=%v", outcome, cand)
	}

	// Still inside the settle interval.
	outcome, cand = v.Decide(good, cand, t0.Add(time.Second))
	if outcome != OutcomeCandidate || !cand.Equal(t0) {
		t.Fatalf("inside settle: outcome=%v cand=%v", outcome, cand)
	}

	// After the settle interval a fresh pass promotes.
	outcome, _ = v.Decide(good, cand, t0.Add(2*time.Second))
	if outcome != OutcomePromoted {
		t.Fatalf("after settle: outcome=%v, want OutcomePromoted", outcome)
	}

	// A failing re-check resets the candidate entirely.
	outcome, cand = v.Decide(bad, t0, t0.Add(time.Second))
	if outcome != OutcomeNotYet || !cand.IsZero() {
		t.Fatalf("failed re-check: outcome=%v cand=%v, want reset", outcome, cand)
	}

	// The next pass starts a new settle window; no instant promotion off
	// the stale candidate.
	outcome, cand = v.Decide(good, cand, t0.Add(3*time.Second))
	if outcome != OutcomeCandidate || !cand.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("restart: outcome=%v cand=%v", outcome, cand)
	}
}

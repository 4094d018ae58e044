package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/crestview/portalbridge/internal/capture"
	"github.com/crestview/portalbridge/internal/store"
)

// Credentials are the portal login credentials for automated logins.
type Credentials struct {
	Email    string
	Password string
}

const (
	autoLoginTimeout  = 90 * time.Second
	autoLoginInterval = 500 * time.Millisecond
)

// AutoLogin performs a headless credential login and persists the resulting
// session. It is used at startup when credentials are configured, and as the
// reauthentication path when a replayed request comes back unauthorized.
func (m *Manager) AutoLogin(ctx context.Context, creds Credentials) (store.Record, error) {
	if creds.Email == "" || creds.Password == "" {
		return store.Record{}, NewError(CodeValidation, "portal credentials not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, autoLoginTimeout)
	defer cancel()

	b, err := m.launcher.Launch(ctx, true)
	if err != nil {
		return store.Record{}, NewError(CodeBrowserUnavailable, "launch login browser", err)
	}
	defer b.Close()

	page, err := b.NewPage(ctx)
	if err != nil {
		return store.Record{}, NewError(CodeBrowserUnavailable, "open login page", err)
	}

	tap := capture.NewTap(m.extractor)
	page.Listen(tap.Handle)

	if err := m.openLoginPage(ctx, page); err != nil {
		return store.Record{}, NewError(CodeBrowserUnavailable, "reach portal login page", err)
	}

	if err := page.Type(ctx, m.profile.EmailSelector, creds.Email); err != nil {
		return store.Record{}, NewError(CodePortalUnavailable, "fill email field", err)
	}
	if err := page.Type(ctx, m.profile.PasswordSelector, creds.Password); err != nil {
		return store.Record{}, NewError(CodePortalUnavailable, "fill password field", err)
	}
	if err := page.PressEnter(ctx); err != nil {
		return store.Record{}, NewError(CodePortalUnavailable, "submit login form", err)
	}

	slog.Info("automated login submitted, waiting for verification")

	ticker := time.NewTicker(autoLoginInterval)
	defer ticker.Stop()

	var candidateAt time.Time

	for {
		select {
		case <-ctx.Done():
			return store.Record{}, NewError(CodePortalUnavailable, "automated login did not verify in time", ctx.Err())
		case <-ticker.C:
		}

		url, err := page.Location(ctx)
		if err != nil {
			continue
		}
		cookies, err := page.Cookies(ctx)
		if err != nil {
			continue
		}
		hasPwd, _ := page.HasElement(ctx, m.profile.PasswordSelector)
		_, hasBearer := tap.Tokens()["bearer-token"]

		st := PageState{URL: url, HasPasswordInput: hasPwd, Cookies: cookies, HasBearerToken: hasBearer}
		var outcome Outcome
		outcome, candidateAt = m.verifier.Decide(st, candidateAt, m.now())
		if outcome != OutcomePromoted {
			continue
		}

		rec := store.Record{
			SessionID: m.newID(),
			Status:    string(StatusLoggedIn),
			Cookies:   cookies,
			Headers:   m.buildHeaders(url, tap.Tokens()),
			Tokens:    tap.Tokens(),
			Endpoints: tap.Catalog(),
			Requests:  tap.Requests(),
		}
		if err := m.store.Put(ctx, rec); err != nil {
			return store.Record{}, NewError(CodeStoreUnavailable, "persist automated login", err)
		}
		slog.Info("automated login verified", "session_id", rec.SessionID)
		return rec, nil
	}
}

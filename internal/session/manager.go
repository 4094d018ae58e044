// Package session orchestrates interactive portal logins: it opens a browser
// on the login page, watches the traffic, promotes the session once it
// settles, and persists the result for browserless replay.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/capture"
	"github.com/crestview/portalbridge/internal/portal"
	"github.com/crestview/portalbridge/internal/store"
)

// SessionStore persists promoted sessions.
type SessionStore interface {
	Put(ctx context.Context, rec store.Record) error
}

// Config carries the manager's timing knobs.
type Config struct {
	// LoginTimeout is how long a capture may sit unverified before its
	// status turns to timeout. Timeout is advisory, not terminal: a later
	// poll that verifies still promotes the session.
	LoginTimeout time.Duration
	// Settle is the interval a passing verification must survive before
	// the session promotes.
	Settle time.Duration
	// Grace is how long the browser stays open after promotion so the user
	// can see they are logged in.
	Grace time.Duration
	// NavTimeout bounds individual page navigations.
	NavTimeout time.Duration
	// Headless controls how capture browsers launch. Interactive logins
	// want a visible window; automated credential logins force headless
	// regardless.
	Headless bool
	// SampleLimit caps how many endpoint-material requests a projection
	// carries. Zero means the default of 10.
	SampleLimit int
}

func (c Config) sampleLimit() int {
	if c.SampleLimit > 0 {
		return c.SampleLimit
	}
	return 10
}

// Projection is the API-facing snapshot of one capture session.
type Projection struct {
	SessionID           string                  `json:"sessionId"`
	Status              string                  `json:"status"`
	Error               string                  `json:"error,omitempty"`
	Cookies             []browser.Cookie        `json:"cookies"`
	Headers             map[string]string       `json:"headers"`
	Endpoints           capture.EndpointCatalog `json:"endpoints"`
	Tokens              map[string]string       `json:"tokens"`
	NetworkRequestCount int                     `json:"networkRequestCount"`
	SampleRequests      []capture.Request       `json:"sampleRequests,omitempty"`
}

// Manager runs the interactive login lifecycle. One Manager serves all
// sessions; each session owns its own browser process.
type Manager struct {
	launcher  browser.Launcher
	profile   *portal.Profile
	verifier  *Verifier
	extractor *capture.Extractor
	store     SessionStore
	cfg       Config
	registry  *Registry

	now   func() time.Time
	newID func() string
}

func NewManager(launcher browser.Launcher, profile *portal.Profile, st SessionStore, cfg Config) *Manager {
	return &Manager{
		launcher:  launcher,
		profile:   profile,
		verifier:  NewVerifier(profile, cfg.Settle),
		extractor: capture.NewExtractor(profile.Rules()),
		store:     st,
		cfg:       cfg,
		registry:  NewRegistry(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Start launches a browser on the portal's login page and registers a new
// capture session around it. The returned projection is always waiting; the
// caller polls for progress.
func (m *Manager) Start(ctx context.Context) (Projection, error) {
	id := m.newID()

	b, err := m.launcher.Launch(ctx, m.cfg.Headless)
	if err != nil {
		return Projection{}, NewError(CodeBrowserUnavailable, "launch capture browser", err)
	}
	page, err := b.NewPage(ctx)
	if err != nil {
		b.Close()
		return Projection{}, NewError(CodeBrowserUnavailable, "open capture page", err)
	}

	tap := capture.NewTap(m.extractor)
	page.Listen(tap.Handle)

	if err := m.openLoginPage(ctx, page); err != nil {
		b.Close()
		return Projection{}, NewError(CodeBrowserUnavailable, "reach portal login page", err)
	}

	c := &Capture{
		ID:        id,
		status:    StatusWaiting,
		browser:   b,
		page:      page,
		tap:       tap,
		startedAt: m.now(),
		lastURL:   m.profile.LoginURL,
	}
	m.registry.Add(c)

	slog.Info("capture session started", "session_id", id, "debug_url", b.DebugURL())

	c.mu.Lock()
	defer c.mu.Unlock()
	return m.projectLocked(c), nil
}

// openLoginPage navigates to the login page, falling back to the legacy auth
// address when the primary one renders no password input. Consent banners
// are dismissed best-effort.
func (m *Manager) openLoginPage(ctx context.Context, page browser.Page) error {
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, m.profile.LoginURL); err != nil {
		slog.Warn("primary login page unreachable, trying fallback", "error", err)
		if err := page.Navigate(navCtx, m.profile.AuthFallbackURL); err != nil {
			return fmt.Errorf("navigate login: %w", err)
		}
	} else if hasPwd, _ := page.HasElement(navCtx, m.profile.PasswordSelector); !hasPwd {
		if err := page.Navigate(navCtx, m.profile.AuthFallbackURL); err != nil {
			return fmt.Errorf("navigate auth fallback: %w", err)
		}
	}

	if ok, _ := page.HasElement(navCtx, m.profile.ConsentSelector); ok {
		if err := page.Click(navCtx, m.profile.ConsentSelector); err != nil {
			slog.Debug("consent dismissal failed", "error", err)
		}
	}
	return nil
}

// Poll reads the session's page, advances verification, and returns the
// current projection.
func (m *Manager) Poll(ctx context.Context, id string) (Projection, error) {
	c, ok := m.registry.Get(id)
	if !ok {
		return Projection{}, NewError(CodeSessionNotFound, fmt.Sprintf("no capture session %s", id), nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != phaseOpen {
		return m.projectLocked(c), nil
	}
	if !c.browser.Connected() {
		return m.disconnectLocked(c), nil
	}

	st, err := m.readStateLocked(ctx, c)
	if err != nil {
		// A page that stops answering while the process is gone is a
		// disconnect. Anything else is a transient browser fault: keep the
		// session waiting with an advisory message and let a later poll
		// retry, rather than escalating mid-login.
		if !c.browser.Connected() {
			return m.disconnectLocked(c), nil
		}
		slog.Warn("page state read failed, keeping session active", "session_id", c.ID, "error", err)
		if c.status != StatusLoggedIn {
			c.errMsg = "page state unavailable: " + err.Error()
		}
		return m.projectLocked(c), nil
	}
	if c.status != StatusLoggedIn {
		c.errMsg = ""
		m.advanceLocked(ctx, c, st)
	}
	return m.projectLocked(c), nil
}

func (m *Manager) readStateLocked(ctx context.Context, c *Capture) (PageState, error) {
	url, err := c.page.Location(ctx)
	if err != nil {
		return PageState{}, fmt.Errorf("read location: %w", err)
	}
	cookies, err := c.page.Cookies(ctx)
	if err != nil {
		return PageState{}, fmt.Errorf("read cookies: %w", err)
	}
	hasPwd, err := c.page.HasElement(ctx, m.profile.PasswordSelector)
	if err != nil {
		return PageState{}, fmt.Errorf("probe password input: %w", err)
	}

	c.lastURL = url
	c.lastCookies = cookies
	_, hasBearer := c.tap.Tokens()["bearer-token"]
	return PageState{URL: url, HasPasswordInput: hasPwd, Cookies: cookies, HasBearerToken: hasBearer}, nil
}

// advanceLocked folds one fresh page state into the session's verification
// state machine.
func (m *Manager) advanceLocked(ctx context.Context, c *Capture, st PageState) {
	now := m.now()
	outcome, candidateAt := m.verifier.Decide(st, c.candidateAt, now)
	c.candidateAt = candidateAt

	if outcome == OutcomePromoted {
		c.status = StatusLoggedIn
		c.errMsg = ""
		slog.Info("capture session verified", "session_id", c.ID, "url", st.URL)
		if err := m.persistLocked(ctx, c); err != nil {
			slog.Error("persist verified session", "session_id", c.ID, "error", err)
		}
		c.closeTimer = time.AfterFunc(m.cfg.Grace, func() { m.graceClose(c.ID) })
		return
	}

	if now.Sub(c.startedAt) >= m.cfg.LoginTimeout {
		if c.status != StatusTimeout {
			slog.Warn("capture session login timeout", "session_id", c.ID)
		}
		c.status = StatusTimeout
	}
}

// disconnectLocked handles the user closing the browser window. A session
// that already promoted keeps its result; one still waiting fails terminally
// and is forgotten after this final projection.
func (m *Manager) disconnectLocked(c *Capture) Projection {
	if c.status == StatusLoggedIn {
		c.closeBrowser()
		return m.projectLocked(c)
	}

	c.status = StatusFailed
	c.errMsg = "browser disconnected (user may have closed it)"
	c.closeBrowser()
	proj := m.projectLocked(c)
	m.registry.Remove(c.ID)
	slog.Warn("capture session lost its browser", "session_id", c.ID)
	return proj
}

// Cancel tears a session down. If the page already carries session material
// the partial result is persisted first, so closing the window early does
// not waste a completed login. Cancelling an unknown or already-cancelled
// session is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	c, ok := m.registry.Get(id)
	if !ok {
		return nil
	}

	c.mu.Lock()
	if c.phase == phaseOpen && c.browser.Connected() {
		if url, err := c.page.Location(ctx); err == nil {
			c.lastURL = url
		}
		if cookies, err := c.page.Cookies(ctx); err == nil {
			c.lastCookies = cookies
		}
	}

	if c.status != StatusLoggedIn &&
		HasSessionCookie(c.lastCookies, m.profile.SessionCookie) &&
		!m.profile.IsLoginAddress(c.lastURL) {
		c.status = StatusLoggedIn
		slog.Info("cancelled session carries credentials, keeping it", "session_id", id)
		if err := m.persistLocked(ctx, c); err != nil {
			slog.Warn("persist cancelled session", "session_id", id, "error", err)
		}
	}

	c.closeBrowser()
	c.mu.Unlock()

	m.registry.Remove(id)
	slog.Info("capture session cancelled", "session_id", id)
	return nil
}

func (m *Manager) graceClose(id string) {
	c, ok := m.registry.Get(id)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeBrowser()
	slog.Info("capture browser closed after grace window", "session_id", id)
}

func (m *Manager) persistLocked(ctx context.Context, c *Capture) error {
	rec := store.Record{
		SessionID: c.ID,
		Status:    string(c.status),
		Cookies:   c.lastCookies,
		Headers:   m.buildHeaders(c.lastURL, c.tap.Tokens()),
		Tokens:    c.tap.Tokens(),
		Endpoints: c.tap.Catalog(),
		Requests:  c.tap.Requests(),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return NewError(CodeStoreUnavailable, "persist session", err)
	}
	return nil
}

func (m *Manager) projectLocked(c *Capture) Projection {
	reqs := c.tap.Requests()
	return Projection{
		SessionID:           c.ID,
		Status:              string(c.status),
		Error:               c.errMsg,
		Cookies:             c.lastCookies,
		Headers:             m.buildHeaders(c.lastURL, c.tap.Tokens()),
		Endpoints:           c.tap.Catalog(),
		Tokens:              c.tap.Tokens(),
		NetworkRequestCount: len(reqs),
		SampleRequests:      m.sampleRequests(reqs),
	}
}

// sampleRequests keeps the first few endpoint-material requests so API
// consumers can inspect traffic shape without dragging the full log around.
func (m *Manager) sampleRequests(reqs []capture.Request) []capture.Request {
	limit := m.cfg.sampleLimit()
	var out []capture.Request
	for _, r := range reqs {
		if !m.endpointMaterial(r.URL) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (m *Manager) endpointMaterial(url string) bool {
	for _, cat := range m.extractor.CatalogsFor(url) {
		if cat == capture.CatalogAjax || cat == capture.CatalogAPI {
			return true
		}
	}
	return false
}

// buildHeaders assembles the replay header set the portal's own frontend
// would send, folding captured tokens in.
func (m *Manager) buildHeaders(currentURL string, tokens map[string]string) map[string]string {
	h := map[string]string{
		"User-Agent":       m.profile.UserAgent,
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"X-Requested-With": "XMLHttpRequest",
		"Origin":           m.profile.Origin,
		"Referer":          currentURL,
	}
	if tok, ok := tokens["bearer-token"]; ok {
		h["Authorization"] = "Bearer " + tok
	} else if raw, ok := tokens["authorization"]; ok {
		h["Authorization"] = raw
	}
	if csrf, ok := tokens["csrf-token"]; ok {
		h["X-CSRF-Token"] = csrf
	}
	return h
}

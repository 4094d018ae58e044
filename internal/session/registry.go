package session

import (
	"sync"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/capture"
)

// Status is the lifecycle state of a capture session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusLoggedIn Status = "logged_in"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
)

type browserPhase int

const (
	phaseOpen browserPhase = iota
	phaseClosing
	phaseClosed
)

// Capture is one in-flight interactive login attempt: a dedicated browser,
// the tap observing it, and the verification state accumulated across polls.
// All field access goes through mu; polls, cancels and the grace-close timer
// for one session therefore serialize.
type Capture struct {
	ID string

	mu          sync.Mutex
	status      Status
	errMsg      string
	browser     browser.Browser
	page        browser.Page
	tap         *capture.Tap
	startedAt   time.Time
	candidateAt time.Time
	phase       browserPhase
	closeTimer  *time.Timer

	// Last page state read while the browser was still reachable, kept so
	// projections stay answerable after the browser goes away.
	lastURL     string
	lastCookies []browser.Cookie
}

// closeBrowser tears the capture's browser down exactly once. Callers must
// hold c.mu.
func (c *Capture) closeBrowser() {
	if c.phase != phaseOpen {
		return
	}
	c.phase = phaseClosing
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
	if c.browser != nil {
		c.browser.Close()
	}
	c.phase = phaseClosed
}

// Registry indexes live captures by session id.
type Registry struct {
	mu       sync.RWMutex
	captures map[string]*Capture
}

func NewRegistry() *Registry {
	return &Registry{captures: make(map[string]*Capture)}
}

func (r *Registry) Add(c *Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures[c.ID] = c
}

func (r *Registry) Get(id string) (*Capture, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.captures[id]
	return c, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.captures, id)
}

// Len reports the number of live captures.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.captures)
}

// Package browser defines the automation contract the capture core requires
// of its execution environment, plus the chromedp-backed implementation.
// Everything above this package talks to Launcher/Browser/Page so that a
// scripted fake can stand in during tests.
package browser

import "context"

// Cookie is a browser cookie snapshot.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Event is the tagged variant for observed page network traffic.
// Implementations deliver one RequestEvent per outgoing request and at most
// one ResponseEvent per completed response; malformed CDP payloads are
// dropped at the adapter, never surfaced as partially filled events.
type Event interface {
	isEvent()
}

// RequestEvent describes one outgoing request.
type RequestEvent struct {
	URL          string
	Method       string
	Headers      map[string]string
	Body         string
	ResourceType string
}

// ResponseEvent describes one completed response. Body is populated only for
// textual content; binary payloads are never buffered.
type ResponseEvent struct {
	URL        string
	Status     int
	StatusText string
	Headers    map[string]string
	Body       string
	MimeType   string
}

func (RequestEvent) isEvent()  {}
func (ResponseEvent) isEvent() {}

// Page is one open browser page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	HasElement(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context) error
	// Listen subscribes fn to the page's network traffic. Events are
	// delivered sequentially from a single dispatch goroutine.
	Listen(fn func(Event))
}

// Browser is one live browser instance owning exactly one process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Connected reports whether the underlying process is still reachable.
	Connected() bool
	// DebugURL is the CDP endpoint an external client can attach to.
	DebugURL() string
	// Close tears the browser down. Closing twice is a no-op.
	Close() error
}

// Launcher creates browsers. Headless is an execution-environment concern:
// server deployments run headless, local interactive captures run headed.
type Launcher interface {
	Launch(ctx context.Context, headless bool) (Browser, error)
}

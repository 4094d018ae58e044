package capture

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
)

// Tap observes one page's network traffic and accumulates the session's
// request log, endpoint catalog and token set. It only ever appends: no
// event mutates or removes a prior entry.
type Tap struct {
	extractor *Extractor

	mu       sync.Mutex
	requests []*Request
	catalog  EndpointCatalog
	tokens   TokenSet
	now      func() time.Time
}

// NewTap creates a tap feeding the given extractor.
func NewTap(extractor *Extractor) *Tap {
	return &Tap{
		extractor: extractor,
		tokens:    make(TokenSet),
		now:       time.Now,
	}
}

// Handle dispatches one page event. Malformed variants are ignored.
func (t *Tap) Handle(ev browser.Event) {
	switch e := ev.(type) {
	case browser.RequestEvent:
		t.handleRequest(e)
	case browser.ResponseEvent:
		t.handleResponse(e)
	default:
		slog.Debug("unknown page event discarded")
	}
}

func (t *Tap) handleRequest(ev browser.RequestEvent) {
	headers := lowerKeys(ev.Headers)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, &Request{
		URL:       ev.URL,
		Method:    ev.Method,
		Headers:   headers,
		PostData:  ev.Body,
		Type:      ev.ResourceType,
		Timestamp: t.now().UTC(),
	})

	for _, cat := range t.extractor.CatalogsFor(ev.URL) {
		switch cat {
		case CatalogAjax:
			t.catalog.Ajax = append(t.catalog.Ajax, ev.URL)
		case CatalogAPI:
			t.catalog.API = append(t.catalog.API, ev.URL)
		case CatalogOther:
			t.catalog.Other = append(t.catalog.Other, ev.URL)
		}
	}

	t.tokens.Apply(t.extractor.TokensFromHeaders(headers))
	t.tokens.Apply(t.extractor.TokensFromRequestBody(ev.Body))
}

// handleResponse attaches the response to the oldest unmatched request with
// the same target address. Unmatched responses are discarded, not fatal.
func (t *Tap) handleResponse(ev browser.ResponseEvent) {
	headers := lowerKeys(ev.Headers)

	t.mu.Lock()
	defer t.mu.Unlock()

	var target *Request
	for _, req := range t.requests {
		if req.URL == ev.URL && req.Response == nil {
			target = req
			break
		}
	}
	if target == nil {
		slog.Debug("response without matching request discarded", "url", ev.URL)
		return
	}

	resp := &Response{
		Status:     ev.Status,
		StatusText: ev.StatusText,
		Headers:    headers,
	}
	if isTextualContent(headers["content-type"]) {
		resp.Body = ev.Body
	}
	target.Response = resp

	t.tokens.Apply(t.extractor.TokensFromHeaders(headers))
	if resp.Body != "" {
		t.tokens.Apply(t.extractor.TokensFromResponseBody(resp.Body))
	}
}

// Requests returns a copy of the request log in arrival order.
func (t *Tap) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, len(t.requests))
	for i, r := range t.requests {
		out[i] = *r
	}
	return out
}

// Catalog returns a copy of the endpoint catalog.
func (t *Tap) Catalog() EndpointCatalog {
	t.mu.Lock()
	defer t.mu.Unlock()
	return EndpointCatalog{
		Ajax:  append([]string(nil), t.catalog.Ajax...),
		API:   append([]string(nil), t.catalog.API...),
		Other: append([]string(nil), t.catalog.Other...),
	}
}

// Tokens returns a copy of the accumulated token set.
func (t *Tap) Tokens() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens.Clone()
}

func isTextualContent(contentType string) bool {
	return strings.Contains(contentType, "application/json") || strings.Contains(contentType, "text/")
}

func lowerKeys(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

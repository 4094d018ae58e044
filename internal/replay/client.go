// Package replay re-issues captured portal calls over plain HTTP, using the
// cookies, headers and tokens of a stored session instead of a browser.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crestview/portalbridge/internal/store"
)

// ErrNoSession describes a replay attempted with no stored session. It is
// reported per endpoint in the batch results, and replay never starts a
// login on its own; capturing one is the caller's move.
var ErrNoSession = errors.New("no valid session available")

// SessionSource yields the stored session to replay with.
type SessionSource interface {
	Latest(ctx context.Context) (store.Record, error)
}

// Reauth obtains a fresh session after the portal rejects the current one.
type Reauth func(ctx context.Context) (store.Record, error)

// Config carries the client's fixed settings.
type Config struct {
	// BaseURL resolves relative endpoint addresses.
	BaseURL string
	// Timeout bounds each replayed request.
	Timeout time.Duration
	// MaxRawBody caps how much of a non-JSON response body a Result
	// carries. Zero means the default of 500.
	MaxRawBody int
}

func (c Config) maxRawBody() int {
	if c.MaxRawBody > 0 {
		return c.MaxRawBody
	}
	return 500
}

// Result describes the outcome of one replayed call. Portal-side failures
// (bad status, unreachable host) are reported here rather than as errors, so
// one dead endpoint never aborts a batch.
type Result struct {
	OK     bool            `json:"success"`
	Status int             `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Raw    string          `json:"raw,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client replays portal calls. Safe for concurrent use.
type Client struct {
	http   *http.Client
	cfg    Config
	source SessionSource
	reauth Reauth
}

// NewClient builds a replay client. reauth may be nil, in which case an
// unauthorized response is final.
func NewClient(cfg Config, source SessionSource, reauth Reauth) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		source: source,
		reauth: reauth,
	}
}

// Fetch replays a single endpoint with the latest stored session.
func (c *Client) Fetch(ctx context.Context, endpoint string) (Result, error) {
	results, err := c.FetchAll(ctx, []string{endpoint})
	if err != nil {
		return Result{}, err
	}
	return results[endpoint], nil
}

// FetchAll replays every endpoint with one shared session, reauthenticating
// at most once across the whole batch when the portal answers 401 or 403.
// A missing stored session is not a call failure: every endpoint gets an
// ErrNoSession descriptor and the batch itself succeeds.
func (c *Client) FetchAll(ctx context.Context, endpoints []string) (map[string]Result, error) {
	rec, err := c.source.Latest(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			results := make(map[string]Result, len(endpoints))
			for _, endpoint := range endpoints {
				results[endpoint] = Result{Error: ErrNoSession.Error()}
			}
			return results, nil
		}
		return nil, fmt.Errorf("load replay session: %w", err)
	}

	results := make(map[string]Result, len(endpoints))
	reauthed := false

	for _, endpoint := range endpoints {
		res := c.fetchOnce(ctx, rec, endpoint)
		if !reauthed && c.reauth != nil && (res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden) {
			reauthed = true
			slog.Info("replay rejected, reauthenticating", "endpoint", endpoint, "status", res.Status)
			fresh, err := c.reauth(ctx)
			if err != nil {
				slog.Warn("reauthentication failed", "error", err)
			} else {
				rec = fresh
				res = c.fetchOnce(ctx, rec, endpoint)
			}
		}
		results[endpoint] = res
	}
	return results, nil
}

func (c *Client) fetchOnce(ctx context.Context, rec store.Record, endpoint string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(endpoint), nil)
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	for k, v := range rec.Headers {
		req.Header.Set(k, v)
	}
	if cookie := cookieHeader(rec); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Error: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Status: resp.StatusCode,
			Raw:    truncate(string(body), c.cfg.maxRawBody()),
			Error:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	res := Result{OK: true, Status: resp.StatusCode}
	if json.Valid(body) {
		res.Data = json.RawMessage(body)
	} else {
		res.Raw = truncate(string(body), c.cfg.maxRawBody())
	}
	return res
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.cfg.BaseURL + endpoint
}

func cookieHeader(rec store.Record) string {
	parts := make([]string, 0, len(rec.Cookies))
	for _, ck := range rec.Cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

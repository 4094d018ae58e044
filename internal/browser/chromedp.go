package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/crestview/portalbridge/internal/netutil"
)

// LaunchOptions configures the chromedp-backed launcher.
type LaunchOptions struct {
	CDPAddress string
	DataDir    string
	UserAgent  string
	WindowSize string
}

// ChromeLauncher launches one browser process per capture session and
// attaches to it over CDP.
type ChromeLauncher struct {
	opts LaunchOptions
}

// NewChromeLauncher creates a launcher with the given options.
func NewChromeLauncher(opts LaunchOptions) *ChromeLauncher {
	if opts.CDPAddress == "" {
		opts.CDPAddress = "127.0.0.1"
	}
	if opts.DataDir == "" {
		opts.DataDir = "./data"
	}
	return &ChromeLauncher{opts: opts}
}

// Launch starts a browser process on a free debugging port and connects.
func (l *ChromeLauncher) Launch(ctx context.Context, headless bool) (Browser, error) {
	port, err := netutil.FreePort(l.opts.CDPAddress)
	if err != nil {
		return nil, fmt.Errorf("select CDP port: %w", err)
	}

	proc := NewProcess(ProcessConfig{
		CDPAddress: l.opts.CDPAddress,
		CDPPort:    port,
		ProfileDir: filepath.Join(l.opts.DataDir, "profiles", fmt.Sprintf("capture-%d", port)),
		UserAgent:  l.opts.UserAgent,
		Headless:   headless,
		WindowSize: l.opts.WindowSize,
	})
	if err := proc.Start(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), proc.CDPURL())
	return &chromeBrowser{proc: proc, allocCtx: allocCtx, allocCancel: allocCancel}, nil
}

type chromeBrowser struct {
	proc        *Process
	allocCtx    context.Context
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	pageCtx, pageCancel := chromedp.NewContext(b.allocCtx)

	runCtx, cancel := context.WithTimeout(pageCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, network.Enable(), page.Enable()); err != nil {
		pageCancel()
		return nil, fmt.Errorf("enable network/page domains: %w", err)
	}
	return &chromePage{ctx: pageCtx, cancel: pageCancel}, nil
}

func (b *chromeBrowser) Connected() bool {
	if b.allocCtx.Err() != nil {
		return false
	}
	return b.proc.Alive()
}

func (b *chromeBrowser) DebugURL() string {
	return b.proc.CDPURL()
}

func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.allocCancel()
		b.proc.Stop()
	})
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the page context, honoring the caller's deadline.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cks, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		cookies = make([]Cookie, 0, len(cks))
		for _, ck := range cks {
			cookies = append(cookies, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (p *chromePage) HasElement(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := p.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) PressEnter(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

// Listen translates raw CDP network events into the tagged Event variants.
// Responses are paired to their request ID until loading finishes, at which
// point the body is fetched (textual content only) and the ResponseEvent is
// emitted. All events funnel through one dispatch goroutine.
func (p *chromePage) Listen(fn func(Event)) {
	events := make(chan Event, 256)
	go func() {
		for {
			select {
			case ev := <-events:
				fn(ev)
			case <-p.ctx.Done():
				return
			}
		}
	}()

	var mu sync.Mutex
	pending := make(map[network.RequestID]*ResponseEvent)

	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			req := RequestEvent{
				URL:          e.Request.URL,
				Method:       e.Request.Method,
				Headers:      headerMapToStringMap(e.Request.Headers),
				Body:         decodePostData(e.Request),
				ResourceType: string(e.Type),
			}
			select {
			case events <- req:
			default:
				slog.Warn("network event buffer full, dropping request event", "url", e.Request.URL)
			}
		case *network.EventResponseReceived:
			resp := &ResponseEvent{
				URL:        e.Response.URL,
				Status:     int(e.Response.Status),
				StatusText: e.Response.StatusText,
				Headers:    headerMapToStringMap(e.Response.Headers),
				MimeType:   e.Response.MimeType,
			}
			mu.Lock()
			pending[e.RequestID] = resp
			mu.Unlock()
		case *network.EventLoadingFinished:
			mu.Lock()
			resp, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			requestID := e.RequestID
			go func() {
				if isTextualMime(resp.MimeType) {
					bodyCtx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
					var body []byte
					err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
						var err error
						body, err = network.GetResponseBody(requestID).Do(ctx)
						return err
					}))
					cancel()
					if err != nil {
						slog.Debug("failed to get response body", "request_id", requestID, "error", err)
					} else {
						resp.Body = string(body)
					}
				}
				select {
				case events <- *resp:
				case <-p.ctx.Done():
				}
			}()
		case *network.EventLoadingFailed:
			mu.Lock()
			delete(pending, e.RequestID)
			mu.Unlock()
		}
	})
}

func decodePostData(req *network.Request) string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var decoded []byte
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		part, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = append(decoded, []byte(entry.Bytes)...)
		} else {
			decoded = append(decoded, part...)
		}
	}
	return string(decoded)
}

func isTextualMime(mime string) bool {
	return strings.Contains(mime, "json") || strings.HasPrefix(mime, "text/")
}

func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}

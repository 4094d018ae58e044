package replay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
	"github.com/crestview/portalbridge/internal/store"
)

type staticSource struct {
	rec store.Record
	err error
}

func (s *staticSource) Latest(ctx context.Context) (store.Record, error) {
	return s.rec, s.err
}

func sessionRecord() store.Record {
	return store.Record{
		SessionID: "s1",
		Status:    "logged_in",
		Cookies: []browser.Cookie{
			{Name: "PHPSESSID", Value: "abc"},
			{Name: "pref", Value: "dark"},
		},
		Headers: map[string]string{
			"X-Requested-With": "XMLHttpRequest",
			"X-CSRF-Token":     "csrf1",
		},
	}
}

func newTestClient(baseURL string, source SessionSource, reauth Reauth) *Client {
	return NewClient(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, source, reauth)
}

func TestFetchSendsSessionHeadersAndCookies(t *testing.T) {
	var gotCookie, gotCSRF string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotCSRF = r.Header.Get("X-CSRF-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticSource{rec: sessionRecord()}, nil)
	res, err := c.Fetch(context.Background(), "/ajax_test.php")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.OK || res.Status != http.StatusOK {
		t.Fatalf("Fetch() = %+v", res)
	}
	if string(res.Data) != `{"ok":true}` {
		t.Fatalf("Data = %s", res.Data)
	}
	if gotCookie != "PHPSESSID=abc; pref=dark" {
		t.Fatalf("Cookie header = %q", gotCookie)
	}
	if gotCSRF != "csrf1" {
		t.Fatalf("X-CSRF-Token = %q", gotCSRF)
	}
}

func TestFetchResolvesRelativeAndAbsolute(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticSource{rec: sessionRecord()}, nil)
	if _, err := c.Fetch(context.Background(), "ajax_rel.php"); err != nil {
		t.Fatalf("Fetch(relative) error = %v", err)
	}
	if _, err := c.Fetch(context.Background(), srv.URL+"/abs.php"); err != nil {
		t.Fatalf("Fetch(absolute) error = %v", err)
	}
	if len(paths) != 2 || paths[0] != "/ajax_rel.php" || paths[1] != "/abs.php" {
		t.Fatalf("requested paths = %v", paths)
	}
}

func TestFetchNoSession(t *testing.T) {
	c := newTestClient("http://unused", &staticSource{err: store.ErrNotFound}, nil)

	results, err := c.FetchAll(context.Background(), []string{"/a", "/b"})
	if err != nil {
		t.Fatalf("FetchAll() error = %v, want per-endpoint descriptors", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, ep := range []string{"/a", "/b"} {
		res, ok := results[ep]
		if !ok {
			t.Fatalf("no result for %s", ep)
		}
		if res.OK || res.Error != ErrNoSession.Error() {
			t.Fatalf("%s: result = %+v, want no-session descriptor", ep, res)
		}
	}

	res, err := c.Fetch(context.Background(), "/a")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.OK || res.Error != ErrNoSession.Error() {
		t.Fatalf("Fetch() = %+v, want no-session descriptor", res)
	}
}

func TestFetchAllSourceFailure(t *testing.T) {
	c := newTestClient("http://unused", &staticSource{err: errors.New("disk gone")}, nil)
	if _, err := c.FetchAll(context.Background(), []string{"/a"}); err == nil {
		t.Fatal("FetchAll() error = nil, want store failure")
	}
}

func TestFetchReauthOnUnauthorized(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "PHPSESSID=fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	reauth := func(ctx context.Context) (store.Record, error) {
		atomic.AddInt32(&calls, 1)
		return store.Record{
			SessionID: "s2",
			Status:    "logged_in",
			Cookies:   []browser.Cookie{{Name: "PHPSESSID", Value: "fresh"}},
		}, nil
	}

	stale := sessionRecord()
	c := newTestClient(srv.URL, &staticSource{rec: stale}, reauth)

	res, err := c.Fetch(context.Background(), "/ajax_data.php")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.OK {
		t.Fatalf("Fetch() after reauth = %+v", res)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("reauth called %d times, want 1", calls)
	}
}

func TestFetchAllReauthsAtMostOnce(t *testing.T) {
	var reauths int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	reauth := func(ctx context.Context) (store.Record, error) {
		atomic.AddInt32(&reauths, 1)
		return sessionRecord(), nil
	}

	c := newTestClient(srv.URL, &staticSource{rec: sessionRecord()}, reauth)
	results, err := c.FetchAll(context.Background(), []string{"/a", "/b", "/c"})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d", len(results))
	}
	if atomic.LoadInt32(&reauths) != 1 {
		t.Fatalf("reauth called %d times across batch, want 1", reauths)
	}
	for ep, res := range results {
		if res.OK || res.Status != http.StatusUnauthorized {
			t.Fatalf("%s: result = %+v", ep, res)
		}
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticSource{rec: sessionRecord()}, nil)
	res, err := c.Fetch(context.Background(), "/broken")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.OK {
		t.Fatal("Fetch() reported success for 502")
	}
	if !strings.HasPrefix(res.Error, "HTTP 502:") {
		t.Fatalf("Error = %q", res.Error)
	}
}

func TestFetchTruncatesNonJSONBody(t *testing.T) {
	big := strings.Repeat("x", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + big))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticSource{rec: sessionRecord()}, nil)
	res, err := c.Fetch(context.Background(), "/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if res.Data != nil {
		t.Fatal("HTML body decoded as JSON")
	}
	if len(res.Raw) != 500 {
		t.Fatalf("len(Raw) = %d, want 500", len(res.Raw))
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", &staticSource{rec: sessionRecord()}, nil)
	res, err := c.Fetch(context.Background(), "/a")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.OK || res.Error == "" {
		t.Fatalf("result = %+v, want transport failure descriptor", res)
	}
}

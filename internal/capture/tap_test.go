package capture

import (
	"testing"
	"time"

	"github.com/crestview/portalbridge/internal/browser"
)

func newTestTap() *Tap {
	tap := NewTap(NewExtractor(testRules()))
	tick := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tap.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return tap
}

func TestTapRecordsRequestsInOrder(t *testing.T) {
	tap := newTestTap()

	tap.Handle(browser.RequestEvent{URL: "https://www.adda.io/a", Method: "GET"})
	tap.Handle(browser.RequestEvent{URL: "https://www.adda.io/b", Method: "POST", Body: "x=1"})

	reqs := tap.Requests()
	if len(reqs) != 2 {
		t.Fatalf("len(Requests()) = %d, want 2", len(reqs))
	}
	if reqs[0].URL != "https://www.adda.io/a" || reqs[1].URL != "https://www.adda.io/b" {
		t.Fatalf("request order wrong: %v, %v", reqs[0].URL, reqs[1].URL)
	}
	if !reqs[0].Timestamp.Before(reqs[1].Timestamp) {
		t.Fatal("timestamps not increasing")
	}
	if reqs[1].PostData != "x=1" {
		t.Fatalf("PostData = %q", reqs[1].PostData)
	}
}

func TestTapMatchesResponseToOldestUnmatched(t *testing.T) {
	tap := newTestTap()
	url := "https://www.adda.io/ajax_poll.php"

	tap.Handle(browser.RequestEvent{URL: url, Method: "GET"})
	tap.Handle(browser.RequestEvent{URL: url, Method: "GET"})
	tap.Handle(browser.ResponseEvent{URL: url, Status: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: `{"n":1}`})
	tap.Handle(browser.ResponseEvent{URL: url, Status: 500, Headers: map[string]string{"Content-Type": "application/json"}, Body: `{"n":2}`})

	reqs := tap.Requests()
	if reqs[0].Response == nil || reqs[0].Response.Status != 200 {
		t.Fatalf("first request response = %+v, want status 200", reqs[0].Response)
	}
	if reqs[1].Response == nil || reqs[1].Response.Status != 500 {
		t.Fatalf("second request response = %+v, want status 500", reqs[1].Response)
	}
}

func TestTapDiscardsUnmatchedResponse(t *testing.T) {
	tap := newTestTap()

	tap.Handle(browser.ResponseEvent{URL: "https://www.adda.io/orphan", Status: 200})

	if n := len(tap.Requests()); n != 0 {
		t.Fatalf("len(Requests()) = %d after orphan response, want 0", n)
	}
}

func TestTapKeepsBodyOnlyForTextualContent(t *testing.T) {
	tap := newTestTap()

	tap.Handle(browser.RequestEvent{URL: "https://www.adda.io/img", Method: "GET"})
	tap.Handle(browser.ResponseEvent{URL: "https://www.adda.io/img", Status: 200,
		Headers: map[string]string{"Content-Type": "image/png"}, Body: "PNGDATA"})

	reqs := tap.Requests()
	if reqs[0].Response == nil {
		t.Fatal("response not attached")
	}
	if reqs[0].Response.Body != "" {
		t.Fatalf("binary body buffered: %q", reqs[0].Response.Body)
	}
}

func TestTapCatalogKeepsDuplicates(t *testing.T) {
	tap := newTestTap()
	url := "https://www.adda.io/ajax_fetch_apt_flats.php"

	tap.Handle(browser.RequestEvent{URL: url, Method: "GET"})
	tap.Handle(browser.RequestEvent{URL: url, Method: "GET"})

	cat := tap.Catalog()
	if len(cat.Ajax) != 2 {
		t.Fatalf("len(Ajax) = %d, want 2 (catalogs are call logs, not sets)", len(cat.Ajax))
	}
}

func TestTapAccumulatesTokensAcrossEvents(t *testing.T) {
	tap := newTestTap()
	url := "https://www.adda.io/ajax_login.php"

	tap.Handle(browser.RequestEvent{
		URL: url, Method: "POST",
		Headers: map[string]string{"X-CSRF-Token": "csrf1"},
	})
	tap.Handle(browser.ResponseEvent{
		URL: url, Status: 200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    `{"access_token":"a1"}`,
	})

	tokens := tap.Tokens()
	if tokens["csrf-token"] != "csrf1" {
		t.Fatalf("csrf-token = %q", tokens["csrf-token"])
	}
	if tokens["access_token"] != "a1" {
		t.Fatalf("access_token = %q", tokens["access_token"])
	}
}

func TestTapAccessorsReturnCopies(t *testing.T) {
	tap := newTestTap()
	tap.Handle(browser.RequestEvent{URL: "https://www.adda.io/ajax_a.php", Method: "GET"})

	cat := tap.Catalog()
	cat.Ajax[0] = "mutated"
	if tap.Catalog().Ajax[0] == "mutated" {
		t.Fatal("Catalog() shares backing storage with the tap")
	}

	tokens := tap.Tokens()
	tokens["injected"] = "x"
	if _, ok := tap.Tokens()["injected"]; ok {
		t.Fatal("Tokens() shares backing storage with the tap")
	}
}

package capture

import (
	"testing"
)

func testRules() Rules {
	return Rules{
		AjaxMarker:        "ajax",
		LegacyExt:         ".php",
		AjaxPrefix:        "ajax_",
		OtherPathPrefixes: []string{"/api/", "/ajax/"},
		OriginMarker:      "adda.io",
	}
}

func TestCatalogsForAjaxVsAPI(t *testing.T) {
	e := NewExtractor(testRules())

	cases := []struct {
		url  string
		want []Catalog
	}{
		{"https://www.adda.io/ajax_fetch_apt_flats.php", []Catalog{CatalogAjax}},
		{"https://www.adda.io/member_list.php", []Catalog{CatalogAPI}},
		{"https://www.adda.io/some/ajaxEndpoint", []Catalog{CatalogAPI}},
		{"https://www.adda.io/home", nil},
	}
	for _, tc := range cases {
		got := e.CatalogsFor(tc.url)
		if len(got) != len(tc.want) {
			t.Fatalf("CatalogsFor(%q) = %v, want %v", tc.url, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("CatalogsFor(%q) = %v, want %v", tc.url, got, tc.want)
			}
		}
	}
}

func TestCatalogsForOtherIsIndependent(t *testing.T) {
	e := NewExtractor(testRules())

	// Cross-origin endpoint material lands in both an endpoint catalog and
	// the other catalog.
	got := e.CatalogsFor("https://cdn.example.com/ajax_tracker.php")
	if len(got) != 2 || got[0] != CatalogAjax || got[1] != CatalogOther {
		t.Fatalf("CatalogsFor(cross-origin ajax) = %v, want [CatalogAjax CatalogOther]", got)
	}

	// A relative /api/ address is other too.
	got = e.CatalogsFor("/api/v2/profile")
	if len(got) != 1 || got[0] != CatalogOther {
		t.Fatalf("CatalogsFor(/api/ path) = %v, want [CatalogOther]", got)
	}
}

func TestTokensFromHeadersNamedAndBearer(t *testing.T) {
	e := NewExtractor(testRules())

	obs := e.TokensFromHeaders(map[string]string{
		"authorization": "Bearer abc.def.ghi",
		"x-csrf-token":  "csrf123",
	})

	ts := make(TokenSet)
	ts.Apply(obs)

	if ts["authorization"] != "Bearer abc.def.ghi" {
		t.Fatalf("authorization = %q", ts["authorization"])
	}
	if ts["bearer-token"] != "abc.def.ghi" {
		t.Fatalf("bearer-token = %q", ts["bearer-token"])
	}
	if ts["csrf-token"] != "csrf123" {
		t.Fatalf("csrf-token = %q", ts["csrf-token"])
	}
}

func TestTokenPrecedenceAsymmetry(t *testing.T) {
	e := NewExtractor(testRules())
	ts := make(TokenSet)

	// Named keys overwrite on every sighting.
	ts.Apply(e.TokensFromHeaders(map[string]string{"x-csrf-token": "first"}))
	ts.Apply(e.TokensFromHeaders(map[string]string{"x-csrf-token": "second"}))
	if ts["csrf-token"] != "second" {
		t.Fatalf("named key csrf-token = %q, want last sighting", ts["csrf-token"])
	}

	// Generic header keys keep their first sighting.
	ts.Apply(e.TokensFromHeaders(map[string]string{"x-device-token": "one"}))
	ts.Apply(e.TokensFromHeaders(map[string]string{"x-device-token": "two"}))
	if ts["x-device-token"] != "one" {
		t.Fatalf("generic key x-device-token = %q, want first sighting", ts["x-device-token"])
	}
}

func TestTokensFromRequestBodyJSONAndForm(t *testing.T) {
	e := NewExtractor(testRules())

	obs := e.TokensFromRequestBody(`{"csrf_token":"tok1","name":"bob"}`)
	ts := make(TokenSet)
	ts.Apply(obs)
	if ts["csrf_token"] != "tok1" {
		t.Fatalf("JSON body: csrf_token = %q", ts["csrf_token"])
	}
	if _, ok := ts["name"]; ok {
		t.Fatal("JSON body: non-token key leaked into token set")
	}

	obs = e.TokensFromRequestBody("user=bob&auth_token=tok2")
	ts = make(TokenSet)
	ts.Apply(obs)
	if ts["auth_token"] != "tok2" {
		t.Fatalf("form body: auth_token = %q", ts["auth_token"])
	}
}

func TestTokensFromRequestBodyValidJSONBlocksFormFallback(t *testing.T) {
	e := NewExtractor(testRules())

	// A JSON string is valid JSON, so the form fallback must not run even
	// though the payload would parse as a query string.
	obs := e.TokensFromRequestBody(`"token=abc"`)
	if len(obs) != 0 {
		t.Fatalf("got %v observations from a JSON scalar body", obs)
	}
}

func TestTokensFromResponseBody(t *testing.T) {
	e := NewExtractor(testRules())

	obs := e.TokensFromResponseBody(`{"access_token":"Bearer xyz","refresh_token":"r1"}`)
	ts := make(TokenSet)
	ts.Apply(obs)
	if ts["access_token"] != "Bearer xyz" {
		t.Fatalf("access_token = %q", ts["access_token"])
	}
	if ts["bearer-token"] != "xyz" {
		t.Fatalf("bearer-token alias = %q", ts["bearer-token"])
	}
	if ts["refresh_token"] != "r1" {
		t.Fatalf("refresh_token = %q", ts["refresh_token"])
	}

	// Non-JSON bodies fall back to the bearer regex.
	obs = e.TokensFromResponseBody(`<html>Authorization: Bearer deadbeef</html>`)
	ts = make(TokenSet)
	ts.Apply(obs)
	if ts["bearer-token"] != "deadbeef" {
		t.Fatalf("regex fallback bearer-token = %q", ts["bearer-token"])
	}
}

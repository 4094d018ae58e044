package capture

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Rules configures the extractor's portal-specific markers. The ajax/api
// split rides on the portal's legacy script naming and will need updating if
// the portal is ever rebuilt, which is why it is data rather than code.
type Rules struct {
	// AjaxMarker flags endpoint material anywhere in the address.
	AjaxMarker string
	// LegacyExt flags endpoint material by the portal's legacy script extension.
	LegacyExt string
	// AjaxPrefix routes endpoint material into the ajax catalog.
	AjaxPrefix string
	// OtherPathPrefixes route addresses into the other catalog.
	OtherPathPrefixes []string
	// OriginMarker identifies same-origin addresses; anything else is
	// cross-origin and lands in the other catalog.
	OriginMarker string
}

// Catalog identifies one of the three endpoint catalogs.
type Catalog int

const (
	CatalogAjax Catalog = iota
	CatalogAPI
	CatalogOther
)

var bearerRe = regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9\-._~+/]+=*)`)

// Named header keys with fixed semantic names. These overwrite on every
// sighting, unlike the generic token/auth header scan.
var namedHeaderKeys = map[string]string{
	"authorization": "authorization",
	"x-csrf-token":  "csrf-token",
	"x-auth-token":  "auth-token",
}

// Extractor classifies observed requests and responses into endpoint
// catalogs and token observations. It is pure: no I/O, no retained state.
type Extractor struct {
	rules Rules
}

// NewExtractor creates an extractor with the given matcher rules.
func NewExtractor(rules Rules) *Extractor {
	return &Extractor{rules: rules}
}

// CatalogsFor returns every catalog an address belongs to. The endpoint and
// "other" checks run independently, so one address may land in two catalogs.
func (e *Extractor) CatalogsFor(address string) []Catalog {
	var out []Catalog
	if strings.Contains(address, e.rules.AjaxMarker) || strings.Contains(address, e.rules.LegacyExt) {
		if strings.Contains(address, e.rules.AjaxPrefix) {
			out = append(out, CatalogAjax)
		} else {
			out = append(out, CatalogAPI)
		}
	}
	if e.isOther(address) {
		out = append(out, CatalogOther)
	}
	return out
}

func (e *Extractor) isOther(address string) bool {
	if !strings.Contains(address, e.rules.OriginMarker) {
		return true
	}
	for _, prefix := range e.rules.OtherPathPrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}

// TokensFromHeaders scans a header mapping (keys expected lower-cased) for
// token material.
func (e *Extractor) TokensFromHeaders(headers map[string]string) []Observation {
	var obs []Observation
	for headerKey, semantic := range namedHeaderKeys {
		if v, ok := headers[headerKey]; ok {
			obs = append(obs, Observation{Key: semantic, Value: v})
		}
	}
	if auth, ok := headers["authorization"]; ok && strings.HasPrefix(auth, "Bearer ") {
		obs = append(obs, Observation{Key: "bearer-token", Value: auth[len("Bearer "):]})
	}
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			obs = append(obs, Observation{Key: lk, Value: v, Generic: true})
		}
	}
	return obs
}

// TokensFromRequestBody parses a request body for token material, trying
// JSON first and falling back to URL-encoded form data.
func (e *Extractor) TokensFromRequestBody(body string) []Observation {
	if body == "" {
		return nil
	}
	if obs, parsed := scanJSONKeys(body, requestBodyKeyMatch, false); parsed {
		return obs
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil
	}
	var obs []Observation
	for key, vals := range values {
		if requestBodyKeyMatch(strings.ToLower(key)) && len(vals) > 0 {
			obs = append(obs, Observation{Key: key, Value: vals[0]})
		}
	}
	return obs
}

// TokensFromResponseBody parses a response body for token material: a JSON
// key scan with a wider filter, then a best-effort regex hunt for anything
// bearer-shaped as the last resort.
func (e *Extractor) TokensFromResponseBody(body string) []Observation {
	if body == "" {
		return nil
	}
	if obs, parsed := scanJSONKeys(body, responseBodyKeyMatch, true); parsed {
		return obs
	}
	if m := bearerRe.FindStringSubmatch(body); m != nil {
		return []Observation{{Key: "bearer-token", Value: m[1]}}
	}
	return nil
}

func requestBodyKeyMatch(lowerKey string) bool {
	return strings.Contains(lowerKey, "token") || strings.Contains(lowerKey, "csrf")
}

func responseBodyKeyMatch(lowerKey string) bool {
	return requestBodyKeyMatch(lowerKey) ||
		strings.Contains(lowerKey, "access") ||
		strings.Contains(lowerKey, "refresh") ||
		strings.Contains(lowerKey, "auth")
}

// scanJSONKeys reports parsed=false only when the body is not valid JSON at
// all; valid JSON that is not an object yields no observations but still
// counts as parsed, so the caller does not fall through to weaker scans.
func scanJSONKeys(body string, match func(string) bool, bearerAlias bool) (obs []Observation, parsed bool) {
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return nil, false
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, true
	}
	for key, raw := range m {
		if !match(strings.ToLower(key)) {
			continue
		}
		value := stringify(raw)
		obs = append(obs, Observation{Key: key, Value: value})
		if bearerAlias && strings.HasPrefix(value, "Bearer ") {
			obs = append(obs, Observation{Key: "bearer-token", Value: value[len("Bearer "):]})
		}
	}
	return obs, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

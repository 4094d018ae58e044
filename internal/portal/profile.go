package portal

import (
	"strings"

	"github.com/crestview/portalbridge/internal/capture"
)

// Profile describes the society-management portal the bridge observes.
// Everything here is matcher data, not logic: the portal's URL layout and
// naming conventions change without notice, so they are kept swappable
// instead of hard-coded into the capture pipeline.
type Profile struct {
	// BaseURL is the root used to resolve relative endpoint addresses.
	BaseURL string
	// LoginURL is the address the interactive login navigates to.
	LoginURL string
	// AuthFallbackURL is forced when the login page shows no password input.
	AuthFallbackURL string
	// Origin is sent as the Origin header on replayed requests.
	Origin string
	// Host identifies same-origin addresses (substring match, as the
	// portal serves from several subdomains).
	Host string
	// SessionCookie is the cookie name that marks an authenticated session.
	SessionCookie string
	// LoginPathMarkers are path fragments that identify login-family addresses.
	LoginPathMarkers []string
	// ConsentSelector locates the cookie-consent accept control, if any.
	ConsentSelector string
	// EmailSelector and PasswordSelector locate the credential inputs for
	// automated logins.
	EmailSelector    string
	PasswordSelector string
	// UserAgent is presented by both the capture browser and replayed requests.
	UserAgent string

	// Endpoint-classification markers, fed to the capture extractor.
	AjaxMarker        string
	LegacyExt         string
	AjaxPrefix        string
	OtherPathPrefixes []string

	// Known data endpoints for the typed client.
	ResidentsEndpoint string
	FlatsEndpoint     string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Default returns the profile for the community's portal.
func Default() *Profile {
	return &Profile{
		BaseURL:           "https://www.adda.io",
		LoginURL:          "https://auth.adda.io/login",
		AuthFallbackURL:   "https://www.adda.io/login_auth",
		Origin:            "https://www.adda.io",
		Host:              "adda.io",
		SessionCookie:     "PHPSESSID",
		LoginPathMarkers:  []string{"/login", "/login_auth"},
		ConsentSelector:   "#acceptbutton",
		EmailSelector:     `input[type="email"], input[name="email"], #email`,
		PasswordSelector:  `input[type="password"]`,
		UserAgent:         defaultUserAgent,
		AjaxMarker:        "ajax",
		LegacyExt:         ".php",
		AjaxPrefix:        "ajax_",
		OtherPathPrefixes: []string{"/api/", "/ajax/"},
		ResidentsEndpoint: "/ajax_admin_residents_flats_members.php",
		FlatsEndpoint:     "/ajax_fetch_apt_flats.php",
	}
}

// Rules converts the profile markers into extractor configuration.
func (p *Profile) Rules() capture.Rules {
	return capture.Rules{
		AjaxMarker:        p.AjaxMarker,
		LegacyExt:         p.LegacyExt,
		AjaxPrefix:        p.AjaxPrefix,
		OtherPathPrefixes: p.OtherPathPrefixes,
		OriginMarker:      p.Host,
	}
}

// IsLoginAddress reports whether url belongs to the portal's login flow.
func (p *Profile) IsLoginAddress(url string) bool {
	for _, marker := range p.LoginPathMarkers {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// Resolve turns a captured endpoint into an absolute address.
func (p *Profile) Resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return p.BaseURL + endpoint
}

// Package capture records the network traffic of one login attempt and
// distills authentication tokens and endpoint addresses out of it.
package capture

import "time"

// Request is one observed HTTP exchange. Response stays nil until a matching
// response is attached by the tap.
type Request struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	PostData  string            `json:"postData,omitempty"`
	Response  *Response         `json:"response,omitempty"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
}

// Response is the response half of an observed exchange. Body is kept only
// for textual content types.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
}

// EndpointCatalog holds the discovered endpoint addresses, split by naming
// convention. These are call logs, not sets: order and multiplicity reflect
// call frequency, so entries are never deduplicated.
type EndpointCatalog struct {
	Ajax  []string `json:"ajax"`
	API   []string `json:"api"`
	Other []string `json:"other"`
}

// TokenSet maps lower-cased semantic keys to captured token values.
type TokenSet map[string]string

// Observation is one token sighting produced by the extractor. Generic
// observations only land if the key is not already present (first-observed
// wins); named observations always overwrite (last-observed wins). The
// asymmetry mirrors the portal's observed behavior and is deliberate.
type Observation struct {
	Key     string
	Value   string
	Generic bool
}

// Apply folds observations into the set under the first-wins/last-wins rules.
func (ts TokenSet) Apply(obs []Observation) {
	for _, o := range obs {
		if o.Generic {
			if _, exists := ts[o.Key]; exists {
				continue
			}
		}
		ts[o.Key] = o.Value
	}
}

// Clone returns a copy of the set.
func (ts TokenSet) Clone() map[string]string {
	out := make(map[string]string, len(ts))
	for k, v := range ts {
		out[k] = v
	}
	return out
}

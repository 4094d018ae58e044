package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crestview/portalbridge/internal/replay"
)

// Fetcher replays a portal endpoint with a stored session.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (replay.Result, error)
}

// Resident is one portal member row. The portal's legacy responses are loose
// about field types, so values are normalized to strings on decode.
type Resident struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Flat  string `json:"flat,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Flat is one apartment row.
type Flat struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Block string `json:"block,omitempty"`
}

// Client exposes the portal's known data endpoints as typed calls on top of
// the replay layer.
type Client struct {
	fetcher Fetcher
	profile *Profile
}

func NewClient(fetcher Fetcher, profile *Profile) *Client {
	return &Client{fetcher: fetcher, profile: profile}
}

// Residents fetches the member directory.
func (c *Client) Residents(ctx context.Context) ([]Resident, error) {
	rows, err := c.fetchRows(ctx, c.profile.ResidentsEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]Resident, 0, len(rows))
	for _, row := range rows {
		out = append(out, Resident{
			ID:    field(row, "id", "member_id", "user_id"),
			Name:  field(row, "name", "member_name", "full_name"),
			Email: field(row, "email", "email_id"),
			Phone: field(row, "phone", "mobile", "contact"),
			Flat:  field(row, "flat", "flat_name", "apartment"),
			Role:  field(row, "role", "member_type"),
		})
	}
	return out, nil
}

// Flats fetches the apartment list.
func (c *Client) Flats(ctx context.Context) ([]Flat, error) {
	rows, err := c.fetchRows(ctx, c.profile.FlatsEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]Flat, 0, len(rows))
	for _, row := range rows {
		out = append(out, Flat{
			ID:    field(row, "id", "flat_id"),
			Name:  field(row, "name", "flat_name", "flat"),
			Block: field(row, "block", "block_name", "tower"),
		})
	}
	return out, nil
}

func (c *Client) fetchRows(ctx context.Context, endpoint string) ([]map[string]any, error) {
	res, err := c.fetcher.Fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if res.Error == replay.ErrNoSession.Error() {
			return nil, fmt.Errorf("portal endpoint %s: %w", endpoint, replay.ErrNoSession)
		}
		return nil, fmt.Errorf("portal endpoint %s: %s", endpoint, res.Error)
	}
	if res.Data == nil {
		return nil, fmt.Errorf("portal endpoint %s: non-JSON response", endpoint)
	}
	return decodeRows(res.Data)
}

// decodeRows accepts both a bare array and the portal's {"data": [...]}
// wrapper.
func decodeRows(raw json.RawMessage) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode portal rows: %w", err)
	}
	return wrapped.Data, nil
}

// field returns the first present key, stringified.
func field(row map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

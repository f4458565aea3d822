// Package cli holds the HTTP client the mnt operator tool uses against
// the economy API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) EnsureAccount(ctx context.Context, userID string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(userID)+"/ensure", nil, nil, "")
}

func (c *Client) Account(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID), nil, &out, "")
	return out, err
}

func (c *Client) History(ctx context.Context, userID string, limit int) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/v1/accounts/%s/history?limit=%d", url.PathEscape(userID), limit)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) Stats(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID)+"/stats", nil, &out, "")
	return out, err
}

func (c *Client) Business(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID)+"/business", nil, &out, "")
	return out, err
}

func (c *Client) Lab(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID)+"/lab", nil, &out, "")
	return out, err
}

func (c *Client) Cards(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(userID)+"/cards", nil, &out, "")
	return out, err
}

func (c *Client) Company(ctx context.Context, companyID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/companies/%d", companyID), nil, &out, "")
	return out, err
}

func (c *Client) CompanyMembers(ctx context.Context, companyID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/companies/%d/members", companyID), nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/leaderboard?limit=%d", limit), nil, &out, "")
	return out, err
}

func (c *Client) AuditTotal(ctx context.Context) (string, error) {
	var out struct {
		TotalCents string `json:"total_cents"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/audit/total", nil, &out, "")
	return out.TotalCents, err
}

func (c *Client) Grant(ctx context.Context, userID string, amountCents int64, reason, idem string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/grants", map[string]any{
		"user_id":      userID,
		"amount_cents": amountCents,
		"reason":       reason,
	}, nil, idem)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

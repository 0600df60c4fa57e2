// Package idp implements the outbound client for the Lightdash identity
// provider. The bridge never sees Lightdash's session internals; it
// forwards the caller's cookies verbatim and interprets the response.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/bratrax/chatbridge/pkg/contracts"
	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Client talks to a Lightdash instance on behalf of a browser session.
//
// Every call carries the bounded timeout configured at construction;
// exceeding it classifies as unavailable, never as an indefinite hang.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Lightdash client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured Lightdash base address.
func (c *Client) BaseURL() string { return c.baseURL }

// LoginURL returns the Lightdash login endpoint used as a redirect target.
func (c *Client) LoginURL() string { return c.baseURL + "/login" }

// RegisterURL returns the Lightdash registration endpoint.
func (c *Client) RegisterURL() string { return c.baseURL + "/register" }

// resultsEnvelope is Lightdash's standard response wrapper.
type resultsEnvelope struct {
	Results json.RawMessage `json:"results"`
}

// ── Current user ────────────────────────────────────────────

// CurrentUser validates the forwarded cookie set against GET /api/v1/user.
//
// Classification:
//   - 200 with a well-formed identity  → SessionAuthenticated
//   - 200 with missing/malformed body  → SessionUnauthenticated
//   - any 4xx                          → SessionUnauthenticated
//   - connection refused or timeout    → SessionUnavailable
//   - anything else (5xx, transport)   → SessionError
func (c *Client) CurrentUser(ctx context.Context, cookie string) contracts.SessionCheck {
	status, body, err := c.get(ctx, "/api/v1/user", cookie)
	if err != nil {
		return classifyTransportError(err)
	}

	switch {
	case status == http.StatusOK:
		identity, ok := decodeIdentity(body)
		if !ok {
			// Malformed is treated like unauthenticated so parsing
			// detail never leaks to the caller.
			return contracts.SessionCheck{State: contracts.SessionUnauthenticated}
		}
		return contracts.SessionCheck{State: contracts.SessionAuthenticated, Identity: identity}
	case status >= 400 && status < 500:
		return contracts.SessionCheck{State: contracts.SessionUnauthenticated}
	default:
		return contracts.SessionCheck{
			State: contracts.SessionError,
			Err:   fmt.Errorf("lightdash returned status %d", status),
		}
	}
}

func decodeIdentity(body []byte) (*models.ExternalIdentity, bool) {
	var envelope struct {
		Results *models.ExternalIdentity `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	if envelope.Results == nil || envelope.Results.UserUUID == "" {
		return nil, false
	}
	return envelope.Results, true
}

// ── Credential endpoints ────────────────────────────────────

// MCPCredentials is the payload of GET /api/v1/user/mcp-credentials:
// the user's generic API key and project linkage.
type MCPCredentials struct {
	APIKey      string `json:"apiKey"`
	ProjectUUID string `json:"projectUuid"`
	UserUUID    string `json:"userUuid"`
}

// AccountRecord is one downstream-platform account as returned by
// GET /api/v1/user/get-credentials.
type AccountRecord struct {
	AccountID         string `json:"account_id"`
	CustomerManagerID string `json:"customer_manager_id,omitempty"`
	Token             string `json:"token"`
}

// PlatformCredentials maps a downstream platform name to its account
// records.
type PlatformCredentials map[string][]AccountRecord

// FetchMCPCredentials reads the user's API-key credentials. A non-200
// response or malformed body is an error; the aggregator decides whether
// that error is fatal (it never is).
func (c *Client) FetchMCPCredentials(ctx context.Context, cookie string) (*MCPCredentials, error) {
	status, body, err := c.get(ctx, "/api/v1/user/mcp-credentials", cookie)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("mcp-credentials returned status %d", status)
	}

	var envelope struct {
		Results *MCPCredentials `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode mcp-credentials: %w", err)
	}
	if envelope.Results == nil {
		return nil, errors.New("mcp-credentials: empty results")
	}
	return envelope.Results, nil
}

// FetchPlatformCredentials reads the user's per-platform account tokens.
func (c *Client) FetchPlatformCredentials(ctx context.Context, cookie string) (PlatformCredentials, error) {
	status, body, err := c.get(ctx, "/api/v1/user/get-credentials", cookie)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get-credentials returned status %d", status)
	}

	var envelope struct {
		Results PlatformCredentials `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode get-credentials: %w", err)
	}
	return envelope.Results, nil
}

// ── Transport ───────────────────────────────────────────────

// get issues a cookie-forwarded GET and returns status + body. 4xx and 5xx
// are returned as data, not errors, so callers can classify them.
func (c *Client) get(ctx context.Context, path, cookie string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// classifyTransportError folds a transport failure into the session-check
// taxonomy: refused/timeout means the provider is down (fall back), any
// other fault is an error.
func classifyTransportError(err error) contracts.SessionCheck {
	if isUnavailable(err) {
		log.Warn().Err(err).Msg("lightdash unavailable")
		return contracts.SessionCheck{State: contracts.SessionUnavailable, Err: err}
	}
	log.Error().Err(err).Msg("lightdash session check failed")
	return contracts.SessionCheck{State: contracts.SessionError, Err: err}
}

func isUnavailable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

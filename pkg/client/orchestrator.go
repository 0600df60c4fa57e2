// Package client provides the front-end orchestration for the chatbridge
// auth surface: a one-shot startup check (config → status) and the
// conjunction-gated credential-save trigger.
//
// The orchestrator is an explicit state machine owned by the instance; the
// state value itself guards re-entrancy, so the startup check runs exactly
// once per orchestrator lifetime no matter how many callers race into it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bratrax/chatbridge/pkg/models"
	"github.com/rs/zerolog/log"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle           State = "idle"
	StateCheckingConfig State = "checkingConfig"
	StateCheckingStatus State = "checkingStatus"
	// Terminal states.
	StateDisabled               State = "disabled"
	StateEnabledAuthenticated   State = "enabledAuthenticated"
	StateEnabledUnauthenticated State = "enabledUnauthenticated"
)

// Terminal reports whether the startup check has finished.
func (s State) Terminal() bool {
	switch s {
	case StateDisabled, StateEnabledAuthenticated, StateEnabledUnauthenticated:
		return true
	}
	return false
}

// Status is the decoded auth-status response.
type Status struct {
	Authenticated bool                     `json:"authenticated"`
	User          *models.PublicUser       `json:"user,omitempty"`
	LightdashUser *models.ExternalIdentity `json:"lightdashUser,omitempty"`
	Credentials   models.CredentialBundle  `json:"credentials,omitempty"`
	RedirectURL   string                   `json:"redirectUrl,omitempty"`
}

// Orchestrator drives the client side of the bridge's ordering contract.
type Orchestrator struct {
	base   string
	http   *http.Client
	cookie string // browser cookies forwarded to the bridge
	token  string // local session token, set after local login

	mu          sync.Mutex
	state       State
	status      *Status
	localAuthed bool
	saveFired   bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.http = c }
}

// WithCookie sets the cookie header forwarded on every bridge call.
func WithCookie(cookie string) Option {
	return func(o *Orchestrator) { o.cookie = cookie }
}

// NewOrchestrator creates an orchestrator against the bridge base URL.
func NewOrchestrator(baseURL string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		base:  baseURL,
		http:  &http.Client{Timeout: 10 * time.Second},
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// HasChecked reports whether the startup check has completed.
func (o *Orchestrator) HasChecked() bool {
	return o.State().Terminal()
}

// Status returns the last auth-status result, or nil before the check.
func (o *Orchestrator) Status() *Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// ── Startup check ───────────────────────────────────────────

// EnsureChecked runs the one-shot startup sequence: read the integration
// config, and if the integration is enabled, check auth status. Re-entrant
// calls, including calls racing the first one, observe the state and do
// not re-issue requests.
func (o *Orchestrator) EnsureChecked(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return state, nil
	}
	o.state = StateCheckingConfig
	o.mu.Unlock()

	enabled, err := o.fetchConfig(ctx)
	if err != nil {
		// Treat an unreachable bridge like a disabled integration: the
		// caller proceeds with local auth only.
		log.Warn().Err(err).Msg("bridge config check failed")
		o.finish(StateDisabled, &Status{Authenticated: false})
		return StateDisabled, err
	}
	if !enabled {
		o.finish(StateDisabled, &Status{Authenticated: false})
		return StateDisabled, nil
	}

	o.mu.Lock()
	o.state = StateCheckingStatus
	o.mu.Unlock()

	status, err := o.fetchStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bridge status check failed")
		o.finish(StateEnabledUnauthenticated, &Status{Authenticated: false})
		return StateEnabledUnauthenticated, err
	}

	state := StateEnabledUnauthenticated
	if status.Authenticated {
		state = StateEnabledAuthenticated
	}
	o.finish(state, status)
	o.maybeSaveCredentials(ctx)
	return state, nil
}

func (o *Orchestrator) finish(state State, status *Status) {
	o.mu.Lock()
	o.state = state
	o.status = status
	o.mu.Unlock()
}

// ── Credential-save trigger ─────────────────────────────────

// NotifyLocalAuth informs the orchestrator of the local session state.
// When the conjunction "bridge authenticated AND local authenticated"
// becomes true, the one-shot credential save fires. Token is the local
// session token used to prove local auth to the save endpoint.
func (o *Orchestrator) NotifyLocalAuth(ctx context.Context, authed bool, token string) {
	o.mu.Lock()
	o.localAuthed = authed
	if authed {
		o.token = token
	}
	o.mu.Unlock()
	o.maybeSaveCredentials(ctx)
}

// maybeSaveCredentials fires the save call at most once, and only when
// both authentication states are simultaneously true. The server enforces
// the same conjunction independently.
func (o *Orchestrator) maybeSaveCredentials(ctx context.Context) {
	o.mu.Lock()
	ready := o.localAuthed &&
		o.state == StateEnabledAuthenticated &&
		!o.saveFired
	if ready {
		o.saveFired = true
	}
	token := o.token
	o.mu.Unlock()
	if !ready {
		return
	}

	if err := o.postSaveCredentials(ctx, token); err != nil {
		log.Warn().Err(err).Msg("credential save failed")
	}
}

// ── HTTP ────────────────────────────────────────────────────

func (o *Orchestrator) fetchConfig(ctx context.Context) (bool, error) {
	var resp struct {
		IntegrationEnabled bool `json:"integrationEnabled"`
	}
	if err := o.getJSON(ctx, "/api/lightdash/config", &resp); err != nil {
		return false, err
	}
	return resp.IntegrationEnabled, nil
}

func (o *Orchestrator) fetchStatus(ctx context.Context) (*Status, error) {
	var status Status
	if err := o.getJSON(ctx, "/api/lightdash/auth-status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (o *Orchestrator) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+path, nil)
	if err != nil {
		return err
	}
	if o.cookie != "" {
		req.Header.Set("Cookie", o.cookie)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *Orchestrator) postSaveCredentials(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/api/lightdash/save-credentials", nil)
	if err != nil {
		return err
	}
	if o.cookie != "" {
		req.Header.Set("Cookie", o.cookie)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save-credentials returned status %d", resp.StatusCode)
	}
	log.Info().Msg("credential save completed")
	return nil
}

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bratrax/chatbridge/internal/api"
	"github.com/bratrax/chatbridge/internal/api/handlers"
	"github.com/bratrax/chatbridge/internal/auth"
	"github.com/bratrax/chatbridge/internal/config"
	"github.com/bratrax/chatbridge/internal/credentials"
	"github.com/bratrax/chatbridge/internal/identity"
	"github.com/bratrax/chatbridge/internal/idp"
	"github.com/bratrax/chatbridge/internal/store"
	"github.com/bratrax/chatbridge/pkg/contracts"
	"github.com/bratrax/chatbridge/pkg/models"
)

type stubValidator struct {
	check contracts.SessionCheck
}

func (s *stubValidator) CurrentUser(context.Context, string) contracts.SessionCheck {
	return s.check
}

func (s *stubValidator) LoginURL() string { return "http://idp.test/login" }

type stubFetcher struct {
	bundle models.CredentialBundle
}

func (s *stubFetcher) Fetch(context.Context, string) models.CredentialBundle {
	if s.bundle == nil {
		return models.CredentialBundle{}
	}
	return s.bundle
}

// bridge bundles the wired test server and its collaborators.
type bridge struct {
	router    http.Handler
	store     *store.MemoryStore
	validator *stubValidator
	fetcher   *stubFetcher
	tokens    *auth.SessionTokenService
}

func newBridge(t *testing.T, enabled bool) *bridge {
	t.Helper()
	cfg := &config.Config{Version: "test"}
	cfg.Lightdash.Enabled = enabled
	cfg.Lightdash.URL = "http://idp.test"

	s := store.NewMemoryStore()
	client := idp.NewClient(cfg.Lightdash.URL, time.Second)
	validator := &stubValidator{check: contracts.SessionCheck{State: contracts.SessionUnauthenticated}}
	reconciler := identity.NewReconciler(s, nil)
	fetcher := &stubFetcher{}
	tokens := auth.NewSessionTokenService("test-secret", time.Hour, s)
	d := auth.NewDispatcher(enabled, validator, reconciler, tokens)

	h := &handlers.Handlers{
		Store:      s,
		Config:     cfg,
		IdP:        client,
		Reconciler: reconciler,
		Aggregator: fetcher,
		Sink:       credentials.NewSink(s),
		Tokens:     tokens,
	}
	return &bridge{
		router:    api.NewRouter(cfg, h, d, tokens),
		store:     s,
		validator: validator,
		fetcher:   fetcher,
		tokens:    tokens,
	}
}

func (b *bridge) authenticateAs(ext *models.ExternalIdentity) {
	b.validator.check = contracts.SessionCheck{
		State:    contracts.SessionAuthenticated,
		Identity: ext,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, modify func(*http.Request)) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if modify != nil {
		modify(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
				t.Fatalf("decode response %q: %v", w.Body.String(), err)
			}
			decoded = nil
		}
	}
	return w, decoded
}

func TestGetConfig(t *testing.T) {
	b := newBridge(t, true)
	w, body := doJSON(t, b.router, http.MethodGet, "/api/lightdash/config", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["integrationEnabled"] != true {
		t.Error("integrationEnabled not reported")
	}
	if body["lightdashUrl"] != "http://idp.test" {
		t.Errorf("lightdashUrl = %v", body["lightdashUrl"])
	}
}

func TestAuthStatusUnauthenticated(t *testing.T) {
	b := newBridge(t, true)
	w, body := doJSON(t, b.router, http.MethodGet, "/api/lightdash/auth-status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, auth-status never blocks", w.Code)
	}
	if body["authenticated"] != false {
		t.Error("authenticated should be false")
	}
	if body["redirectUrl"] != "http://idp.test/login" {
		t.Errorf("redirectUrl = %v", body["redirectUrl"])
	}
}

func TestAuthStatusAuthenticated(t *testing.T) {
	b := newBridge(t, true)
	b.authenticateAs(&models.ExternalIdentity{
		UserUUID:  "ld-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@x.com",
	})
	b.fetcher.bundle = models.CredentialBundle{
		"lightdash": {Identifiers: "proj-1", Token: "key-1"},
	}

	w, body := doJSON(t, b.router, http.MethodGet, "/api/lightdash/auth-status", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["authenticated"] != true {
		t.Fatal("authenticated should be true")
	}
	user, _ := body["user"].(map[string]interface{})
	if user == nil || user["email"] != "ada@x.com" {
		t.Errorf("user = %v", body["user"])
	}
	ld, _ := body["lightdashUser"].(map[string]interface{})
	if ld == nil || ld["userUuid"] != "ld-1" {
		t.Errorf("lightdashUser = %v", body["lightdashUser"])
	}
	creds, _ := body["credentials"].(map[string]interface{})
	if creds == nil || creds["lightdash"] == nil {
		t.Error("credential bundle missing from authenticated status")
	}

	// First authenticated contact creates the local row.
	if _, err := b.store.FindUserByLightdashUUID(context.Background(), "ld-1"); err != nil {
		t.Errorf("local user not created: %v", err)
	}
}

func TestSyncUserRequiresSession(t *testing.T) {
	b := newBridge(t, true)
	w, _ := doJSON(t, b.router, http.MethodPost, "/api/lightdash/sync-user", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	b.authenticateAs(&models.ExternalIdentity{UserUUID: "ld-1", Email: "a@x.com"})
	w, body := doJSON(t, b.router, http.MethodPost, "/api/lightdash/sync-user", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["success"] != true {
		t.Error("success flag missing")
	}
}

func TestPushCreateThenUpdate(t *testing.T) {
	b := newBridge(t, true)

	w, body := doJSON(t, b.router, http.MethodPost, "/api/lightdash/sync-user-from-lightdash",
		map[string]string{"lightdashUuid": "abc", "email": "a@x.com"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first push status = %d, want 201: %v", w.Code, body)
	}
	userID, _ := body["userId"].(string)
	if userID == "" {
		t.Fatal("created push response missing userId")
	}
	created, err := b.store.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("created user not stored: %v", err)
	}
	if created.Username != "a" {
		t.Errorf("username = %q, want local part of email", created.Username)
	}

	w, body = doJSON(t, b.router, http.MethodPost, "/api/lightdash/sync-user-from-lightdash",
		map[string]string{"lightdashUuid": "abc", "email": "b@x.com"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second push status = %d, want 200", w.Code)
	}
	if body["userId"] != userID {
		t.Errorf("second push hit a different user: %v", body["userId"])
	}
	updated, _ := b.store.GetUser(context.Background(), userID)
	if updated.Email != "b@x.com" {
		t.Errorf("email not updated, got %q", updated.Email)
	}
}

func TestPushValidation(t *testing.T) {
	b := newBridge(t, true)

	w, _ := doJSON(t, b.router, http.MethodPost, "/api/lightdash/sync-user-from-lightdash",
		map[string]string{"email": "a@x.com"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing uuid: status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/lightdash/sync-user-from-lightdash",
		bytes.NewBufferString("{not json"))
	w2 := httptest.NewRecorder()
	b.router.ServeHTTP(w2, req)
	if w2.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", w2.Code)
	}
}

func TestPushConcurrentSameUUID(t *testing.T) {
	b := newBridge(t, true)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{
				"lightdashUuid": "race-uuid",
				"email":         fmt.Sprintf("u%d@x.com", i),
			})
			req := httptest.NewRequest(http.MethodPost, "/api/lightdash/sync-user-from-lightdash", bytes.NewReader(body))
			w := httptest.NewRecorder()
			b.router.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i, code := range codes {
		switch code {
		case http.StatusCreated:
			createdCount++
		case http.StatusOK:
		default:
			t.Errorf("push %d: unexpected status %d", i, code)
		}
	}
	if createdCount != 1 {
		t.Errorf("created %d users for one uuid, want exactly 1", createdCount)
	}
}

func TestSaveCredentials(t *testing.T) {
	ext := &models.ExternalIdentity{UserUUID: "ld-1", Email: "a@x.com"}

	t.Run("no external session", func(t *testing.T) {
		b := newBridge(t, true)
		w, _ := doJSON(t, b.router, http.MethodPost, "/api/lightdash/save-credentials", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401 from the required gate", w.Code)
		}
	})

	t.Run("no local session", func(t *testing.T) {
		b := newBridge(t, true)
		b.authenticateAs(ext)
		w, body := doJSON(t, b.router, http.MethodPost, "/api/lightdash/save-credentials", nil, nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403: %v", w.Code, body)
		}
		if body["error"] != "Local session required" {
			t.Errorf("error = %v", body["error"])
		}
	})

	t.Run("both sessions", func(t *testing.T) {
		b := newBridge(t, true)
		b.authenticateAs(ext)
		b.fetcher.bundle = models.CredentialBundle{
			"lightdash": {Identifiers: "proj-1", Token: "key-1"},
		}

		// Reconcile once so a local user exists to mint a token for.
		doJSON(t, b.router, http.MethodGet, "/api/lightdash/auth-status", nil, nil)
		user, err := b.store.FindUserByLightdashUUID(context.Background(), "ld-1")
		if err != nil {
			t.Fatalf("user not reconciled: %v", err)
		}
		token, err := b.tokens.Mint(user)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}

		w, body := doJSON(t, b.router, http.MethodPost, "/api/lightdash/save-credentials", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %v", w.Code, body)
		}
		if body["success"] != true {
			t.Error("success flag missing")
		}

		stored, err := b.store.GetCredential(context.Background(), user.ID, "lightdash")
		if err != nil {
			t.Fatalf("credential not installed: %v", err)
		}
		if stored.Token != "key-1" {
			t.Errorf("stored token = %q", stored.Token)
		}
	})

	t.Run("session mismatch", func(t *testing.T) {
		b := newBridge(t, true)
		b.authenticateAs(ext)

		other := &models.LocalUser{ID: "other", Email: "other@x.com"}
		if err := b.store.CreateUser(context.Background(), other); err != nil {
			t.Fatalf("seed other user: %v", err)
		}
		token, err := b.tokens.Mint(other)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}

		w, body := doJSON(t, b.router, http.MethodPost, "/api/lightdash/save-credentials", nil, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+token)
		})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if body["error"] != "Session mismatch" {
			t.Errorf("error = %v", body["error"])
		}
	})
}

func TestLightdashLogin(t *testing.T) {
	b := newBridge(t, true)
	user := &models.LocalUser{
		ID:            "u1",
		Name:          "Ada",
		Email:         "ada@x.com",
		LightdashUUID: "ld-1",
		Role:          models.RoleUser,
	}
	if err := b.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, body := doJSON(t, b.router, http.MethodPost, "/api/auth/lightdash-login",
		map[string]interface{}{"user": map[string]string{"lightdashUuid": "ld-1"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", w.Code, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token in response")
	}
	resp, _ := body["user"].(map[string]interface{})
	if resp == nil || resp["id"] != "u1" || resp["provider"] != "lightdash" {
		t.Errorf("user payload = %v", body["user"])
	}

	// The minted token must authenticate back through the local path.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resolved, err := b.tokens.Authenticate(context.Background(), req)
	if err != nil || resolved == nil || resolved.ID != "u1" {
		t.Errorf("minted token did not round-trip: %v", err)
	}
}

func TestLightdashLoginUnknownUUID(t *testing.T) {
	b := newBridge(t, true)
	w, _ := doJSON(t, b.router, http.MethodPost, "/api/auth/lightdash-login",
		map[string]interface{}{"user": map[string]string{"lightdashUuid": "nope"}}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestLightdashLoginMissingUUID(t *testing.T) {
	b := newBridge(t, true)
	w, _ := doJSON(t, b.router, http.MethodPost, "/api/auth/lightdash-login",
		map[string]interface{}{"user": map[string]string{}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLoginRedirectsOnlyWhenEnabled(t *testing.T) {
	enabled := newBridge(t, true)
	w, body := doJSON(t, enabled.router, http.MethodPost, "/api/auth/login", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["redirectUrl"] != "http://idp.test/login" {
		t.Errorf("redirectUrl = %v", body["redirectUrl"])
	}

	w, body = doJSON(t, enabled.router, http.MethodPost, "/api/auth/register", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d", w.Code)
	}
	if body["redirectUrl"] != "http://idp.test/register" {
		t.Errorf("register redirectUrl = %v", body["redirectUrl"])
	}

	disabled := newBridge(t, false)
	w, _ = doJSON(t, disabled.router, http.MethodPost, "/api/auth/login", nil, nil)
	if w.Code == http.StatusOK {
		t.Error("login redirect mounted with the integration off")
	}
}

func TestHealthAndVersion(t *testing.T) {
	b := newBridge(t, true)
	w, body := doJSON(t, b.router, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health: %d %v", w.Code, body)
	}
	w, body = doJSON(t, b.router, http.MethodGet, "/version", nil, nil)
	if w.Code != http.StatusOK || body["version"] != "test" {
		t.Errorf("version: %d %v", w.Code, body)
	}
}

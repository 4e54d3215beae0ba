package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/glebarez/sqlite"
	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/middleware"
	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

const (
	testRPID           = "example.com"
	testRPOrigin       = "https://example.com"
	testBootstrapToken = "test-bootstrap-token"
	testCookieName     = "glucolog_session"
)

type testEnv struct {
	app      *fiber.App
	store    store.Store
	sessions *services.SessionService
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(logger.Init)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	gormStore, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed creating gorm store: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:         "test",
			FrontendURL: "http://localhost:3001",
		},
		WebAuthn: config.WebAuthnConfig{
			RPID:             testRPID,
			RPDisplayName:    "Glucolog",
			RPOrigin:         testRPOrigin,
			UserVerification: "preferred",
			ChallengeTTL:     5 * time.Minute,
			OwnerName:        "Owner",
		},
		Session: config.SessionConfig{
			Secret:     "test-session-secret-0123456789ab",
			Lifetime:   time.Hour,
			CookieName: testCookieName,
		},
		Bootstrap: config.BootstrapConfig{Token: testBootstrapToken},
	}

	webauthnService, err := services.NewWebAuthnService(cfg.WebAuthn, gormStore)
	if err != nil {
		t.Fatalf("failed creating webauthn service: %v", err)
	}
	sessionService := services.NewSessionService(cfg.Session, false)
	bootstrapService := services.NewBootstrapService(gormStore, cfg.Bootstrap)
	auditService := services.NewAuditService(gormStore.DB())

	authMiddleware := middleware.NewAuthMiddleware(gormStore, sessionService, false)
	webauthnHandler := NewWebAuthnHandler(webauthnService, sessionService, auditService)
	bootstrapHandler := NewBootstrapHandler(bootstrapService, webauthnService, sessionService, auditService, cfg.WebAuthn.OwnerName)
	credentialsHandler := NewCredentialsHandler(gormStore, auditService)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestID())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register/options", authMiddleware.RequireAuth, webauthnHandler.RegisterOptions)
	authRoutes.Post("/register/verify", authMiddleware.RequireAuth, webauthnHandler.RegisterVerify)
	authRoutes.Post("/login/options", webauthnHandler.LoginOptions)
	authRoutes.Post("/login/verify", webauthnHandler.LoginVerify)
	authRoutes.Post("/bootstrap/options", bootstrapHandler.Options)
	authRoutes.Post("/bootstrap/verify", bootstrapHandler.Verify)
	authRoutes.Get("/session", authMiddleware.OptionalAuth, webauthnHandler.Session)
	authRoutes.Post("/logout", authMiddleware.OptionalAuth, webauthnHandler.Logout)

	credentialRoutes := api.Group("/credentials", authMiddleware.RequireAuth)
	credentialRoutes.Get("/", credentialsHandler.List)
	credentialRoutes.Patch("/:id", credentialsHandler.Rename)
	credentialRoutes.Delete("/:id", credentialsHandler.Delete)

	return &testEnv{app: app, store: gormStore, sessions: sessionService}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected error code %q, got %q", expected, got)
	}
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object in response, got %+v", body)
	}
	return data
}

// sessionCookie finds the session cookie in a response, failing the test if
// it was not set.
func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == testCookieName {
			return cookie
		}
	}
	t.Fatal("expected a session cookie to be set")
	return nil
}

func cookieHeaders(cookie *http.Cookie) map[string]string {
	return map[string]string{"Cookie": cookie.Name + "=" + cookie.Value}
}

// virtualDevice is a software authenticator for exercising ceremonies
// end to end over HTTP.
type virtualDevice struct {
	rp   virtualwebauthn.RelyingParty
	auth virtualwebauthn.Authenticator
	cred virtualwebauthn.Credential
}

func newVirtualDevice() *virtualDevice {
	return &virtualDevice{
		rp: virtualwebauthn.RelyingParty{
			Name:   "Glucolog",
			ID:     testRPID,
			Origin: testRPOrigin,
		},
		auth: virtualwebauthn.NewAuthenticator(),
		cred: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
}

// attest turns creation options from a handler response into an attestation
// response payload.
func (d *virtualDevice) attest(t *testing.T, options any) json.RawMessage {
	t.Helper()

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		t.Fatalf("failed marshaling creation options: %v", err)
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		t.Fatalf("failed parsing attestation options: %v", err)
	}

	response := virtualwebauthn.CreateAttestationResponse(d.rp, d.auth, d.cred, *parsed)
	d.auth.AddCredential(d.cred)
	return json.RawMessage(response)
}

// assert turns assertion options into an assertion response payload,
// advancing the signature counter.
func (d *virtualDevice) assert(t *testing.T, options any) json.RawMessage {
	t.Helper()

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		t.Fatalf("failed marshaling assertion options: %v", err)
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		t.Fatalf("failed parsing assertion options: %v", err)
	}

	d.cred.Counter++
	response := virtualwebauthn.CreateAssertionResponse(d.rp, d.auth, d.cred, *parsed)
	return json.RawMessage(response)
}

func (d *virtualDevice) credentialID() string {
	return base64.RawURLEncoding.EncodeToString(d.cred.ID)
}

// bootstrapDevice enrolls a fresh device through the bootstrap flow and
// returns it together with the session cookie the flow issued.
func bootstrapDevice(t *testing.T, env *testEnv) (*virtualDevice, *http.Cookie) {
	t.Helper()

	device := newVirtualDevice()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/bootstrap/options", map[string]any{
		"bootstrapToken": testBootstrapToken,
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	options := dataMap(t, decodeJSONMap(t, resp))["options"]

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/bootstrap/verify", map[string]any{
		"bootstrapToken": testBootstrapToken,
		"credential":     device.attest(t, options),
	}, nil)
	assertStatus(t, resp, http.StatusCreated)

	return device, sessionCookie(t, resp)
}

// loginDevice authenticates an already enrolled device and returns the new
// session cookie.
func loginDevice(t *testing.T, env *testEnv, device *virtualDevice) *http.Cookie {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/options", map[string]any{}, nil)
	assertStatus(t, resp, http.StatusOK)
	options := dataMap(t, decodeJSONMap(t, resp))["options"]

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/verify", map[string]any{
		"credential": device.assert(t, options),
	}, nil)
	assertStatus(t, resp, http.StatusOK)

	return sessionCookie(t, resp)
}

// registerDevice enrolls an additional device for an authenticated session.
func registerDevice(t *testing.T, env *testEnv, cookie *http.Cookie, friendlyName string) *virtualDevice {
	t.Helper()

	device := newVirtualDevice()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register/options", map[string]any{}, cookieHeaders(cookie))
	assertStatus(t, resp, http.StatusOK)
	options := dataMap(t, decodeJSONMap(t, resp))["options"]

	resp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register/verify", map[string]any{
		"credential":   device.attest(t, options),
		"friendlyName": friendlyName,
	}, cookieHeaders(cookie))
	assertStatus(t, resp, http.StatusCreated)

	return device
}

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/orion/api"
	"github.com/jmcleod/orion/storage/memory"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery staple"
	accessTTL    = 15 * time.Minute
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupServer(t *testing.T, opts ...api.Option) (*httptest.Server, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	opts = append([]api.Option{
		api.WithBcryptCost(bcrypt.MinCost),
		api.WithClock(clock.Now),
		api.WithTokenTTL(accessTTL, time.Hour),
	}, opts...)
	a := api.New(memory.NewRepository(), opts...)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv, clock
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func cookieValue(client *http.Client, rawURL, name string) string {
	u, _ := url.Parse(rawURL)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// doJSON sends body as JSON and echoes the CSRF cookie like a browser
// client would.
func doJSON(t *testing.T, client *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client.Jar != nil {
		if token := cookieValue(client, url, "orion_csrf"); token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL, email string) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/users/", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, baseURL+"/login", map[string]string{
		"email":    email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterLoginMe(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	assert.True(t, strings.HasPrefix(cookieValue(client, srv.URL, "access_token"), "Bearer "))
	assert.True(t, strings.HasPrefix(cookieValue(client, srv.URL, "refresh_token"), "Bearer "))
	assert.NotEmpty(t, cookieValue(client, srv.URL, "orion_csrf"))

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[api.UserResponse](t, resp)
	assert.Equal(t, testEmail, me.Email)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, "  Alice@Example.COM ")

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testEmail, decode[api.UserResponse](t, resp).Email)
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)

	for name, body := range map[string]any{
		"missing email":    map[string]string{"password": testPassword},
		"missing password": map[string]string{"email": testEmail},
		"unknown field":    map[string]string{"email": testEmail, "password": testPassword, "pw": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, srv.URL+"/users/", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	body := map[string]string{"email": testEmail, "password": testPassword}

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/users/", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/users/", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, resp).Error)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/users/", map[string]string{
		"email": testEmail, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/login", map[string]string{
		"email": testEmail, "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/login", map[string]string{
		"email": "nobody@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, cookieValue(client, srv.URL, "access_token"))
}

func TestLoginRateLimitedPerAccount(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)

	var last *http.Response
	for i := 0; i < 6; i++ {
		last = doJSON(t, client, http.MethodPost, srv.URL+"/login", map[string]string{
			"email": testEmail, "password": "wrong",
		})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)

	for _, path := range []string{"/me", "/users/", "/users/" + testEmail} {
		resp := doJSON(t, client, http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestAccessTokenExpiryAndRefresh(t *testing.T) {
	srv, clock := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	clock.Advance(accessTTL + time.Second)
	resp := doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	oldRefresh := cookieValue(client, srv.URL, "refresh_token")
	resp = doJSON(t, client, http.MethodPost, srv.URL+"/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, oldRefresh, cookieValue(client, srv.URL, "refresh_token"))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// replayRefresh presents a captured refresh cookie from a fresh client.
func replayRefresh(t *testing.T, baseURL, refreshCookie string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, baseURL+"/refresh", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshCookie})
	req.AddCookie(&http.Cookie{Name: "orion_csrf", Value: "token"})
	req.Header.Set("X-CSRF-Token", "token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	refresh := cookieValue(client, srv.URL, "refresh_token")
	require.Equal(t, http.StatusOK, replayRefresh(t, srv.URL, refresh).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, replayRefresh(t, srv.URL, refresh).StatusCode)
}

func TestRefreshWithoutSession(t *testing.T) {
	srv, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodPost, srv.URL+"/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = replayRefresh(t, srv.URL, "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefreshAfterAccountDeleted(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	refresh := cookieValue(client, srv.URL, "refresh_token")
	resp := doJSON(t, client, http.MethodDelete, srv.URL+"/users/"+testEmail, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, replayRefresh(t, srv.URL, refresh).StatusCode)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)
	refresh := cookieValue(client, srv.URL, "refresh_token")

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, cookieValue(client, srv.URL, "access_token"))
	assert.Empty(t, cookieValue(client, srv.URL, "refresh_token"))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, replayRefresh(t, srv.URL, refresh).StatusCode)
}

func replayMe(t *testing.T, baseURL, accessCookie string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, baseURL+"/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: accessCookie})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)
	access := cookieValue(client, srv.URL, "access_token")
	require.Equal(t, http.StatusOK, replayMe(t, srv.URL, access).StatusCode)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, replayMe(t, srv.URL, access).StatusCode)
}

func TestLogoutWithoutSession(t *testing.T) {
	srv, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodPost, srv.URL+"/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRFRequiredForMutations(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, srv.URL+"/users/"+testEmail,
		strings.NewReader(`{"password":"another password"}`))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err = http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/refresh", nil)
	require.NoError(t, err)
	req.Header.Set("X-CSRF-Token", "wrong")
	resp, err = client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUserCRUD(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/users/", map[string]string{
		"email": "bob@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.UserResponse](t, resp)
	assert.Equal(t, "bob@example.com", created.Email)
	assert.NotEmpty(t, created.CreatedAt)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/users/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.ListUsersResponse](t, resp)
	require.Len(t, list.Users, 2)
	assert.Equal(t, testEmail, list.Users[0].Email)
	assert.Equal(t, "bob@example.com", list.Users[1].Email)
	assert.Equal(t, 2, list.TotalCount)
	assert.False(t, list.HasMore)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/users/?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[api.ListUsersResponse](t, resp)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "bob@example.com", page.Users[0].Email)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/users/bob@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := json.Marshal(decode[map[string]any](t, resp))
	assert.NotContains(t, string(body), "password")

	resp = doJSON(t, client, http.MethodPut, srv.URL+"/users/bob@example.com", map[string]string{
		"password": "a brand new password",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bob := newClient(t)
	resp = doJSON(t, bob, http.MethodPost, srv.URL+"/login", map[string]string{
		"email": "bob@example.com", "password": "a brand new password",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, client, http.MethodDelete, srv.URL+"/users/bob@example.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/users/bob@example.com", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, client, http.MethodDelete, srv.URL+"/users/bob@example.com", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, client, http.MethodPut, srv.URL+"/users/bob@example.com", map[string]string{
		"password": "whatever",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateRequiresPassword(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	resp := doJSON(t, client, http.MethodPut, srv.URL+"/users/"+testEmail, map[string]string{"password": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeletedUserSessionRejected(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	resp := doJSON(t, client, http.MethodDelete, srv.URL+"/users/"+testEmail, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL, testEmail)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `orion_api_audit_events_total{event="login_success"} 1`)
	assert.Contains(t, buf.String(), "orion_http_requests_total")
}

func TestOpenAPIServed(t *testing.T) {
	srv, _ := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, srv.URL+"/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupServer(t, api.WithAllowedOrigins([]string{"http://localhost:5173"}))

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, srv.URL+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
}

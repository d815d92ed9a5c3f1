package client_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/orion/api"
	"github.com/jmcleod/orion/client"
	"github.com/jmcleod/orion/refresh"
	"github.com/jmcleod/orion/storage/memory"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery staple"
	accessTTL    = 15 * time.Minute
	refreshTTL   = time.Hour
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

// testServer is the account service behind a counter for POST /refresh.
// gate, when set, runs before each refresh reaches the service.
type testServer struct {
	*httptest.Server
	clock     *fakeClock
	refreshes atomic.Int32

	mu   sync.Mutex
	gate func()
}

func (s *testServer) setGate(fn func()) {
	s.mu.Lock()
	s.gate = fn
	s.mu.Unlock()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{clock: &fakeClock{now: time.Now()}}
	a := api.New(memory.NewRepository(),
		api.WithBcryptCost(bcrypt.MinCost),
		api.WithClock(ts.clock.Now),
		api.WithTokenTTL(accessTTL, refreshTTL),
	)
	router := a.Router()
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/refresh" {
			ts.refreshes.Add(1)
			ts.mu.Lock()
			gate := ts.gate
			ts.mu.Unlock()
			if gate != nil {
				gate()
			}
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

type invalidations struct {
	mu   sync.Mutex
	errs []error
}

func (i *invalidations) record(err error) {
	i.mu.Lock()
	i.errs = append(i.errs, err)
	i.mu.Unlock()
}

func (i *invalidations) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.errs)
}

func newClient(t *testing.T, srv *testServer, opts ...client.Option) (*client.Client, *invalidations, *prometheus.Registry) {
	t.Helper()
	inv := &invalidations{}
	reg := prometheus.NewRegistry()
	opts = append([]client.Option{client.WithRefreshOptions(
		refresh.WithSessionInvalidated(inv.record),
		refresh.WithMetrics(refresh.NewMetrics(reg)),
	)}, opts...)
	c, err := client.New(srv.URL, opts...)
	require.NoError(t, err)
	return c, inv, reg
}

func loggedIn(t *testing.T, srv *testServer, opts ...client.Option) (*client.Client, *invalidations, *prometheus.Registry) {
	t.Helper()
	c, inv, reg := newClient(t, srv, opts...)
	_, err := c.CreateUser(t.Context(), testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, c.Login(t.Context(), testEmail, testPassword))
	return c, inv, reg
}

func waiters(reg *prometheus.Registry) float64 {
	mfs, err := reg.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range mfs {
		if mf.GetName() == "orion_refresh_waiters_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

// holdUntilWaiters delays the refresh until n callers have joined the cycle.
func holdUntilWaiters(reg *prometheus.Registry, n int) func() {
	return func() {
		deadline := time.Now().Add(5 * time.Second)
		for waiters(reg) < float64(n) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestClient_LoginMeLogout(t *testing.T) {
	srv := newTestServer(t)
	c, _, _ := loggedIn(t, srv)

	me, err := c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, testEmail, me.Email)

	require.NoError(t, c.Logout(t.Context()))

	_, err = c.Me(t.Context())
	assert.ErrorIs(t, err, refresh.ErrRefreshFailed)
	assert.Equal(t, int32(1), srv.refreshes.Load())
}

func TestClient_LoginBadCredentialsDoesNotRefresh(t *testing.T) {
	srv := newTestServer(t)
	c, _, _ := newClient(t, srv)

	err := c.Login(t.Context(), testEmail, "wrong")
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestClient_NonUnauthorizedErrorSurfaces(t *testing.T) {
	srv := newTestServer(t)
	c, _, _ := loggedIn(t, srv)

	_, err := c.GetUser(t.Context(), "nobody@example.com")
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode())
	assert.NotEmpty(t, se.Message)
	assert.Equal(t, int32(0), srv.refreshes.Load())
}

func TestClient_ExpiredAccessTokenRefreshesTransparently(t *testing.T) {
	srv := newTestServer(t)
	c, inv, _ := loggedIn(t, srv)

	srv.clock.Advance(accessTTL + time.Second)
	me, err := c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, testEmail, me.Email)
	assert.Equal(t, int32(1), srv.refreshes.Load())
	assert.Zero(t, inv.count())

	_, err = c.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.refreshes.Load(), "renewed session needs no second refresh")
}

func TestClient_ConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	const n = 20
	srv := newTestServer(t)
	c, inv, reg := loggedIn(t, srv)

	srv.clock.Advance(accessTTL + time.Second)
	srv.setGate(holdUntilWaiters(reg, n-1))

	results := make([]string, n)
	g, ctx := errgroup.WithContext(t.Context())
	for i := range n {
		g.Go(func() error {
			if i%2 == 0 {
				me, err := c.Me(ctx)
				results[i] = me.Email
				return err
			}
			page, err := c.ListUsers(ctx, 10, 0)
			if err == nil && len(page.Users) > 0 {
				results[i] = page.Users[0].Email
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), srv.refreshes.Load())
	assert.Zero(t, inv.count())
	for _, r := range results {
		assert.Equal(t, testEmail, r)
	}
}

func TestClient_RefreshFailureFailsAllCallers(t *testing.T) {
	const n = 10
	srv := newTestServer(t)
	c, inv, reg := loggedIn(t, srv)

	srv.clock.Advance(refreshTTL + time.Second)
	srv.setGate(holdUntilWaiters(reg, n-1))

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Me(t.Context())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, refresh.ErrRefreshFailed)
		assert.True(t, client.IsStatus(err, http.StatusUnauthorized), "cause is kept")
	}
	assert.Equal(t, int32(1), srv.refreshes.Load())
	assert.Equal(t, 1, inv.count())
}

func TestClient_UserCRUD(t *testing.T) {
	srv := newTestServer(t)
	c, _, _ := loggedIn(t, srv)
	ctx := t.Context()

	created, err := c.CreateUser(ctx, "bob@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", created.Email)

	_, err = c.CreateUser(ctx, "bob@example.com", testPassword)
	assert.True(t, client.IsStatus(err, http.StatusConflict))

	page, err := c.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Users, 2)
	assert.Equal(t, 2, page.TotalCount)

	page, err = c.ListUsers(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "bob@example.com", page.Users[0].Email)

	got, err := c.GetUser(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", got.Email)

	_, err = c.UpdateUser(ctx, "bob@example.com", "new password")
	require.NoError(t, err)
	bob, _, _ := newClient(t, srv)
	require.NoError(t, bob.Login(ctx, "bob@example.com", "new password"))

	require.NoError(t, c.DeleteUser(ctx, "bob@example.com"))
	err = c.DeleteUser(ctx, "bob@example.com")
	assert.True(t, client.IsStatus(err, http.StatusNotFound))
}

func TestClient_FileJarSharesSession(t *testing.T) {
	srv := newTestServer(t)
	path := filepath.Join(t.TempDir(), "session.json")

	jar, err := client.OpenFileJar(path, srv.URL)
	require.NoError(t, err)
	c, _, _ := loggedIn(t, srv, client.WithCookieJar(jar))
	require.NoError(t, jar.Save())

	jar2, err := client.OpenFileJar(path, srv.URL)
	require.NoError(t, err)
	c2, _, _ := newClient(t, srv, client.WithCookieJar(jar2))
	me, err := c2.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, testEmail, me.Email)

	// Mutating calls need the persisted CSRF cookie too.
	_, err = c2.UpdateUser(t.Context(), testEmail, "rotated password")
	require.NoError(t, err)

	require.NoError(t, c.Logout(t.Context()))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := client.New("ftp://example.com")
	assert.Error(t, err)
	_, err = client.New("://bad")
	assert.Error(t, err)
}

func TestStatusError(t *testing.T) {
	err := error(&client.StatusError{Status: http.StatusConflict, Message: "email is already registered"})
	assert.Equal(t, "409 Conflict: email is already registered", err.Error())
	assert.True(t, client.IsStatus(err, http.StatusConflict))
	assert.False(t, client.IsStatus(errors.New("x"), http.StatusConflict))
	assert.False(t, refresh.IsUnauthorized(err))
	assert.True(t, refresh.IsUnauthorized(&client.StatusError{Status: http.StatusUnauthorized}))
}

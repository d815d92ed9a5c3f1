// Package client is a typed client for the account service.
//
// Every authenticated call goes through one refresh.Coordinator owned by the
// Client, so a burst of calls that all find the access token expired causes
// a single POST /refresh followed by one replay of each call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/orion/refresh"
)

const (
	csrfCookieName = "orion_csrf"
	csrfHeaderName = "X-CSRF-Token"

	maxResponseSize = 1 << 20
	defaultTimeout  = 30 * time.Second
)

// User is an account as seen by the client. Passwords are write-only.
type User struct {
	Email string `json:"email"`
}

// UserPage is one page of GET /users/.
type UserPage struct {
	Users      []User `json:"users"`
	TotalCount int    `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	HasMore    bool   `json:"has_more"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordUpdate struct {
	Password string `json:"password"`
}

type message struct {
	Message string `json:"message"`
}

// Client talks to the account service with a cookie session.
type Client struct {
	baseURL *url.URL
	base    string
	http    *http.Client
	jar     http.CookieJar
	logger  zerolog.Logger
	coord   *refresh.Coordinator

	refreshOpts []refresh.Option
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. The client is copied;
// its jar is used unless WithCookieJar is also given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCookieJar sets the jar holding the session cookies. Without it an
// in-memory jar is used.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// WithLogger sets the client logger. It is also handed to the coordinator.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
		c.refreshOpts = append(c.refreshOpts, refresh.WithLogger(l))
	}
}

// WithRefreshOptions passes options through to the refresh coordinator.
func WithRefreshOptions(opts ...refresh.Option) Option {
	return func(c *Client) { c.refreshOpts = append(c.refreshOpts, opts...) }
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		base:    strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.http
	switch {
	case c.jar != nil:
		hc.Jar = c.jar
	case hc.Jar == nil:
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	c.http = &hc
	c.jar = hc.Jar
	c.coord = refresh.New(refresh.RefresherFunc(c.Refresh), c.refreshOpts...)
	return c, nil
}

// Coordinator returns the refresh coordinator shared by all calls.
func (c *Client) Coordinator() *refresh.Coordinator {
	return c.coord
}

// Login starts a session. It bypasses the coordinator: a 401 here means
// bad credentials, not an expired session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/login", credentials{Email: email, Password: password}, nil)
}

// Refresh renews the session cookies. The coordinator calls it; callers
// rarely need to.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/refresh", nil, nil)
}

// Logout ends the session on the server.
func (c *Client) Logout(ctx context.Context) error {
	_, err := call[message](ctx, c, http.MethodPost, "/logout", nil)
	return err
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (User, error) {
	return call[User](ctx, c, http.MethodGet, "/me", nil)
}

// ListUsers returns one page of users ordered by email. Zero limit uses the
// server default.
func (c *Client) ListUsers(ctx context.Context, limit, offset int) (UserPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/users/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return call[UserPage](ctx, c, http.MethodGet, path, nil)
}

// CreateUser registers an account.
func (c *Client) CreateUser(ctx context.Context, email, password string) (User, error) {
	return call[User](ctx, c, http.MethodPost, "/users/", credentials{Email: email, Password: password})
}

// GetUser fetches one account.
func (c *Client) GetUser(ctx context.Context, email string) (User, error) {
	return call[User](ctx, c, http.MethodGet, userPath(email), nil)
}

// UpdateUser sets a new password for email.
func (c *Client) UpdateUser(ctx context.Context, email, password string) (User, error) {
	return call[User](ctx, c, http.MethodPut, userPath(email), passwordUpdate{Password: password})
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, email string) error {
	_, err := call[message](ctx, c, http.MethodDelete, userPath(email), nil)
	return err
}

func userPath(email string) string {
	return "/users/" + url.PathEscape(email)
}

// call runs one request through the coordinator.
func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	return refresh.Execute(ctx, c.coord, refresh.FromCall(func(ctx context.Context) (T, error) {
		var out T
		err := c.do(ctx, method, path, body, &out)
		return out, err
	}))
}

// do sends one request. Mutating requests echo the CSRF cookie in the
// header. Non-2xx responses become *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		if token := c.csrfToken(); token != "" {
			req.Header.Set(csrfHeaderName, token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request")

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil {
			se.Message = e.Error
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) csrfToken() string {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == csrfCookieName {
			return ck.Value
		}
	}
	return ""
}

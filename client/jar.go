package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileJar is a cookie jar for a single service that can be saved to disk,
// so successive CLI invocations share one session.
type FileJar struct {
	mu      sync.Mutex
	path    string
	baseURL *url.URL
	jar     *cookiejar.Jar
	cookies map[string]*http.Cookie
	now     func() time.Time
}

type jarFile struct {
	URL     string        `json:"url"`
	Cookies []savedCookie `json:"cookies"`
}

type savedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// OpenFileJar loads the cookies saved at path for baseURL. A missing file,
// or one saved for a different service, yields an empty jar.
func OpenFileJar(path, baseURL string) (*FileJar, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &FileJar{
		path:    path,
		baseURL: u,
		jar:     inner,
		cookies: make(map[string]*http.Cookie),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	var f jarFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding cookie file %s: %w", path, err)
	}
	if f.URL != u.String() {
		return j, nil
	}

	restored := make([]*http.Cookie, 0, len(f.Cookies))
	for _, sc := range f.Cookies {
		restored = append(restored, &http.Cookie{
			Name:     sc.Name,
			Value:    sc.Value,
			Path:     sc.Path,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HttpOnly,
		})
	}
	j.SetCookies(u, restored)
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *FileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.jar.SetCookies(u, cookies)
	now := j.now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			delete(j.cookies, c.Name)
			continue
		}
		cp := *c
		if cp.MaxAge > 0 {
			cp.Expires = now.Add(time.Duration(cp.MaxAge) * time.Second)
			cp.MaxAge = 0
		}
		j.cookies[c.Name] = &cp
	}
}

// Cookies implements http.CookieJar.
func (j *FileJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// Save writes the live persistent cookies to disk with owner-only
// permissions. Session cookies (no expiry) are not saved.
func (j *FileJar) Save() error {
	j.mu.Lock()
	f := jarFile{URL: j.baseURL.String(), Cookies: []savedCookie{}}
	now := j.now()
	for _, c := range j.cookies {
		if c.Expires.IsZero() || !c.Expires.After(now) {
			continue
		}
		f.Cookies = append(f.Cookies, savedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	j.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("creating cookie dir: %w", err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cookie file: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("replacing cookie file: %w", err)
	}
	return nil
}

// Clear forgets every cookie and removes the file.
func (j *FileJar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	j.jar = inner
	j.cookies = make(map[string]*http.Cookie)
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cookie file: %w", err)
	}
	return nil
}

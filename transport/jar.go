package transport

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"
)

// StoredCookie is a cookie set by the backend, in a form that can be saved
// and replayed by a later process.
type StoredCookie struct {
	// URL is the request URL the cookie was set on. Restoring against the
	// same URL reproduces the jar's default domain and path.
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

func (c StoredCookie) key() string {
	return c.Name + "\x00" + c.Domain + "\x00" + c.Path
}

func (c StoredCookie) expiredAt(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// SessionJar is an http.CookieJar that also remembers every live cookie
// the backend set, so the refresh cookie can outlive the process.
type SessionJar struct {
	mu   sync.Mutex
	jar  *cookiejar.Jar
	kept map[string]StoredCookie
	now  func() time.Time
}

// NewSessionJar returns an empty jar.
func NewSessionJar() *SessionJar {
	j := &SessionJar{now: time.Now}
	j.reset()
	return j
}

func (j *SessionJar) reset() {
	// cookiejar.New only fails for a bad PublicSuffixList.
	j.jar, _ = cookiejar.New(nil)
	j.kept = make(map[string]StoredCookie)
}

func (j *SessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)

	now := j.now()
	for _, c := range cookies {
		sc := StoredCookie{
			URL:      u.String(),
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.MaxAge > 0 {
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || c.Value == "" || sc.expiredAt(now) {
			delete(j.kept, sc.key())
			continue
		}
		j.kept[sc.key()] = sc
	}
}

func (j *SessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// Export returns the live cookies, ordered by name.
func (j *SessionJar) Export() []StoredCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	out := make([]StoredCookie, 0, len(j.kept))
	for k, c := range j.kept {
		if c.expiredAt(now) {
			delete(j.kept, k)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].key() < out[b].key() })
	return out
}

// Restore loads cookies saved by Export. Expired entries and entries with
// an unparsable URL are skipped. Restoring replaces cookies with the same
// name, domain and path.
func (j *SessionJar) Restore(cookies []StoredCookie) {
	now := j.now()
	for _, c := range cookies {
		if c.Name == "" || c.expiredAt(now) {
			continue
		}
		u, err := url.Parse(c.URL)
		if err != nil || u.Host == "" {
			continue
		}
		j.SetCookies(u, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}})
	}
}

// Reset drops every cookie.
func (j *SessionJar) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reset()
}

package middleware

import (
	"html/template"
	"net/http"
)

// Renderers draws the pages a guard serves instead of the protected
// handler.
type Renderers interface {
	// Loading is served with 503 while the session is unsettled.
	Loading(w http.ResponseWriter, r *http.Request, d Decision)
	// Error is served with 500 and offers a retry of the same URL and a
	// link to loginPath.
	Error(w http.ResponseWriter, r *http.Request, d Decision, loginPath string)
	// Forbidden is served with 403 when the user lacks the required roles.
	Forbidden(w http.ResponseWriter, r *http.Request, d Decision)
}

const pageTemplates = `
{{define "head"}}<!doctype html><html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>{{end}}
{{define "loading"}}{{template "head" .}}
<h2>Verifying Authentication</h2>
<p>Please wait while we check your credentials...</p>
</body></html>{{end}}
{{define "error"}}{{template "head" .}}
<h2>Authentication Error</h2>
<p>{{.Message}}</p>
<p><a href="{{.Retry}}">Try Again</a></p>
<p><a href="{{.Login}}">Go to Login</a></p>
</body></html>{{end}}
{{define "forbidden"}}{{template "head" .}}
<h2>Access Denied</h2>
<p>You don't have the required permissions to access this page.</p>
<p><a href="javascript:history.back()">Go Back</a></p>
</body></html>{{end}}
`

var pages = template.Must(template.New("pages").Parse(pageTemplates))

type pageData struct {
	Title   string
	Message string
	Retry   string
	Login   string
}

type htmlRenderers struct {
	tpl *template.Template
}

// DefaultRenderers returns minimal HTML pages.
func DefaultRenderers() Renderers {
	return htmlRenderers{tpl: pages}
}

func (h htmlRenderers) Loading(w http.ResponseWriter, _ *http.Request, _ Decision) {
	w.Header().Set("Retry-After", "1")
	h.render(w, http.StatusServiceUnavailable, "loading", pageData{Title: "Loading"})
}

func (h htmlRenderers) Error(w http.ResponseWriter, r *http.Request, d Decision, loginPath string) {
	msg := d.Error
	if msg == "" {
		msg = "Unable to verify your authentication. Please try again."
	}
	h.render(w, http.StatusInternalServerError, "error", pageData{
		Title:   "Authentication Error",
		Message: msg,
		Retry:   r.URL.RequestURI(),
		Login:   loginPath,
	})
}

func (h htmlRenderers) Forbidden(w http.ResponseWriter, _ *http.Request, _ Decision) {
	h.render(w, http.StatusForbidden, "forbidden", pageData{Title: "Access Denied"})
}

func (h htmlRenderers) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = h.tpl.ExecuteTemplate(w, name, data)
}

package main

import (
	"html/template"
	"net/http"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "head"}}<!doctype html><html><head><meta charset="utf-8"><title>{{.Title}}</title></head><body>{{end}}
{{define "foot"}}</body></html>{{end}}

{{define "login"}}{{template "head" .}}
<h2>Sign in</h2>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="from" value="{{.From}}">
<p><label>Email <input type="email" name="email" value="{{.Email}}" autocomplete="username"></label></p>
<p><label>Password <input type="password" name="password" autocomplete="current-password"></label></p>
<p><button type="submit">Sign in</button></p>
</form>
{{template "foot" .}}{{end}}

{{define "dashboard"}}{{template "head" .}}
<h2>Dashboard</h2>
<p>Signed in as <strong>{{.User.Email}}</strong> ({{range $i, $r := .User.Role}}{{if $i}}, {{end}}{{$r}}{{end}})</p>
{{if .Staleness}}<p>Session state is at most {{.Staleness}} stale.</p>{{end}}
{{if .Admin}}<p><a href="/admin">Administration</a></p>{{end}}
<form method="post" action="/logout"><button type="submit">Log out</button></form>
<form method="post" action="/logout-all"><button type="submit">Log out everywhere</button></form>
{{template "foot" .}}{{end}}

{{define "admin"}}{{template "head" .}}
<h2>Administration</h2>
<p>{{.User.Email}} holds administrator access.</p>
<p><a href="/dashboard">Back to dashboard</a></p>
{{template "foot" .}}{{end}}
`))

type pageData struct {
	Title     string
	Error     string
	From      string
	Email     string
	User      any
	Admin     bool
	Staleness string
}

func render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = pages.ExecuteTemplate(w, name, data)
}

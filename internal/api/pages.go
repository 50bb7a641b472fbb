package api

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "layout_head"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="robots" content="noindex"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; text-align: center; padding: 50px;">{{end}}

{{define "confirm"}}{{template "layout_head" .}}
<h1 style="color: #667eea;">{{.Title}}</h1>
<p><strong>{{.Booking.RequesterName}}</strong> &lt;{{.Booking.RequesterEmail}}&gt;</p>
<p>{{.Booking.MeetingDate}} at {{.Booking.MeetingTime}} ({{.Booking.DurationMinutes}} minutes)</p>
{{if .Booking.Purpose}}<p>{{.Booking.Purpose}}</p>{{end}}
<form method="post" action="{{.Action}}">
<button type="submit" style="padding: 12px 32px; font-size: 16px;">{{.Button}}</button>
</form>
</body></html>{{end}}

{{define "result"}}{{template "layout_head" .}}
<h1 style="color: {{.Color}};">{{.Title}}</h1>
{{range .Lines}}<p>{{.}}</p>{{end}}
</body></html>{{end}}
`))

type confirmPage struct {
	Title   string
	Button  string
	Action  string
	Booking any
}

type resultPage struct {
	Title string
	Color string
	Lines []string
}

const (
	colorSuccess = "#667eea"
	colorNeutral = "#888"
	colorFailure = "#e53e3e"
)

func renderPage(w http.ResponseWriter, logger zerolog.Logger, statusCode int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(statusCode)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logger.Error().Err(err).Str("page", name).Msg("render page")
	}
}

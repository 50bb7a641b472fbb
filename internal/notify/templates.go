package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"meetbook/internal/models"
)

const layoutStyle = `font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;`

var templates = template.Must(template.New("mail").Parse(`
{{define "details"}}
<table style="border-collapse: collapse; width: 100%;">
  {{if .ShowRequester}}<tr><td style="padding: 8px; font-weight: bold;">From:</td><td style="padding: 8px;">{{.Booking.RequesterName}} ({{.Booking.RequesterEmail}})</td></tr>{{end}}
  <tr><td style="padding: 8px; font-weight: bold;">Date:</td><td style="padding: 8px;">{{.Booking.MeetingDate}}</td></tr>
  <tr><td style="padding: 8px; font-weight: bold;">Time:</td><td style="padding: 8px;">{{.Booking.MeetingTime}} ({{.Timezone}})</td></tr>
  <tr><td style="padding: 8px; font-weight: bold;">Duration:</td><td style="padding: 8px;">{{.Booking.DurationMinutes}} minutes</td></tr>
  <tr><td style="padding: 8px; font-weight: bold;">Purpose:</td><td style="padding: 8px;">{{if .Booking.Purpose}}{{.Booking.Purpose}}{{else}}Not specified{{end}}</td></tr>
  <tr><td style="padding: 8px; font-weight: bold;">Reference:</td><td style="padding: 8px;">{{.Booking.Reference}}</td></tr>
</table>
{{end}}

{{define "approval_request"}}
<div style="` + layoutStyle + `">
  <h2 style="color: #667eea;">New Meeting Request</h2>
  {{template "details" .}}
  <br>
  <a href="{{.ApproveURL}}" style="background: #667eea; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; font-weight: bold; display: inline-block; margin-right: 12px;">Approve Meeting</a>
  <a href="{{.DeclineURL}}" style="background: #e53e3e; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; font-weight: bold; display: inline-block;">Decline</a>
</div>
{{end}}

{{define "confirmation"}}
<div style="` + layoutStyle + `">
  <h2 style="color: #667eea;">Your meeting with {{.OwnerName}} has been confirmed!</h2>
  {{template "details" .}}
  <p>You should also receive a calendar invitation shortly.</p>
  <p>Looking forward to speaking with you!</p>
</div>
{{end}}

{{define "decline_notice"}}
<div style="` + layoutStyle + `">
  <h2 style="color: #4a5568;">Your meeting request could not be accommodated</h2>
  {{template "details" .}}
  <p>{{.OwnerName}} is not able to meet at this time. Feel free to propose another slot.</p>
</div>
{{end}}

{{define "operator_alert"}}
<div style="` + layoutStyle + `">
  <h2 style="color: #e53e3e;">{{.Subject}}</h2>
  <pre style="white-space: pre-wrap;">{{.Text}}</pre>
</div>
{{end}}
`))

type mailData struct {
	Booking       *models.BookingRequest
	ShowRequester bool
	Timezone      string
	OwnerName     string
	ApproveURL    string
	DeclineURL    string
	Subject       string
	Text          string
}

func render(name string, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"unicode/utf8"
)

// Content is a rendered message body.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// AlertEmail feeds the alert template.
type AlertEmail struct {
	ID          string
	Severity    string
	Domain      string
	Description string
	CreatedAt   string
}

// CaseEmail feeds the case update template.
type CaseEmail struct {
	CaseNumber string
	Title      string
	Status     string
	Priority   string
	UpdateType string // e.g. "update", "assigned", "closed"
	Message    string
}

// BreachEmail feeds the SLA breach template.
type BreachEmail struct {
	AlertID     string
	Severity    string
	Description string
	SLAMinutes  int
}

// DigestEmail feeds the daily digest template.
type DigestEmail struct {
	Date           string
	TotalAlerts    int
	CriticalAlerts int
	OpenAlerts     int
	SLABreaches    int
	Alerts         []AlertEmail
}

// NoticeEmail feeds the generic template used for system notices.
type NoticeEmail struct {
	Title   string
	Message string
}

// Renderer turns typed template data into mail content under a brand name.
type Renderer struct {
	brand string
	html  *htmltemplate.Template
	text  *texttemplate.Template
}

var funcs = map[string]any{
	"title":         titleCase,
	"severityColor": severityColor,
}

// NewRenderer parses the built-in templates.
func NewRenderer(brand string) (*Renderer, error) {
	if brand == "" {
		brand = "Alertflow"
	}
	h, err := htmltemplate.New("html").Funcs(funcs).Parse(htmlTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	t, err := texttemplate.New("text").Funcs(funcs).Parse(textTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &Renderer{brand: brand, html: h, text: t}, nil
}

type view struct {
	Brand string
	Data  any
}

// Alert renders a new-alert notification.
func (r *Renderer) Alert(a AlertEmail) (Content, error) {
	subject := fmt.Sprintf("[%s Alert - %s] %s", r.brand, a.Severity, truncate(a.Description, 50))
	return r.render("alert", subject, a)
}

// CaseUpdate renders a case update notification.
func (r *Renderer) CaseUpdate(c CaseEmail) (Content, error) {
	if c.UpdateType == "" {
		c.UpdateType = "update"
	}
	subject := fmt.Sprintf("[%s Case %s] %s: %s", r.brand, titleCase(c.UpdateType), c.CaseNumber, truncate(c.Title, 40))
	return r.render("case_update", subject, c)
}

// SLABreach renders an SLA breach escalation.
func (r *Renderer) SLABreach(b BreachEmail) (Content, error) {
	return r.render("sla_breach", fmt.Sprintf("[URGENT] SLA BREACH - Alert %s", b.AlertID), b)
}

// Digest renders the daily digest.
func (r *Renderer) Digest(d DigestEmail) (Content, error) {
	return r.render("digest", fmt.Sprintf("[%s] Daily Digest - %s", r.brand, d.Date), d)
}

// Notice renders a generic titled message.
func (r *Renderer) Notice(n NoticeEmail) (Content, error) {
	return r.render("notice", fmt.Sprintf("[%s] %s", r.brand, n.Title), n)
}

func (r *Renderer) render(name, subject string, data any) (Content, error) {
	v := view{Brand: r.brand, Data: data}
	var hb, tb bytes.Buffer
	if err := r.html.ExecuteTemplate(&hb, name, v); err != nil {
		return Content{}, fmt.Errorf("render %s html: %w", name, err)
	}
	if err := r.text.ExecuteTemplate(&tb, name, v); err != nil {
		return Content{}, fmt.Errorf("render %s text: %w", name, err)
	}
	return Content{Subject: subject, HTML: hb.String(), Text: strings.TrimSpace(tb.String()) + "\n"}, nil
}

// truncate keeps the first n runes and always marks the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n])
	}
	return s + "..."
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func severityColor(sev string) string {
	switch sev {
	case "Critical":
		return "#dc3545"
	case "High":
		return "#fd7e14"
	case "Medium":
		return "#ffc107"
	default:
		return "#28a745"
	}
}

const htmlTemplates = `
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.content { padding: 20px; background-color: #f8f9fa; }
.detail { margin: 10px 0; }
.label { font-weight: bold; color: #495057; }
.footer { text-align: center; padding: 20px; color: #6c757d; font-size: 12px; }
</style>
</head>
<body>
<div class="container">{{end}}

{{define "foot"}}<div class="footer">
<p>This is an automated notification from {{.Brand}}.</p>
<p>Do not reply to this email.</p>
</div>
</div>
</body>
</html>{{end}}

{{define "alert"}}{{template "head" .}}{{with .Data}}
<div style="background-color: {{severityColor .Severity}}; color: white; padding: 20px; text-align: center;">
<h1>Security Alert</h1>
<h2>{{.Severity}} Severity</h2>
</div>
<div class="content">
<div class="detail"><span class="label">Alert ID:</span> {{.ID}}</div>
<div class="detail"><span class="label">Domain:</span> {{.Domain}}</div>
<div class="detail"><span class="label">Description:</span><br>{{.Description}}</div>
<div class="detail"><span class="label">Time:</span> {{.CreatedAt}}</div>
</div>{{end}}
{{template "foot" .}}{{end}}

{{define "case_update"}}{{template "head" .}}{{with .Data}}
<div style="background-color: #007bff; color: white; padding: 20px; text-align: center;">
<h1>Case {{title .UpdateType}}</h1>
<h2>{{.CaseNumber}}</h2>
</div>
<div class="content">
<div class="detail"><span class="label">Title:</span> {{.Title}}</div>
<div class="detail"><span class="label">Status:</span> {{.Status}}</div>
<div class="detail"><span class="label">Priority:</span> {{title .Priority}}</div>
{{if .Message}}<div class="detail">{{.Message}}</div>{{end}}
</div>{{end}}
{{template "foot" .}}{{end}}

{{define "sla_breach"}}{{template "head" .}}{{with .Data}}
<div style="background-color: #dc3545; color: white; padding: 20px; text-align: center;">
<h1>SLA BREACH</h1>
<h2>IMMEDIATE ACTION REQUIRED</h2>
</div>
<div class="content" style="background-color: #fff3cd; border: 2px solid #dc3545;">
<p style="color: #dc3545; font-weight: bold;">Alert {{.AlertID}} has breached its SLA of {{.SLAMinutes}} minutes!</p>
<div class="detail"><span class="label">Severity:</span> {{.Severity}}</div>
<div class="detail"><span class="label">Description:</span><br>{{.Description}}</div>
</div>{{end}}
{{template "foot" .}}{{end}}

{{define "digest"}}{{template "head" .}}{{with .Data}}
<div style="background-color: #343a40; color: white; padding: 20px; text-align: center;">
<h1>Daily Digest</h1>
<h3>{{.Date}}</h3>
</div>
<div class="content">
<div class="detail"><span class="label">Total Alerts:</span> {{.TotalAlerts}}</div>
<div class="detail"><span class="label">Critical Alerts:</span> {{.CriticalAlerts}}</div>
<div class="detail"><span class="label">Open Alerts:</span> {{.OpenAlerts}}</div>
<div class="detail"><span class="label">SLA Breaches:</span> {{.SLABreaches}}</div>
{{if .Alerts}}<ul>{{range .Alerts}}<li>[{{.Severity}}] {{.Description}}</li>{{end}}</ul>{{end}}
</div>{{end}}
{{template "foot" .}}{{end}}

{{define "notice"}}{{template "head" .}}{{with .Data}}
<div class="content">
<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
</div>{{end}}
{{template "foot" .}}{{end}}
`

const textTemplates = `
{{define "alert"}}{{with .Data}}SECURITY ALERT
==============
Severity: {{.Severity}}
Alert ID: {{.ID}}
Domain: {{.Domain}}
Description: {{.Description}}
Time: {{.CreatedAt}}{{end}}

Please log in to the {{.Brand}} dashboard for more details.{{end}}

{{define "case_update"}}{{with .Data}}CASE {{.UpdateType}}: {{.CaseNumber}}
Title: {{.Title}}
Status: {{.Status}}
Priority: {{title .Priority}}
{{if .Message}}{{.Message}}{{end}}{{end}}{{end}}

{{define "sla_breach"}}{{with .Data}}SLA BREACH - IMMEDIATE ACTION REQUIRED
Alert {{.AlertID}} has breached its SLA of {{.SLAMinutes}} minutes.
Severity: {{.Severity}}
Description: {{.Description}}{{end}}{{end}}

{{define "digest"}}{{with .Data}}DAILY DIGEST {{.Date}}
Total alerts: {{.TotalAlerts}}
Critical alerts: {{.CriticalAlerts}}
Open alerts: {{.OpenAlerts}}
SLA breaches: {{.SLABreaches}}
{{range .Alerts}}- [{{.Severity}}] {{.Description}}
{{end}}{{end}}{{end}}

{{define "notice"}}{{with .Data}}{{.Title}}

{{.Message}}{{end}}{{end}}
`

package notifications

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/opsrelay/incident-backend/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"upper":         strings.ToUpper,
		"lower":         strings.ToLower,
		"formatTime":    formatTime,
		"severityEmoji": severityEmoji,
		"statusEmoji":   statusEmoji,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   funcMap,
	}

	channelTypes := []string{"email", "sms"}
	eventTypes := []string{"created", "status_changed", "severity_changed", "comment_added", "adhoc"}

	for _, channel := range channelTypes {
		for _, event := range eventTypes {
			name := fmt.Sprintf("%s_%s", channel, event)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

// Render renders a notification payload for the specified channel type.
// Returns subject and body. Webhook channels get the payload as JSON so
// receivers can parse it structurally instead of scraping text.
func (r *Renderer) Render(channelType domain.ChannelType, payload NotificationPayload) (subject, body string, err error) {
	subject = r.renderSubject(payload)

	if channelType == domain.ChannelTypeWebhook {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", "", fmt.Errorf("marshal webhook payload: %w", err)
		}
		return subject, string(data), nil
	}

	templateName := fmt.Sprintf("%s_%s", channelType, payload.EventType)
	tmpl, ok := r.templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", templateName, err)
	}

	body = strings.TrimSpace(buf.String())
	return subject, body, nil
}

// renderSubject generates the notification subject line.
func (r *Renderer) renderSubject(payload NotificationPayload) string {
	switch payload.EventType {
	case domain.EventTypeCreated:
		return fmt.Sprintf("[%s] New incident: %s", strings.ToUpper(payload.Incident.Severity), payload.Incident.Title)
	case domain.EventTypeStatusChanged:
		return fmt.Sprintf("[%s] Incident %s: %s", payload.Change.To, payload.Incident.ID, payload.Incident.Title)
	case domain.EventTypeSeverityChanged:
		return fmt.Sprintf("[%s] Severity changed: %s", strings.ToUpper(payload.Change.To), payload.Incident.Title)
	case domain.EventTypeCommentAdded:
		return fmt.Sprintf("[comment] %s", payload.Incident.Title)
	case domain.EventTypeAdHoc:
		if payload.Subject != "" {
			return payload.Subject
		}
		return fmt.Sprintf("[notice] %s", payload.Incident.Title)
	default:
		return payload.Incident.Title
	}
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "low":
		return "🟢"
	case "medium":
		return "🟡"
	case "high":
		return "🟠"
	case "critical":
		return "🔴"
	default:
		return "⚪"
	}
}

func statusEmoji(status string) string {
	switch strings.ToLower(status) {
	case "open":
		return "🔔"
	case "in_progress":
		return "🔧"
	case "resolved":
		return "✅"
	case "closed":
		return "📁"
	default:
		return "📋"
	}
}

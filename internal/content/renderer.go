package content

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/lead-garden/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Vars holds the variables substituted into message content.
type Vars struct {
	FirstName      string
	LastName       string
	FullName       string
	Email          string
	SchedulingLink string
	UnsubscribeURL string
	MeetingTime    *time.Time
}

// Renderer substitutes variables into content item templates.
type Renderer struct {
	funcMap template.FuncMap
}

// NewRenderer creates a new renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		funcMap: template.FuncMap{
			"title":      titleCase,
			"upper":      strings.ToUpper,
			"lower":      strings.ToLower,
			"formatTime": formatTime,
		},
	}
}

// Render produces the subject and body for a content item. Content bodies are
// operator-authored data, so parse errors surface as errors rather than
// panics.
func (r *Renderer) Render(item *domain.ContentItem, vars Vars) (subject, body string, err error) {
	subject, err = r.execute(item.ID+"_subject", item.Subject, vars)
	if err != nil {
		return "", "", fmt.Errorf("render subject of %s: %w", item.Key, err)
	}

	body, err = r.execute(item.ID+"_body", item.Body, vars)
	if err != nil {
		return "", "", fmt.Errorf("render body of %s: %w", item.Key, err)
	}

	return subject, strings.TrimSpace(body), nil
}

func (r *Renderer) execute(name, text string, vars Vars) (string, error) {
	tmpl, err := template.New(name).Funcs(r.funcMap).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

// BuildVars assembles substitution variables for a lead. Name parts are
// title-cased so form-submitted lowercase names read naturally.
func BuildVars(lead *domain.Lead, schedulingLink, unsubscribeURL string, meetingTime *time.Time) Vars {
	first := titleCase(strings.TrimSpace(lead.FirstName))
	last := titleCase(strings.TrimSpace(lead.LastName))
	full := titleCase(lead.FullName())

	return Vars{
		FirstName:      first,
		LastName:       last,
		FullName:       full,
		Email:          lead.Email,
		SchedulingLink: schedulingLink,
		UnsubscribeURL: unsubscribeURL,
		MeetingTime:    meetingTime,
	}
}

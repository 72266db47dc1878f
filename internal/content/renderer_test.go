package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/lead-garden/internal/domain"
)

func TestRender_SubstitutesVariables(t *testing.T) {
	r := NewRenderer()

	item := &domain.ContentItem{
		ID:      "c-1",
		Key:     "welcome",
		Subject: "Hi {{.FirstName}}",
		Body:    "Hello {{.FullName}}, book here: {{.SchedulingLink}}\n",
	}

	subject, body, err := r.Render(item, Vars{
		FirstName:      "Ada",
		FullName:       "Ada Lovelace",
		SchedulingLink: "https://cal.example.com/demo",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi Ada", subject)
	assert.Equal(t, "Hello Ada Lovelace, book here: https://cal.example.com/demo", body)
}

func TestRender_FormatTimeFunc(t *testing.T) {
	r := NewRenderer()

	meeting := time.Date(2026, 4, 1, 14, 30, 0, 0, time.UTC)
	item := &domain.ContentItem{
		ID:   "c-2",
		Key:  "reminder",
		Body: "See you at {{formatTime .MeetingTime}}",
	}

	_, body, err := r.Render(item, Vars{MeetingTime: &meeting})
	require.NoError(t, err)
	assert.Equal(t, "See you at Apr 1, 2026 14:30 UTC", body)

	// Nil meeting time renders empty, not a panic.
	_, body, err = r.Render(item, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "See you at", body)
}

func TestRender_InvalidTemplateReturnsError(t *testing.T) {
	r := NewRenderer()

	item := &domain.ContentItem{
		ID:   "c-3",
		Key:  "broken",
		Body: "Hello {{.FirstName",
	}

	_, _, err := r.Render(item, Vars{FirstName: "Ada"})
	assert.Error(t, err)
}

func TestBuildVars_TitleCasesNames(t *testing.T) {
	lead := &domain.Lead{
		FirstName: "ada",
		LastName:  "lovelace",
		Email:     "ada@example.com",
	}

	vars := BuildVars(lead, "https://cal.example.com", "https://x/unsubscribe?token=t", nil)

	assert.Equal(t, "Ada", vars.FirstName)
	assert.Equal(t, "Lovelace", vars.LastName)
	assert.Equal(t, "Ada Lovelace", vars.FullName)
	assert.Equal(t, "ada@example.com", vars.Email)
}

func TestBuildVars_SingleName(t *testing.T) {
	lead := &domain.Lead{FirstName: "cher"}

	vars := BuildVars(lead, "", "", nil)
	assert.Equal(t, "Cher", vars.FullName)
}

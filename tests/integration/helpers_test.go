//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/testutil"
)

// uniqueSlug returns a slug with a random suffix so tests never collide.
func uniqueSlug(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// uniqueEmail returns a unique recipient address for Mailpit assertions.
func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%s@example.com", prefix, uuid.New().String()[:8])
}

// createTestLead inserts a lead directly; leads arrive from the CRM, not
// through this API.
func createTestLead(t *testing.T, firstName, lastName, email, phone string) string {
	t.Helper()

	id := uuid.New().String()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO leads (id, first_name, last_name, email, phone, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'new')`,
		id, firstName, lastName, email, phone,
	)
	require.NoError(t, err)
	return id
}

// stepSpec describes one step in a sequence creation request.
type stepSpec struct {
	Order      int
	DelayValue int
	DelayUnit  string
	Channel    string
	Kind       string
	ContentKey string
}

// createSequence creates a sequence through the API and returns its slug.
func createSequence(t *testing.T, client *testutil.Client, slug, trigger string, steps []stepSpec) string {
	t.Helper()

	reqSteps := make([]map[string]interface{}, 0, len(steps))
	for _, s := range steps {
		reqSteps = append(reqSteps, map[string]interface{}{
			"step_order":   s.Order,
			"delay_value":  s.DelayValue,
			"delay_unit":   s.DelayUnit,
			"channel":      s.Channel,
			"content_kind": s.Kind,
			"content_key":  s.ContentKey,
		})
	}

	resp, err := client.POST("/api/v1/sequences", map[string]interface{}{
		"slug":    slug,
		"name":    slug,
		"trigger": trigger,
		"steps":   reqSteps,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))
	return slug
}

// createFixedContent creates a fixed content item and returns its key.
func createFixedContent(t *testing.T, client *testutil.Client, key, subject, body string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/content", map[string]interface{}{
		"key":     key,
		"kind":    "fixed",
		"subject": subject,
		"body":    body,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))
	return key
}

// enrollLead enrolls a lead and returns the enrollment.
func enrollLead(t *testing.T, client *testutil.Client, leadID, slug string) domain.Enrollment {
	t.Helper()

	resp, err := client.POST("/api/v1/enrollments", map[string]string{
		"lead_id":       leadID,
		"sequence_slug": slug,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, testutil.ReadBody(t, resp))

	var result struct {
		Data domain.Enrollment `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// getEnrollment fetches one enrollment by id.
func getEnrollment(t *testing.T, client *testutil.Client, id string) domain.Enrollment {
	t.Helper()

	resp, err := client.GET("/api/v1/enrollments/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.Enrollment `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// queueEntries reads an enrollment's queue entries straight from the database.
func queueEntries(t *testing.T, enrollmentID string) []domain.QueueEntry {
	t.Helper()

	rows, err := testDB.Query(context.Background(), `
		SELECT id, step_id, channel, scheduled_for, status, attempts
		FROM queue_entries
		WHERE enrollment_id = $1
		ORDER BY scheduled_for, channel`,
		enrollmentID,
	)
	require.NoError(t, err)
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		require.NoError(t, rows.Scan(&e.ID, &e.StepID, &e.Channel, &e.ScheduledFor, &e.Status, &e.Attempts))
		entries = append(entries, e)
	}
	require.NoError(t, rows.Err())
	return entries
}

// entriesByStatus counts an enrollment's queue entries per status.
func entriesByStatus(t *testing.T, enrollmentID string) map[domain.QueueStatus]int {
	t.Helper()

	counts := make(map[domain.QueueStatus]int)
	for _, e := range queueEntries(t, enrollmentID) {
		counts[e.Status]++
	}
	return counts
}

// sentRecordCount counts ledger rows for a lead.
func sentRecordCount(t *testing.T, leadID string) int {
	t.Helper()

	var n int
	err := testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM sent_records WHERE lead_id = $1`, leadID,
	).Scan(&n)
	require.NoError(t, err)
	return n
}

// waitForEntryStatus polls until the enrollment has want entries in the given
// status.
func waitForEntryStatus(t *testing.T, enrollmentID string, status domain.QueueStatus, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return entriesByStatus(t, enrollmentID)[status] >= want
	}, 15*time.Second, 100*time.Millisecond,
		"enrollment %s never reached %d entries in status %s", enrollmentID, want, status)
}

var (
	welcomeContentOnce sync.Once
	welcomeContentKey  string
)

// welcomeContent creates (once) the fixed email template most tests enroll
// with. The body carries the scheduling link and the unsubscribe URL.
func welcomeContent(t *testing.T, client *testutil.Client) string {
	t.Helper()

	welcomeContentOnce.Do(func() {
		welcomeContentKey = createFixedContent(t, client,
			uniqueSlug("welcome"),
			"Hi {{.FirstName}}",
			"Hello {{.FullName}},\n\nBook a slot: {{.SchedulingLink}}\n\nUnsubscribe: {{.UnsubscribeURL}}",
		)
	})
	return welcomeContentKey
}

// emailSequence creates a one-step email sequence scheduled a day out, so
// enrolling does not trigger any delivery during the test.
func emailSequence(t *testing.T, client *testutil.Client) string {
	t.Helper()

	return createSequence(t, client, uniqueSlug("seq"), "manual", []stepSpec{
		{Order: 1, DelayValue: 24, DelayUnit: "hours", Channel: "email", Kind: "fixed", ContentKey: welcomeContent(t, client)},
	})
}

// dueEmailSequence creates a one-step email sequence with zero delay; the
// enrollment wake dispatches it immediately.
func dueEmailSequence(t *testing.T, client *testutil.Client) string {
	t.Helper()

	return createSequence(t, client, uniqueSlug("due"), "manual", []stepSpec{
		{Order: 1, DelayValue: 0, DelayUnit: "minutes", Channel: "email", Kind: "fixed", ContentKey: welcomeContent(t, client)},
	})
}

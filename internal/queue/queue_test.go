package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/content"
	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/enrollment"
	"github.com/bissquit/lead-garden/internal/leads"
	"github.com/bissquit/lead-garden/internal/messaging"
)

// memRepository is an in-memory Repository. All methods are guarded by one
// mutex so concurrency tests exercise the same atomicity the SQL conditional
// updates provide.
type memRepository struct {
	mu          sync.Mutex
	entries     map[string]*domain.QueueEntry
	sentRecords map[string]*domain.SentRecord // lead|step|channel
	enrollments map[string]*domain.Enrollment
}

func newMemRepository() *memRepository {
	return &memRepository{
		entries:     make(map[string]*domain.QueueEntry),
		sentRecords: make(map[string]*domain.SentRecord),
		enrollments: make(map[string]*domain.Enrollment),
	}
}

func sentKey(leadID, stepID string, channel domain.Channel) string {
	return leadID + "|" + stepID + "|" + string(channel)
}

func (m *memRepository) addEnrollment(e *domain.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.enrollments[e.ID] = &cp
}

func (m *memRepository) addEntry(e *domain.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
}

func (m *memRepository) entry(id string) domain.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.entries[id]
}

func (m *memRepository) FetchDue(_ context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.QueueEntry
	for _, e := range m.entries {
		enr, ok := m.enrollments[e.EnrollmentID]
		if !ok || enr.Status != domain.EnrollmentActive {
			continue
		}
		if e.Status == domain.QueueStatusPending && !e.ScheduledFor.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memRepository) GetByID(_ context.Context, id string) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrEntryNotFound
}

func (m *memRepository) FindEntry(_ context.Context, enrollmentID, stepID string, channel domain.Channel) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EnrollmentID == enrollmentID && e.StepID == stepID && e.Channel == channel {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrEntryNotFound
}

func (m *memRepository) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != domain.QueueStatusPending {
		return false, nil
	}
	e.Status = domain.QueueStatusProcessing
	return true, nil
}

func (m *memRepository) MarkSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = domain.QueueStatusSent
	e.SentAt = &at
	e.LastError = ""
	return nil
}

func (m *memRepository) Release(_ context.Context, id, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = domain.QueueStatusPending
	e.Attempts++
	e.LastError = lastError
	return nil
}

func (m *memRepository) MarkFailed(_ context.Context, id, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = domain.QueueStatusFailed
	e.Attempts++
	e.LastError = lastError
	return nil
}

func (m *memRepository) CancelEntry(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = domain.QueueStatusCancelled
	e.LastError = reason
	return nil
}

func (m *memRepository) UpsertEntries(_ context.Context, entries []domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		cp := entries[i]
		m.entries[cp.ID] = &cp
	}
	return nil
}

func (m *memRepository) CancelPending(_ context.Context, enrollmentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.EnrollmentID == enrollmentID && e.Status == domain.QueueStatusPending {
			e.Status = domain.QueueStatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *memRepository) InsertSentRecord(_ context.Context, rec *domain.SentRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sentKey(rec.LeadID, rec.StepID, rec.Channel)
	if _, exists := m.sentRecords[key]; exists {
		return false, nil
	}
	cp := *rec
	m.sentRecords[key] = &cp
	return true, nil
}

func (m *memRepository) HasSentRecord(_ context.Context, leadID, stepID string, channel domain.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sentRecords[sentKey(leadID, stepID, channel)]
	return ok, nil
}

func (m *memRepository) SentContentIDs(_ context.Context, leadID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, rec := range m.sentRecords {
		if rec.LeadID == leadID {
			seen[rec.ContentID] = true
		}
	}
	return seen, nil
}

func (m *memRepository) AdvanceEnrollmentStep(_ context.Context, enrollmentID string, stepOrder int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[enrollmentID]; ok && stepOrder > e.CurrentStep {
		e.CurrentStep = stepOrder
	}
	return nil
}

func (m *memRepository) CountOutstanding(_ context.Context, enrollmentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.EnrollmentID == enrollmentID &&
			(e.Status == domain.QueueStatusPending || e.Status == domain.QueueStatusProcessing) {
			count++
		}
	}
	return count, nil
}

func (m *memRepository) CompleteEnrollment(_ context.Context, enrollmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[enrollmentID]; ok && e.Status == domain.EnrollmentActive {
		e.Status = domain.EnrollmentCompleted
	}
	return nil
}

func (m *memRepository) ListFailed(_ context.Context, limit int) ([]*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []*domain.QueueEntry
	for _, e := range m.entries {
		if e.Status == domain.QueueStatusFailed {
			cp := *e
			failed = append(failed, &cp)
		}
	}
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

func (m *memRepository) ResetFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != domain.QueueStatusFailed {
		return ErrEntryNotFound
	}
	e.Status = domain.QueueStatusPending
	e.Attempts = 0
	e.LastError = ""
	return nil
}

func (m *memRepository) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{}
	for _, e := range m.entries {
		switch e.Status {
		case domain.QueueStatusPending:
			stats.Pending++
		case domain.QueueStatusProcessing:
			stats.Processing++
		case domain.QueueStatusSent:
			stats.Sent++
		case domain.QueueStatusCancelled:
			stats.Cancelled++
		case domain.QueueStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// mockLeadSource implements LeadSource.
type mockLeadSource struct {
	mu        sync.Mutex
	leadsByID map[string]*domain.Lead
	contacted map[string]int
}

func newMockLeadSource(ls ...*domain.Lead) *mockLeadSource {
	m := &mockLeadSource{
		leadsByID: make(map[string]*domain.Lead),
		contacted: make(map[string]int),
	}
	for _, l := range ls {
		m.leadsByID[l.ID] = l
	}
	return m
}

func (m *mockLeadSource) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leadsByID[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, leads.ErrLeadNotFound
}

func (m *mockLeadSource) MarkContacted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacted[id]++
	return nil
}

func (m *mockLeadSource) UnsubscribeURL(leadID string) (string, error) {
	return "https://example.com/unsubscribe?token=token-" + leadID, nil
}

// mockStepSource implements StepSource.
type mockStepSource struct {
	steps map[string]*domain.SequenceStep
}

func (m *mockStepSource) GetStep(_ context.Context, stepID string) (*domain.SequenceStep, error) {
	if s, ok := m.steps[stepID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, catalog.ErrStepNotFound
}

// memEnrollmentSource reads enrollments straight from the repository so both
// sides of a test observe the same state.
type memEnrollmentSource struct {
	repo *memRepository
}

func (m *memEnrollmentSource) GetEnrollment(_ context.Context, id string) (*domain.Enrollment, error) {
	m.repo.mu.Lock()
	defer m.repo.mu.Unlock()
	if e, ok := m.repo.enrollments[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, enrollment.ErrEnrollmentNotFound
}

func (m *memEnrollmentSource) GetActiveForSequence(_ context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	m.repo.mu.Lock()
	defer m.repo.mu.Unlock()
	for _, e := range m.repo.enrollments {
		if e.LeadID == leadID && e.SequenceID == sequenceID && !e.Status.IsTerminal() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, enrollment.ErrEnrollmentNotFound
}

// staticResolver implements ContentResolver with one fixed item.
type staticResolver struct {
	item *domain.ContentItem
	err  error
}

func (r *staticResolver) Resolve(_ context.Context, _ string, _ *domain.SequenceStep) (*domain.ContentItem, error) {
	if r.err != nil {
		return nil, r.err
	}
	cp := *r.item
	return &cp, nil
}

// fakeSender implements messaging.Sender and counts sends per recipient.
type fakeSender struct {
	mu      sync.Mutex
	channel domain.Channel
	sends   []messaging.Message
	err     error
	failFor int           // fail the first n sends
	block   chan struct{} // when set, Send waits for it (or ctx) before completing
}

func (f *fakeSender) Channel() domain.Channel { return f.channel }

func (f *fakeSender) Send(ctx context.Context, msg messaging.Message) (messaging.SendResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return messaging.SendResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return messaging.SendResult{}, f.err
	}
	if f.failFor > 0 {
		f.failFor--
		return messaging.SendResult{}, errors.New("provider unavailable")
	}
	f.sends = append(f.sends, msg)
	return messaging.SendResult{ProviderID: fmt.Sprintf("prov-%d", len(f.sends))}, nil
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fixture wires a Service and Processor over in-memory collaborators.
type fixture struct {
	repo   *memRepository
	leads  *mockLeadSource
	steps  *mockStepSource
	email  *fakeSender
	chat   *fakeSender
	svc    *Service
	proc   *Processor
	now    time.Time
	lead   *domain.Lead
	enroll *domain.Enrollment
	step   *domain.SequenceStep
}

func newFixture() *fixture {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	lead := &domain.Lead{
		ID:        "lead-1",
		FirstName: "ada",
		LastName:  "lovelace",
		Email:     "ada@example.com",
		Phone:     "+15550001111",
		Status:    domain.LeadStatusNew,
	}
	step := &domain.SequenceStep{
		ID:          "step-1",
		SequenceID:  "seq-1",
		StepOrder:   1,
		Channel:     domain.ChannelEmail,
		ContentKind: domain.ContentFixed,
		ContentKey:  "welcome",
		Active:      true,
	}
	enroll := &domain.Enrollment{
		ID:         "enr-1",
		LeadID:     lead.ID,
		SequenceID: "seq-1",
		Status:     domain.EnrollmentActive,
		EnrolledAt: now.Add(-time.Hour),
	}

	repo := newMemRepository()
	repo.addEnrollment(enroll)

	leadSrc := newMockLeadSource(lead)
	stepSrc := &mockStepSource{steps: map[string]*domain.SequenceStep{step.ID: step}}
	email := &fakeSender{channel: domain.ChannelEmail}
	chat := &fakeSender{channel: domain.ChannelChat}

	svc := NewService(
		ServiceConfig{
			MaxAttempts:     3,
			DispatchTimeout: 5 * time.Second,
			SchedulingURL:   "https://cal.example.com/demo",
		},
		repo,
		leadSrc,
		stepSrc,
		&memEnrollmentSource{repo: repo},
		&staticResolver{item: &domain.ContentItem{
			ID:      "content-1",
			Key:     "welcome",
			Kind:    domain.ContentFixed,
			Subject: "Hi {{.FirstName}}",
			Body:    "Hello {{.FirstName}}, book here: {{.SchedulingLink}}",
		}},
		content.NewRenderer(),
		messaging.NewDispatcher(email, chat),
	)
	svc.now = func() time.Time { return now }

	proc := NewProcessor(ProcessorConfig{
		PollInterval: time.Minute,
		BatchSize:    50,
		NumWorkers:   4,
	}, repo, svc)
	proc.now = func() time.Time { return now }

	return &fixture{
		repo:   repo,
		leads:  leadSrc,
		steps:  stepSrc,
		email:  email,
		chat:   chat,
		svc:    svc,
		proc:   proc,
		now:    now,
		lead:   lead,
		enroll: enroll,
		step:   step,
	}
}

func (f *fixture) addPendingEntry(id string, scheduledFor time.Time) *domain.QueueEntry {
	entry := &domain.QueueEntry{
		ID:           id,
		EnrollmentID: f.enroll.ID,
		LeadID:       f.lead.ID,
		StepID:       f.step.ID,
		StepOrder:    f.step.StepOrder,
		Channel:      domain.ChannelEmail,
		ScheduledFor: scheduledFor,
		Status:       domain.QueueStatusPending,
	}
	f.repo.addEntry(entry)
	return entry
}

package transitions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/lead-garden/internal/catalog"
	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/enrollment"
)

// fakeEnrollmentRepo implements enrollment.Repository in memory.
type fakeEnrollmentRepo struct {
	rows map[string]*domain.Enrollment
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{rows: make(map[string]*domain.Enrollment)}
}

func (f *fakeEnrollmentRepo) GetByID(_ context.Context, id string) (*domain.Enrollment, error) {
	if e, ok := f.rows[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, enrollment.ErrEnrollmentNotFound
}

func (f *fakeEnrollmentRepo) GetLatest(_ context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	var latest *domain.Enrollment
	for _, e := range f.rows {
		if e.LeadID == leadID && e.SequenceID == sequenceID {
			if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeEnrollmentRepo) GetActive(_ context.Context, leadID, sequenceID string) (*domain.Enrollment, error) {
	for _, e := range f.rows {
		if e.LeadID == leadID && e.SequenceID == sequenceID && !e.Status.IsTerminal() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, enrollment.ErrEnrollmentNotFound
}

func (f *fakeEnrollmentRepo) ListActiveByLead(_ context.Context, leadID string) ([]*domain.Enrollment, error) {
	var out []*domain.Enrollment
	for _, e := range f.rows {
		if e.LeadID == leadID && !e.Status.IsTerminal() {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEnrollmentRepo) Create(_ context.Context, e *domain.Enrollment) error {
	cp := *e
	f.rows[e.ID] = &cp
	return nil
}

func (f *fakeEnrollmentRepo) Reactivate(_ context.Context, e *domain.Enrollment) error {
	cp := *e
	f.rows[e.ID] = &cp
	return nil
}

func (f *fakeEnrollmentRepo) UpdateStatus(_ context.Context, id string, status domain.EnrollmentStatus) error {
	f.rows[id].Status = status
	return nil
}

func (f *fakeEnrollmentRepo) Cancel(_ context.Context, id, reason string) error {
	e := f.rows[id]
	e.Status = domain.EnrollmentCancelled
	e.CancelReason = reason
	return nil
}

func (f *fakeEnrollmentRepo) UpdateAnchor(_ context.Context, id string, anchor time.Time) error {
	f.rows[id].AnchorOverride = &anchor
	return nil
}

// fakeQueueStore implements enrollment.QueueStore, recording scheduled
// entries and pending-cancellations like the real queue tables would.
type fakeQueueStore struct {
	entries   map[string]domain.QueueEntry // enrollment|step|channel
	sent      map[string]bool              // lead|step|channel
	cancelled []string
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		entries: make(map[string]domain.QueueEntry),
		sent:    make(map[string]bool),
	}
}

func (f *fakeQueueStore) UpsertEntries(_ context.Context, entries []domain.QueueEntry) error {
	for _, e := range entries {
		key := e.EnrollmentID + "|" + e.StepID + "|" + string(e.Channel)
		if prev, ok := f.entries[key]; ok {
			if prev.Status != domain.QueueStatusPending && prev.Status != domain.QueueStatusCancelled {
				continue
			}
			e.ID = prev.ID
		}
		e.Status = domain.QueueStatusPending
		f.entries[key] = e
	}
	return nil
}

func (f *fakeQueueStore) CancelPending(_ context.Context, enrollmentID string) (int64, error) {
	var n int64
	for key, e := range f.entries {
		if e.EnrollmentID == enrollmentID && e.Status == domain.QueueStatusPending {
			e.Status = domain.QueueStatusCancelled
			f.entries[key] = e
			n++
		}
	}
	f.cancelled = append(f.cancelled, enrollmentID)
	return n, nil
}

func (f *fakeQueueStore) HasSentRecord(_ context.Context, leadID, stepID string, channel domain.Channel) (bool, error) {
	return f.sent[leadID+"|"+stepID+"|"+string(channel)], nil
}

func (f *fakeQueueStore) pendingFor(enrollmentID string) []domain.QueueEntry {
	var out []domain.QueueEntry
	for _, e := range f.entries {
		if e.EnrollmentID == enrollmentID && e.Status == domain.QueueStatusPending {
			out = append(out, e)
		}
	}
	return out
}

// fakeSequences implements enrollment.SequenceSource.
type fakeSequences struct {
	bySlug map[string]*domain.SequenceDefinition
}

func (f *fakeSequences) GetSequence(_ context.Context, slug string) (*domain.SequenceDefinition, error) {
	if seq, ok := f.bySlug[slug]; ok {
		return seq, nil
	}
	return nil, catalog.ErrSequenceNotFound
}

// leadRecorder implements LeadWriter.
type leadRecorder struct {
	calls []string
}

func (l *leadRecorder) MarkQualified(_ context.Context, id string) error {
	l.calls = append(l.calls, "qualified:"+id)
	return nil
}

func (l *leadRecorder) SetContacted(_ context.Context, id string) error {
	l.calls = append(l.calls, "contacted:"+id)
	return nil
}

func (l *leadRecorder) MarkConverted(_ context.Context, id string) error {
	l.calls = append(l.calls, "converted:"+id)
	return nil
}

func (l *leadRecorder) SubscribeNewsletter(_ context.Context, id string) error {
	l.calls = append(l.calls, "newsletter:"+id)
	return nil
}

func hourStep(id string, order, delayHours int) domain.SequenceStep {
	return domain.SequenceStep{
		ID:          id,
		StepOrder:   order,
		DelayValue:  delayHours,
		DelayUnit:   domain.DelayHours,
		Channel:     domain.ChannelEmail,
		ContentKind: domain.ContentFixed,
		ContentKey:  "k-" + id,
		Active:      true,
	}
}

type coordFixture struct {
	repo    *fakeEnrollmentRepo
	queue   *fakeQueueStore
	enroll  *enrollment.Service
	leadRec *leadRecorder
	svc     *Service
	t0      time.Time
}

func newCoordFixture() *coordFixture {
	t0 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	nurture := &domain.SequenceDefinition{
		ID: "seq-nurture", Slug: "nurture", Active: true,
		Steps: []domain.SequenceStep{
			hourStep("n1", 1, 0),
			hourStep("n2", 2, 48),
			hourStep("n3", 3, 96),
		},
	}
	booked := &domain.SequenceDefinition{
		ID: "seq-booked", Slug: "booked", Active: true,
		Steps: []domain.SequenceStep{
			hourStep("b1", 1, 0),
			hourStep("b2", 2, -24),
			hourStep("b3", 3, -6),
			hourStep("b4", 4, -1),
		},
	}
	noShow := &domain.SequenceDefinition{
		ID: "seq-noshow", Slug: "no-show", Active: true,
		Steps: []domain.SequenceStep{
			hourStep("s1", 1, 0),
			hourStep("s2", 2, 48),
		},
	}

	repo := newFakeEnrollmentRepo()
	queue := newFakeQueueStore()
	seqs := &fakeSequences{bySlug: map[string]*domain.SequenceDefinition{
		"nurture": nurture,
		"booked":  booked,
		"no-show": noShow,
	}}

	enrollSvc := enrollment.NewService(repo, seqs, queue)
	leadRec := &leadRecorder{}

	svc := NewService(Sequences{
		Nurture: "nurture",
		Booked:  "booked",
		NoShow:  "no-show",
	}, enrollSvc, leadRec)

	return &coordFixture{
		repo:    repo,
		queue:   queue,
		enroll:  enrollSvc,
		leadRec: leadRec,
		svc:     svc,
		t0:      t0,
	}
}

func scheduledTimes(entries []domain.QueueEntry) map[time.Time]bool {
	out := make(map[time.Time]bool, len(entries))
	for _, e := range entries {
		out[e.ScheduledFor] = true
	}
	return out
}

func TestOnMeetingBooked_EndToEnd(t *testing.T) {
	f := newCoordFixture()

	// Lead enters nurture at T0.
	nurtureEnr, err := f.enroll.Enroll(context.Background(), enrollment.EnrollParams{
		LeadID: "lead-1", SequenceSlug: "nurture",
	})
	require.NoError(t, err)
	require.Len(t, f.queue.pendingFor(nurtureEnr.ID), 3)

	// Two hours later the lead books a meeting 48h out from T0.
	meetingTime := f.t0.Add(48 * time.Hour)
	bookedEnr, err := f.svc.OnMeetingBooked(context.Background(), "lead-1", meetingTime)
	require.NoError(t, err)

	// Nurture cancelled with its pending entries flipped.
	stored := f.repo.rows[nurtureEnr.ID]
	assert.Equal(t, domain.EnrollmentCancelled, stored.Status)
	assert.Equal(t, "meeting booked", stored.CancelReason)
	assert.Empty(t, f.queue.pendingFor(nurtureEnr.ID))

	// Booked enrollment active, anchored at the meeting time, reminders at
	// offsets {0, -24h, -6h, -1h}.
	assert.Equal(t, domain.EnrollmentActive, bookedEnr.Status)
	assert.Equal(t, meetingTime, bookedEnr.Anchor())

	pending := f.queue.pendingFor(bookedEnr.ID)
	require.Len(t, pending, 4)
	times := scheduledTimes(pending)
	assert.True(t, times[meetingTime])
	assert.True(t, times[meetingTime.Add(-24*time.Hour)])
	assert.True(t, times[meetingTime.Add(-6*time.Hour)])
	assert.True(t, times[meetingTime.Add(-1*time.Hour)])

	assert.Contains(t, f.leadRec.calls, "qualified:lead-1")
}

func TestOnNoShow(t *testing.T) {
	f := newCoordFixture()

	meetingTime := f.t0.Add(24 * time.Hour)
	bookedEnr, err := f.svc.OnMeetingBooked(context.Background(), "lead-1", meetingTime)
	require.NoError(t, err)

	enr, err := f.svc.OnNoShow(context.Background(), "lead-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EnrollmentCancelled, f.repo.rows[bookedEnr.ID].Status)
	assert.Empty(t, f.queue.pendingFor(bookedEnr.ID))

	assert.Equal(t, "seq-noshow", enr.SequenceID)
	assert.Equal(t, domain.EnrollmentActive, enr.Status)
	assert.Nil(t, enr.AnchorOverride, "no-show is anchored at enrollment time")
	assert.Len(t, f.queue.pendingFor(enr.ID), 2)

	assert.Contains(t, f.leadRec.calls, "contacted:lead-1")
}

func TestOnMeetingCompleted(t *testing.T) {
	f := newCoordFixture()

	nurtureEnr, err := f.enroll.Enroll(context.Background(), enrollment.EnrollParams{
		LeadID: "lead-1", SequenceSlug: "nurture",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.OnMeetingCompleted(context.Background(), "lead-1"))

	assert.Equal(t, domain.EnrollmentCancelled, f.repo.rows[nurtureEnr.ID].Status)
	assert.Contains(t, f.leadRec.calls, "newsletter:lead-1")
	assert.Contains(t, f.leadRec.calls, "converted:lead-1")
}

func TestOnReschedule_ReanchorsWithoutDuplicate(t *testing.T) {
	f := newCoordFixture()

	meetingTime := f.t0.Add(48 * time.Hour)
	bookedEnr, err := f.svc.OnMeetingBooked(context.Background(), "lead-1", meetingTime)
	require.NoError(t, err)

	// The zero-offset confirmation already went out.
	f.queue.sent["lead-1|b1|email"] = true

	newTime := f.t0.Add(96 * time.Hour)
	rescheduled, err := f.svc.OnReschedule(context.Background(), "lead-1", newTime)
	require.NoError(t, err)

	assert.Equal(t, bookedEnr.ID, rescheduled.ID, "no duplicate enrollment")
	assert.Equal(t, newTime, rescheduled.Anchor())

	pending := f.queue.pendingFor(bookedEnr.ID)
	times := scheduledTimes(pending)
	assert.True(t, times[newTime.Add(-24*time.Hour)])
	assert.True(t, times[newTime.Add(-6*time.Hour)])
	assert.True(t, times[newTime.Add(-1*time.Hour)])
}

func TestOnReschedule_NoBookedEnrollment(t *testing.T) {
	f := newCoordFixture()

	_, err := f.svc.OnReschedule(context.Background(), "lead-1", f.t0)
	assert.ErrorIs(t, err, enrollment.ErrEnrollmentNotFound)
}

func TestOnCancellation(t *testing.T) {
	f := newCoordFixture()

	bookedEnr, err := f.svc.OnMeetingBooked(context.Background(), "lead-1", f.t0.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.svc.OnCancellation(context.Background(), "lead-1"))

	assert.Equal(t, domain.EnrollmentCancelled, f.repo.rows[bookedEnr.ID].Status)
	assert.Empty(t, f.queue.pendingFor(bookedEnr.ID))
	// No automatic re-enrollment anywhere.
	active, _ := f.repo.ListActiveByLead(context.Background(), "lead-1")
	assert.Empty(t, active)
}

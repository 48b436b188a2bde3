package incidents

import (
	"context"
	"testing"

	"github.com/opsrelay/incident-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository implements Repository in memory for service tests.
type fakeRepository struct {
	incidents   map[string]*domain.Incident
	comments    map[string][]domain.Comment
	attachments map[string][]domain.Attachment
	transitions map[string][]domain.StatusTransition
	updateErr   error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		incidents:   make(map[string]*domain.Incident),
		comments:    make(map[string][]domain.Comment),
		attachments: make(map[string][]domain.Attachment),
		transitions: make(map[string][]domain.StatusTransition),
	}
}

func (f *fakeRepository) Create(_ context.Context, incident *domain.Incident) error {
	incident.Version = 1
	clone := *incident
	f.incidents[incident.ID] = &clone
	return nil
}

func (f *fakeRepository) Get(_ context.Context, id string) (*domain.Incident, error) {
	incident, ok := f.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	clone := *incident
	return &clone, nil
}

func (f *fakeRepository) List(_ context.Context, _ Filter) ([]*domain.Incident, error) {
	out := make([]*domain.Incident, 0, len(f.incidents))
	for _, incident := range f.incidents {
		clone := *incident
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRepository) Update(_ context.Context, incident *domain.Incident, expectedVersion int) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.incidents[incident.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	incident.Version = stored.Version + 1
	clone := *incident
	f.incidents[incident.ID] = &clone
	return nil
}

func (f *fakeRepository) UpdateStatus(ctx context.Context, incident *domain.Incident, expectedVersion int, audit *domain.StatusTransition) error {
	if err := f.Update(ctx, incident, expectedVersion); err != nil {
		return err
	}
	f.transitions[incident.ID] = append(f.transitions[incident.ID], *audit)
	return nil
}

func (f *fakeRepository) AddComment(_ context.Context, comment *domain.Comment) error {
	f.comments[comment.IncidentID] = append(f.comments[comment.IncidentID], *comment)
	return nil
}

func (f *fakeRepository) ListComments(_ context.Context, incidentID string) ([]domain.Comment, error) {
	return f.comments[incidentID], nil
}

func (f *fakeRepository) AddAttachment(_ context.Context, attachment *domain.Attachment) error {
	f.attachments[attachment.IncidentID] = append(f.attachments[attachment.IncidentID], *attachment)
	return nil
}

func (f *fakeRepository) ListAttachments(_ context.Context, incidentID string) ([]domain.Attachment, error) {
	return f.attachments[incidentID], nil
}

func (f *fakeRepository) ListTransitions(_ context.Context, incidentID string) ([]domain.StatusTransition, error) {
	return f.transitions[incidentID], nil
}

// recordingNotifier captures lifecycle hook invocations.
type recordingNotifier struct {
	created         []string
	statusChanges   []string
	severityChanges []string
	comments        []string
}

func (n *recordingNotifier) OnIncidentCreated(_ context.Context, incident *domain.Incident) {
	n.created = append(n.created, incident.ID)
}

func (n *recordingNotifier) OnStatusChanged(_ context.Context, incident *domain.Incident, from, to domain.IncidentStatus) {
	n.statusChanges = append(n.statusChanges, string(from)+"->"+string(to))
}

func (n *recordingNotifier) OnSeverityChanged(_ context.Context, _ *domain.Incident, from, to domain.Severity) {
	n.severityChanges = append(n.severityChanges, string(from)+"->"+string(to))
}

func (n *recordingNotifier) OnCommentAdded(_ context.Context, _ *domain.Incident, comment *domain.Comment) {
	n.comments = append(n.comments, comment.ID)
}

func newTestService() (*Service, *fakeRepository, *recordingNotifier) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	return NewService(repo, notifier), repo, notifier
}

func TestService_Create(t *testing.T) {
	svc, repo, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Database down",
		Description: "Primary is unreachable",
		Severity:    domain.SeverityCritical,
		Tags:        []string{"database"},
	}, "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, incident.ID)
	assert.Equal(t, domain.IncidentStatusOpen, incident.Status)
	assert.Equal(t, "alice", incident.ReportedBy)
	assert.Equal(t, 1, incident.Version)
	assert.Contains(t, repo.incidents, incident.ID)
	assert.Equal(t, []string{incident.ID}, notifier.created)
}

func TestService_Create_InvalidSeverity(t *testing.T) {
	svc, _, notifier := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{
		Title:       "Broken",
		Description: "x",
		Severity:    "catastrophic",
	}, "alice")
	require.Error(t, err)
	assert.Empty(t, notifier.created)
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestService_Update_Fields(t *testing.T) {
	svc, _, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Latency spike",
		Description: "p99 above SLO",
		Severity:    domain.SeverityMedium,
	}, "alice")
	require.NoError(t, err)

	newTitle := "Latency spike in eu-west"
	updated, err := svc.Update(context.Background(), incident.ID, UpdateInput{
		Title: &newTitle,
		Tags:  []string{"latency"},
	})
	require.NoError(t, err)

	assert.Equal(t, newTitle, updated.Title)
	assert.Equal(t, []string{"latency"}, updated.Tags)
	assert.Equal(t, 2, updated.Version)
	assert.Empty(t, notifier.severityChanges, "no severity change hook for unrelated updates")
}

func TestService_Update_SeverityChangeNotifies(t *testing.T) {
	svc, _, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Disk filling up",
		Description: "80% used",
		Severity:    domain.SeverityLow,
	}, "alice")
	require.NoError(t, err)

	high := domain.SeverityHigh
	_, err = svc.Update(context.Background(), incident.ID, UpdateInput{Severity: &high})
	require.NoError(t, err)

	assert.Equal(t, []string{"low->high"}, notifier.severityChanges)
}

func TestService_Update_SameSeverityDoesNotNotify(t *testing.T) {
	svc, _, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Disk filling up",
		Description: "80% used",
		Severity:    domain.SeverityLow,
	}, "alice")
	require.NoError(t, err)

	low := domain.SeverityLow
	_, err = svc.Update(context.Background(), incident.ID, UpdateInput{Severity: &low})
	require.NoError(t, err)

	assert.Empty(t, notifier.severityChanges)
}

func TestService_Update_StaleVersion(t *testing.T) {
	svc, _, _ := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Flapping alerts",
		Description: "x",
		Severity:    domain.SeverityLow,
	}, "alice")
	require.NoError(t, err)

	title := "first writer"
	_, err = svc.Update(context.Background(), incident.ID, UpdateInput{Title: &title, Version: 1})
	require.NoError(t, err)

	title2 := "second writer"
	_, err = svc.Update(context.Background(), incident.ID, UpdateInput{Title: &title2, Version: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestService_Update_ClosedIncident(t *testing.T) {
	svc, repo, _ := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Old outage",
		Description: "x",
		Severity:    domain.SeverityLow,
	}, "alice")
	require.NoError(t, err)

	repo.incidents[incident.ID].Status = domain.IncidentStatusClosed

	title := "touching closed"
	_, err = svc.Update(context.Background(), incident.ID, UpdateInput{Title: &title})
	assert.ErrorIs(t, err, ErrIncidentClosed)
}

func TestService_Transition(t *testing.T) {
	svc, repo, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "API errors",
		Description: "5xx rate high",
		Severity:    domain.SeverityHigh,
	}, "alice")
	require.NoError(t, err)

	updated, err := svc.Transition(context.Background(), incident.ID, domain.IncidentStatusInProgress, 0, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusInProgress, updated.Status)
	assert.Nil(t, updated.ResolvedAt)

	updated, err = svc.Transition(context.Background(), incident.ID, domain.IncidentStatusResolved, 0, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)

	assert.Equal(t, []string{"open->in_progress", "in_progress->resolved"}, notifier.statusChanges)

	audit := repo.transitions[incident.ID]
	require.Len(t, audit, 2)
	assert.Equal(t, "bob", audit[0].Actor)
	assert.Equal(t, domain.IncidentStatusOpen, audit[0].From)
	assert.Equal(t, domain.IncidentStatusInProgress, audit[0].To)
}

func TestService_Transition_InvalidEdge(t *testing.T) {
	svc, repo, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "API errors",
		Description: "x",
		Severity:    domain.SeverityHigh,
	}, "alice")
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), incident.ID, domain.IncidentStatusClosed, 0, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.IncidentStatusOpen, invalid.From)
	assert.Equal(t, domain.IncidentStatusClosed, invalid.To)

	// Record and audit untouched
	assert.Equal(t, domain.IncidentStatusOpen, repo.incidents[incident.ID].Status)
	assert.Empty(t, repo.transitions[incident.ID])
	assert.Empty(t, notifier.statusChanges)
}

func TestService_Transition_ReopenClearsResolvedAt(t *testing.T) {
	svc, _, _ := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Cache misses",
		Description: "x",
		Severity:    domain.SeverityMedium,
	}, "alice")
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), incident.ID, domain.IncidentStatusResolved, 0, "bob")
	require.NoError(t, err)

	reopened, err := svc.Transition(context.Background(), incident.ID, domain.IncidentStatusInProgress, 0, "bob")
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestService_AddComment(t *testing.T) {
	svc, _, notifier := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Queue backlog",
		Description: "x",
		Severity:    domain.SeverityMedium,
	}, "alice")
	require.NoError(t, err)

	comment, err := svc.AddComment(context.Background(), incident.ID, "investigating", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", comment.Author)
	assert.Equal(t, "investigating", comment.Text)
	assert.Equal(t, []string{comment.ID}, notifier.comments)

	comments, err := svc.ListComments(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, comment.ID, comments[0].ID)
}

func TestService_AddComment_UnknownIncident(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.AddComment(context.Background(), "missing", "hello", "bob")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestService_Attachments(t *testing.T) {
	svc, _, _ := newTestService()

	incident, err := svc.Create(context.Background(), CreateInput{
		Title:       "Bad deploy",
		Description: "x",
		Severity:    domain.SeverityHigh,
	}, "alice")
	require.NoError(t, err)

	attachment, err := svc.AddAttachment(context.Background(), incident.ID, "incidents/2026/trace.txt", "trace.txt")
	require.NoError(t, err)
	assert.Equal(t, "incidents/2026/trace.txt", attachment.ObjectKey)

	attachments, err := svc.ListAttachments(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "trace.txt", attachments[0].FileName)
}

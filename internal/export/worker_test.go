package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/internal/blob"
	"surveycore/internal/respondents"
	"surveycore/internal/responses"
	"surveycore/pkg/domain"
)

type stubProvider struct {
	repos map[string]*respondents.Repository
	err   error
}

func (s stubProvider) RespondentRepository(_ context.Context, subsetID string) (*respondents.Repository, error) {
	if s.err != nil {
		return nil, s.err
	}
	repo, ok := s.repos[subsetID]
	if !ok {
		return nil, domain.Recoverable("test", domain.ErrUnknownSubset)
	}
	return repo, nil
}

func ukRepository(t *testing.T) *respondents.Repository {
	t.Helper()
	repo := respondents.NewRepository(domain.Subset{ID: "UK"}, nil)
	young := domain.NewQuotaCell(0, 1, "UK", map[string]string{"Age": "young"}, nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Add(responses.NewProfileResponseEntity(2, ts, 1), young))
	require.NoError(t, repo.Add(responses.NewProfileResponseEntity(1, ts, 1), nil))
	return repo
}

func startWorker(t *testing.T, provider RepositoryProvider, store blob.Store, opts ...Option) *Worker {
	t.Helper()
	w := NewWorker(provider, store, append([]Option{WithNow(func() time.Time {
		return time.Date(2024, 4, 1, 9, 0, 0, 0, time.FixedZone("BST", 3600))
	})}, opts...)...)
	w.newID = func() string { return "job-1" }
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestWorker_ExportsJSONAndCSV(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	w := startWorker(t, stubProvider{repos: map[string]*respondents.Repository{"UK": ukRepository(t)}}, store)

	queued, err := w.Enqueue(ctx, "UK", FormatJSON, FormatCSV, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatJSON, FormatCSV}, queued.Formats)
	assert.Equal(t, time.UTC, queued.CreatedAt.Location())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rec, err := w.Wait(waitCtx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, rec.Status, rec.Error)
	require.True(t, rec.Done())
	require.NotNil(t, rec.CompletedAt)
	require.Len(t, rec.Artifacts, 2)
	assert.Equal(t, "exports/UK/job-1.json", rec.Artifacts[0].Info.Key)

	body, _, err := blob.ReadAll(ctx, store, "exports/UK/job-1.json")
	require.NoError(t, err)
	var doc document
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, 2, doc.Respondents)
	require.Len(t, doc.Assignments, 2)
	assert.Equal(t, 1, doc.Assignments[0].RespondentID)
	assert.False(t, doc.Assignments[0].Weighted)
	assert.Equal(t, "Age:young", doc.Assignments[1].CellKey)

	body, _, err = blob.ReadAll(ctx, store, "exports/UK/job-1.csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Equal(t, "1,2024-03-01T12:00:00Z,-1,Unweighted,false", lines[1])
	assert.Equal(t, "2,2024-03-01T12:00:00Z,0,Age:young,true", lines[2])
}

func TestWorker_RecordsFailures(t *testing.T) {
	ctx := context.Background()
	w := startWorker(t, stubProvider{err: errors.New("database down")}, blob.NewMemory())

	queued, err := w.Enqueue(ctx, "UK")
	require.NoError(t, err)
	rec, err := w.Wait(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "database down")
	assert.Empty(t, rec.Artifacts)
}

func TestWorker_EnqueueValidation(t *testing.T) {
	ctx := context.Background()
	w := NewWorker(stubProvider{}, blob.NewMemory(), WithQueueSize(1))

	_, err := w.Enqueue(ctx, " ")
	assert.True(t, domain.IsFatal(err))
	_, err = w.Enqueue(ctx, "UK", Format("xml"))
	assert.True(t, domain.IsFatal(err))

	// The worker is not started, so the second job cannot be queued.
	w.newID = func() string { return "a" }
	_, err = w.Enqueue(ctx, "UK")
	require.NoError(t, err)
	w.newID = func() string { return "b" }
	_, err = w.Enqueue(ctx, "UK")
	require.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, domain.IsRecoverable(err))
	_, ok := w.Get("b")
	assert.False(t, ok)

	rec, ok := w.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusQueued, rec.Status)

	_, err = w.Wait(ctx, "missing")
	var nf domain.ErrNotFound
	require.ErrorAs(t, err, &nf)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = w.Wait(cancelled, "a")
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, w.Stop(ctx))
}

func TestWorker_StopFailsQueuedJobs(t *testing.T) {
	ctx := context.Background()
	w := NewWorker(stubProvider{}, blob.NewMemory())
	w.newID = func() string { return "pending" }

	_, err := w.Enqueue(ctx, "UK")
	require.NoError(t, err)
	require.NoError(t, w.Stop(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	rec, err := w.Wait(waitCtx, "pending")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, ErrStopped.Error(), rec.Error)
	require.NotNil(t, rec.CompletedAt)

	_, err = w.Enqueue(ctx, "UK")
	require.ErrorIs(t, err, ErrStopped)
	assert.True(t, domain.IsFatal(err))
}

// Package export writes respondent quota cell assignments of loaded subsets
// to the blob store as JSON and CSV artifacts, one asynchronous job per
// subset.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveycore/internal/blob"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
	"surveycore/pkg/domain"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// KeyPrefix is the blob key prefix of every artifact.
const KeyPrefix = "exports/"

var (
	// ErrQueueFull is returned when the worker cannot accept another job.
	ErrQueueFull = errors.New("export queue full")
	// ErrStopped fails jobs enqueued after Stop or still queued when it ran.
	ErrStopped = errors.New("export worker stopped")
)

// Artifact is one stored export document.
type Artifact struct {
	Format Format    `json:"format"`
	Info   blob.Info `json:"info"`
}

// Record tracks an export job and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	SubsetID    string     `json:"subset_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (r Record) Done() bool { return r.Status == StatusSucceeded || r.Status == StatusFailed }

func (r Record) copy() Record {
	cp := r
	cp.Formats = append([]Format(nil), r.Formats...)
	cp.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// RepositoryProvider resolves the respondent repository of a subset.
type RepositoryProvider interface {
	RespondentRepository(ctx context.Context, subsetID string) (*respondents.Repository, error)
}

// Worker runs export jobs on a single background goroutine.
type Worker struct {
	provider RepositoryProvider
	store    blob.Store
	logger   observability.Logger
	now      func() time.Time
	newID    func() string

	queue   chan string
	mu      sync.RWMutex
	jobs    map[string]*job
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	record Record
	done   chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l observability.Logger) Option {
	return func(w *Worker) { w.logger = observability.OrNoop(l) }
}

// WithNow overrides the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithQueueSize sets how many jobs may wait before Enqueue fails.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// NewWorker constructs a worker. Call Start before enqueueing jobs.
func NewWorker(provider RepositoryProvider, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		provider: provider,
		store:    store,
		logger:   observability.NoopLogger(),
		now:      time.Now,
		newID:    uuid.NewString,
		queue:    make(chan string, 32),
		jobs:     make(map[string]*job),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start begins processing jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the running job to return. Jobs that
// have not started fail with ErrStopped and later Enqueue calls are
// rejected.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	w.failQueued()
	return err
}

func (w *Worker) failQueued() {
	w.mu.RLock()
	var queued []string
	for id, j := range w.jobs {
		if j.record.Status == StatusQueued {
			queued = append(queued, id)
		}
	}
	w.mu.RUnlock()
	for _, id := range queued {
		w.finish(id, nil, ErrStopped)
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			if w.ctx.Err() != nil {
				return
			}
			w.process(id)
		}
	}
}

// Enqueue schedules an export of subsetID. Without formats both JSON and
// CSV are written; duplicates collapse.
func (w *Worker) Enqueue(_ context.Context, subsetID string, formats ...Format) (Record, error) {
	if strings.TrimSpace(subsetID) == "" {
		return Record{}, domain.Fatal("export.Enqueue", errors.New("subset id required"))
	}
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if f != FormatJSON && f != FormatCSV {
			return Record{}, domain.Fatal("export.Enqueue", fmt.Errorf("unsupported format %q", f))
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	now := w.now().UTC()
	j := &job{
		record: Record{
			ID:        w.newID(),
			SubsetID:  subsetID,
			Formats:   uniq,
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Record{}, domain.Fatal("export.Enqueue", ErrStopped)
	}
	w.jobs[j.record.ID] = j
	snapshot := j.record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- snapshot.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, snapshot.ID)
		w.mu.Unlock()
		return Record{}, domain.Recoverable("export.Enqueue", ErrQueueFull)
	}
	w.logger.Debug("export queued", "export_id", snapshot.ID, "subset", subsetID)
	return snapshot, nil
}

// Get returns a snapshot of the job's record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	j, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return j.record.copy(), true
}

// Wait blocks until the job finishes or ctx is done.
func (w *Worker) Wait(ctx context.Context, id string) (Record, error) {
	w.mu.RLock()
	j, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return Record{}, domain.ErrNotFound{Entity: "export", ID: id}
	}
	select {
	case <-j.done:
		rec, _ := w.Get(id)
		return rec, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (w *Worker) process(id string) {
	rec, ok := w.Get(id)
	if !ok || rec.Done() {
		return
	}
	w.update(id, func(r *Record) { r.Status = StatusRunning })

	repo, err := w.provider.RespondentRepository(w.ctx, rec.SubsetID)
	if err != nil {
		w.finish(id, nil, fmt.Errorf("load respondents: %w", err))
		return
	}
	rows := assignmentRows(repo)
	artifacts := make([]Artifact, 0, len(rec.Formats))
	for _, format := range rec.Formats {
		payload, err := render(format, repo, rows)
		if err != nil {
			w.finish(id, nil, err)
			return
		}
		key := fmt.Sprintf("%s%s/%s.%s", KeyPrefix, repo.Subset().ID, id, format)
		info, err := blob.PutBytes(w.ctx, w.store, key, payload)
		if err != nil {
			w.finish(id, nil, fmt.Errorf("store %s: %w", key, err))
			return
		}
		artifacts = append(artifacts, Artifact{Format: format, Info: info})
	}
	w.finish(id, artifacts, nil)
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if j, ok := w.jobs[id]; ok {
		fn(&j.record)
		j.record.UpdatedAt = w.now().UTC()
	}
}

func (w *Worker) finish(id string, artifacts []Artifact, err error) {
	now := w.now().UTC()
	w.mu.Lock()
	j, ok := w.jobs[id]
	if ok && j.record.Done() {
		ok = false
	}
	if ok {
		j.record.UpdatedAt = now
		j.record.CompletedAt = &now
		if err != nil {
			j.record.Status = StatusFailed
			j.record.Error = err.Error()
		} else {
			j.record.Status = StatusSucceeded
			j.record.Artifacts = artifacts
		}
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	close(j.done)
	if err != nil {
		w.logger.Error("export failed", "export_id", id, "error", err)
		return
	}
	w.logger.Info("export complete", "export_id", id, "artifacts", len(artifacts))
}

// AssignmentRow is one respondent's quota cell assignment.
type AssignmentRow struct {
	RespondentID int       `json:"respondent_id"`
	Timestamp    time.Time `json:"timestamp"`
	CellID       int       `json:"cell_id"`
	CellKey      string    `json:"cell_key"`
	Weighted     bool      `json:"weighted"`
}

func assignmentRows(repo *respondents.Repository) []AssignmentRow {
	all := repo.All()
	rows := make([]AssignmentRow, 0, len(all))
	for _, cr := range all {
		rows = append(rows, AssignmentRow{
			RespondentID: cr.Respondent.ID(),
			Timestamp:    cr.Respondent.Timestamp().UTC(),
			CellID:       cr.Cell.ID,
			CellKey:      cr.Cell.Key(),
			Weighted:     !cr.Cell.IsUnweighted(),
		})
	}
	return rows
}

type document struct {
	SubsetID    string          `json:"subset_id"`
	Respondents int             `json:"respondents"`
	Excluded    int             `json:"excluded"`
	Issues      []domain.Issue  `json:"issues,omitempty"`
	Assignments []AssignmentRow `json:"assignments"`
}

var csvHeader = []string{"respondent_id", "timestamp", "cell_id", "cell_key", "weighted"}

func render(format Format, repo *respondents.Repository, rows []AssignmentRow) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(document{
			SubsetID:    repo.Subset().ID,
			Respondents: repo.Count(),
			Excluded:    repo.Excluded(),
			Issues:      repo.Report().Issues,
			Assignments: rows,
		}, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write(csvHeader); err != nil {
			return nil, err
		}
		for _, r := range rows {
			if err := cw.Write([]string{
				strconv.Itoa(r.RespondentID),
				r.Timestamp.Format(time.RFC3339),
				strconv.Itoa(r.CellID),
				r.CellKey,
				strconv.FormatBool(r.Weighted),
			}); err != nil {
				return nil, err
			}
		}
		cw.Flush()
		return buf.Bytes(), cw.Error()
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

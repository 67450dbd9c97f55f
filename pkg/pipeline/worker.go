package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omicscore/internal/join"
)

// PersistStatus tracks an asynchronous persist job.
type PersistStatus string

const (
	PersistPending   PersistStatus = "pending"
	PersistRunning   PersistStatus = "running"
	PersistSucceeded PersistStatus = "succeeded"
	PersistFailed    PersistStatus = "failed"
)

// AuditLogger records persist audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for persistence operations.
type AuditEntry struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Dataset    string        `json:"dataset"`
	Partition  string        `json:"partition"`
	Status     PersistStatus `json:"status"`
	Rows       int           `json:"rows"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// MemoryAudit retains audit entries in process, for tests and single runs.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *MemoryAudit) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (a *MemoryAudit) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

// PersistRecord is the observable state of one enqueued persist job.
type PersistRecord struct {
	ID        string        `json:"id"`
	Dataset   string        `json:"dataset"`
	Partition string        `json:"partition"`
	Status    PersistStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type persistTask struct {
	id        string
	dataset   string
	partition string
	ds        *join.Dataset
}

// PersistWorker persists materialized datasets asynchronously so
// materialization of the next partition can proceed while the previous one
// is written out.
type PersistWorker struct {
	pipeline *Pipeline
	audit    AuditLogger

	queue chan persistTask
	mu    sync.RWMutex
	jobs  map[string]*PersistRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPersistWorker constructs a worker writing through p's columnar store.
// audit may be nil.
func NewPersistWorker(p *Pipeline, audit AuditLogger) *PersistWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &PersistWorker{
		pipeline: p,
		audit:    audit,
		queue:    make(chan persistTask, 32),
		jobs:     make(map[string]*PersistRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing enqueued persist jobs.
func (w *PersistWorker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for in-flight jobs, bounded by
// ctx.
func (w *PersistWorker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules ds for persistence and returns the job identifier.
func (w *PersistWorker) Enqueue(dataset string, ds *join.Dataset, partition string) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("nil dataset")
	}
	task := persistTask{id: uuid.NewString(), dataset: dataset, partition: partition, ds: ds}
	now := time.Now().UTC()
	w.mu.Lock()
	w.jobs[task.id] = &PersistRecord{
		ID:        task.id,
		Dataset:   dataset,
		Partition: partition,
		Status:    PersistPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.mu.Unlock()
	select {
	case w.queue <- task:
		return task.id, nil
	case <-w.ctx.Done():
		w.setStatus(task.id, PersistFailed, "worker stopped")
		return "", fmt.Errorf("persist worker stopped")
	}
}

// Job returns the current state of a persist job.
func (w *PersistWorker) Job(id string) (PersistRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.jobs[id]
	if !ok {
		return PersistRecord{}, false
	}
	return *rec, true
}

func (w *PersistWorker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.run(task)
		}
	}
}

func (w *PersistWorker) run(task persistTask) {
	w.setStatus(task.id, PersistRunning, "")
	err := w.pipeline.Persist(w.ctx, task.dataset, task.ds, task.partition)
	status := PersistSucceeded
	reason := ""
	if err != nil {
		status = PersistFailed
		reason = err.Error()
	}
	w.setStatus(task.id, status, reason)
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         task.id,
			RunID:      w.pipeline.RunID(),
			Dataset:    task.dataset,
			Partition:  task.partition,
			Status:     status,
			Rows:       task.ds.RowsAfter,
			Reason:     reason,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func (w *PersistWorker) setStatus(id string, status PersistStatus, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.jobs[id]
	if !ok {
		return
	}
	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().UTC()
}

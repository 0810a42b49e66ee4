package queue

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/fetchdeck/backend/internal/errors"
	"github.com/fetchdeck/backend/internal/job"
	"github.com/fetchdeck/backend/internal/logger"
	"github.com/fetchdeck/backend/internal/metrics"
	"github.com/fetchdeck/backend/internal/notify"
	"github.com/fetchdeck/backend/internal/relay"
	"github.com/fetchdeck/backend/internal/store"
)

// Executor runs one admitted job in an isolated worker and reports
// through the progress relay.
type Executor interface {
	Start(j *job.Job) (Handle, error)
}

// Handle controls a running worker. Cancel is asynchronous: the worker
// confirms termination with a canceled message on the relay.
type Handle interface {
	Cancel()
}

type activeEntry struct {
	job             *job.Job
	handle          Handle
	cancelRequested bool
}

// Manager owns the pending/active/done collections and the persistent
// store. All mutations happen on its single run loop; public methods
// submit commands and wait for the reply, so callers never race each
// other or the relay drain.
type Manager struct {
	store    store.Store
	ctrl     *Controller
	exec     Executor
	relay    *relay.Relay
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger

	// completionHook, when set before Start, is invoked with a copy of
	// every successfully completed job (used by the archiver).
	completionHook func(*job.Job)

	cmds chan command
	quit chan struct{}
	done chan struct{}

	// owned by the run loop
	pendingOrder []string
	pending      map[string]*job.Job
	active       map[string]*activeEntry
	doneJobs     map[string]*job.Job
}

type cmdKind int

const (
	cmdAdd cmdKind = iota
	cmdCancel
	cmdClear
	cmdSnapshot
	cmdGet
	cmdArchiveKey
)

type command struct {
	kind       cmdKind
	url        string
	formatSpec string
	jobID      string
	all        bool
	archiveKey string
	reply      chan result
}

type result struct {
	job      *job.Job
	snapshot *Snapshot
	ids      []string
	err      error
}

// Snapshot is a consistent copy of the three collections, taken under
// the run loop's ownership.
type Snapshot struct {
	Pending []*job.Job `json:"pending"`
	Active  []*job.Job `json:"active"`
	Done    []*job.Job `json:"done"`
}

func NewManager(st store.Store, ctrl *Controller, exec Executor, r *relay.Relay, n *notify.Notifier, m *metrics.Metrics) *Manager {
	return &Manager{
		store:    st,
		ctrl:     ctrl,
		exec:     exec,
		relay:    r,
		notifier: n,
		metrics:  m,
		log:      logger.Default().WithComponent("queue"),
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]*job.Job),
		active:   make(map[string]*activeEntry),
		doneJobs: make(map[string]*job.Job),
	}
}

// SetCompletionHook registers a hook for completed jobs. Must be called
// before Start.
func (m *Manager) SetCompletionHook(hook func(*job.Job)) {
	m.completionHook = hook
}

// Start restores persisted state and launches the run loop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.RestoreFromStore(ctx); err != nil {
		return err
	}
	go m.run()
	return nil
}

// RestoreFromStore reloads persisted records. Pending and active records
// come back as pending (the worker that owned an active job died with the
// prior process); terminal records come back as-is. Unreadable entries
// were already skipped by the store with a warning.
func (m *Manager) RestoreFromStore(ctx context.Context) error {
	records, err := m.store.List(ctx)
	if err != nil {
		return apperrors.StoreError("failed to enumerate persisted jobs").WithCause(err)
	}

	var pend []*job.Job
	for _, j := range records {
		if j.ID == "" {
			m.log.Warn(ctx, "skipping persisted record without an id")
			continue
		}
		if j.Status.IsTerminal() {
			m.doneJobs[j.ID] = j
			continue
		}
		if j.Status != job.StatusPending {
			j.Status = job.StatusPending
			j.StartedAt = nil
			j.Progress = 0
			j.Speed = ""
			j.ETASeconds = -1
			m.persist(ctx, j)
		}
		pend = append(pend, j)
	}

	sort.Slice(pend, func(i, k int) bool { return pend[i].QueuedAt.Before(pend[k].QueuedAt) })
	for _, j := range pend {
		m.pending[j.ID] = j
		m.pendingOrder = append(m.pendingOrder, j.ID)
	}

	m.log.Info(ctx, "restored persisted jobs", map[string]any{
		"pending": len(m.pending),
		"done":    len(m.doneJobs),
	})
	m.syncGauges()
	return nil
}

// Stop cancels all active workers and shuts the run loop down once each
// has confirmed termination, or when ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	close(m.quit)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add validates and enqueues a new download job.
func (m *Manager) Add(ctx context.Context, url, formatSpec string) (*job.Job, error) {
	if url == "" {
		return nil, apperrors.ValidationError("url is required")
	}
	res, err := m.do(ctx, command{kind: cmdAdd, url: url, formatSpec: formatSpec})
	return res.job, err
}

// Cancel requests cancellation of a pending or active job. A pending job
// is canceled immediately; an active job's worker is signaled and the
// canceled notification follows once the process is confirmed dead.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	res, err := m.do(ctx, command{kind: cmdCancel, jobID: jobID})
	return res.job, err
}

// Clear removes one finished job record, never touching pending or
// active jobs.
func (m *Manager) Clear(ctx context.Context, jobID string) ([]string, error) {
	res, err := m.do(ctx, command{kind: cmdClear, jobID: jobID})
	return res.ids, err
}

// ClearAll removes every finished job record.
func (m *Manager) ClearAll(ctx context.Context) ([]string, error) {
	res, err := m.do(ctx, command{kind: cmdClear, all: true})
	return res.ids, err
}

// Get returns a copy of a job record from any collection.
func (m *Manager) Get(ctx context.Context, jobID string) (*job.Job, error) {
	res, err := m.do(ctx, command{kind: cmdGet, jobID: jobID})
	return res.job, err
}

// Snapshot returns a consistent copy of the full queue state.
func (m *Manager) Snapshot(ctx context.Context) (*Snapshot, error) {
	res, err := m.do(ctx, command{kind: cmdSnapshot})
	return res.snapshot, err
}

// SetArchiveKey records the object-storage key of a completed job's
// uploaded file.
func (m *Manager) SetArchiveKey(ctx context.Context, jobID, key string) error {
	_, err := m.do(ctx, command{kind: cmdArchiveKey, jobID: jobID, archiveKey: key})
	return err
}

func (m *Manager) do(ctx context.Context, cmd command) (result, error) {
	cmd.reply = make(chan result, 1)
	select {
	case m.cmds <- cmd:
	case <-m.quit:
		return result{}, apperrors.QueueStopped()
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.done)

	ctx := context.Background()
	m.admit(ctx)

	for {
		select {
		case cmd := <-m.cmds:
			cmd.reply <- m.handleCommand(ctx, cmd)
		case msg := <-m.relay.Out():
			m.handleRelayMessage(ctx, msg)
		case <-m.quit:
			m.shutdown(ctx)
			return
		}
	}
}

// shutdown cancels every active worker and drains the relay until each
// has confirmed termination.
func (m *Manager) shutdown(ctx context.Context) {
	for _, entry := range m.active {
		entry.cancelRequested = true
		entry.handle.Cancel()
	}

	deadline := time.After(30 * time.Second)
	for len(m.active) > 0 {
		select {
		case msg := <-m.relay.Out():
			m.handleRelayMessage(ctx, msg)
		case cmd := <-m.cmds:
			cmd.reply <- result{err: apperrors.QueueStopped()}
		case <-deadline:
			m.log.Warn(ctx, "shutdown timed out waiting for workers", map[string]any{"active": len(m.active)})
			return
		}
	}
}

func (m *Manager) handleCommand(ctx context.Context, cmd command) result {
	switch cmd.kind {
	case cmdAdd:
		return m.handleAdd(ctx, cmd.url, cmd.formatSpec)
	case cmdCancel:
		return m.handleCancel(ctx, cmd.jobID)
	case cmdClear:
		return m.handleClear(ctx, cmd.jobID, cmd.all)
	case cmdGet:
		return m.handleGet(cmd.jobID)
	case cmdSnapshot:
		return result{snapshot: m.snapshotLocked()}
	case cmdArchiveKey:
		return m.handleArchiveKey(ctx, cmd.jobID, cmd.archiveKey)
	}
	return result{err: apperrors.InternalError("unknown command")}
}

func (m *Manager) handleAdd(ctx context.Context, url, formatSpec string) result {
	id := job.ComputeID(url, formatSpec)

	if _, inFlight := m.pending[id]; inFlight {
		return result{err: apperrors.DuplicateJob(id)}
	}
	if _, inFlight := m.active[id]; inFlight {
		return result{err: apperrors.DuplicateJob(id)}
	}
	// A finished job may be resubmitted; the stale record is replaced by
	// a fresh pending entry.
	delete(m.doneJobs, id)

	j := job.New(url, formatSpec)
	m.pending[id] = j
	m.pendingOrder = append(m.pendingOrder, id)
	m.persist(ctx, j)
	m.metrics.JobAdded()
	m.notifier.Publish(notify.Event{Type: notify.EventAdded, Job: j.Clone()})
	m.log.Info(ctx, "job queued", map[string]any{"job_id": id, "url": url})

	m.admit(ctx)
	return result{job: j.Clone()}
}

func (m *Manager) handleCancel(ctx context.Context, jobID string) result {
	if j, ok := m.pending[jobID]; ok {
		m.removePending(jobID)
		now := time.Now().UTC()
		j.Status = job.StatusCanceled
		j.FinishedAt = &now
		m.doneJobs[jobID] = j
		m.persist(ctx, j)
		m.metrics.JobCanceled()
		m.notifier.Publish(notify.Event{Type: notify.EventCanceled, Job: j.Clone()})
		m.log.Info(ctx, "pending job canceled", map[string]any{"job_id": jobID})
		m.syncGauges()
		return result{job: j.Clone()}
	}

	if entry, ok := m.active[jobID]; ok {
		if !entry.cancelRequested {
			entry.cancelRequested = true
			entry.handle.Cancel()
			m.log.Info(ctx, "cancellation signaled to worker", map[string]any{"job_id": jobID})
		}
		return result{job: entry.job.Clone()}
	}

	return result{err: apperrors.JobNotFound(jobID)}
}

func (m *Manager) handleClear(ctx context.Context, jobID string, all bool) result {
	if all {
		ids := make([]string, 0, len(m.doneJobs))
		for id := range m.doneJobs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			delete(m.doneJobs, id)
			m.unpersist(ctx, id)
		}
		if len(ids) > 0 {
			m.metrics.JobsCleared(len(ids))
			m.notifier.Publish(notify.Event{Type: notify.EventCleared, JobIDs: ids})
		}
		m.syncGauges()
		return result{ids: ids}
	}

	if _, ok := m.doneJobs[jobID]; ok {
		delete(m.doneJobs, jobID)
		m.unpersist(ctx, jobID)
		m.metrics.JobsCleared(1)
		m.notifier.Publish(notify.Event{Type: notify.EventCleared, JobIDs: []string{jobID}})
		m.syncGauges()
		return result{ids: []string{jobID}}
	}

	// Clear never cancels: an in-flight job is rejected, not touched.
	if _, ok := m.pending[jobID]; ok {
		return result{err: apperrors.JobNotDone(jobID)}
	}
	if _, ok := m.active[jobID]; ok {
		return result{err: apperrors.JobNotDone(jobID)}
	}
	return result{err: apperrors.JobNotFound(jobID)}
}

func (m *Manager) handleGet(jobID string) result {
	if j, ok := m.pending[jobID]; ok {
		return result{job: j.Clone()}
	}
	if entry, ok := m.active[jobID]; ok {
		return result{job: entry.job.Clone()}
	}
	if j, ok := m.doneJobs[jobID]; ok {
		return result{job: j.Clone()}
	}
	return result{err: apperrors.JobNotFound(jobID)}
}

func (m *Manager) handleArchiveKey(ctx context.Context, jobID, key string) result {
	j, ok := m.doneJobs[jobID]
	if !ok || j.Status != job.StatusCompleted {
		return result{err: apperrors.JobNotFound(jobID)}
	}
	j.ArchiveKey = key
	m.persist(ctx, j)
	m.notifier.Publish(notify.Event{Type: notify.EventUpdated, Job: j.Clone()})
	return result{job: j.Clone()}
}

// admit moves pending jobs to active while the controller allows it,
// always oldest first.
func (m *Manager) admit(ctx context.Context) {
	for len(m.pendingOrder) > 0 && m.ctrl.CanAdmit(len(m.active)) {
		id := m.pendingOrder[0]
		m.pendingOrder = m.pendingOrder[1:]
		j := m.pending[id]
		delete(m.pending, id)

		now := time.Now().UTC()
		j.Status = job.StatusActive
		j.StartedAt = &now

		handle, err := m.exec.Start(j.Clone())
		if err != nil {
			finished := time.Now().UTC()
			j.Status = job.StatusError
			j.Error = "failed to start worker: " + err.Error()
			j.FinishedAt = &finished
			m.doneJobs[id] = j
			m.persist(ctx, j)
			m.metrics.JobFailed()
			m.notifier.Publish(notify.Event{Type: notify.EventCompleted, Job: j.Clone()})
			m.log.Error(ctx, "worker failed to start", apperrors.WorkerCrash(err.Error()), map[string]any{"job_id": id})
			continue
		}

		m.active[id] = &activeEntry{job: j, handle: handle}
		m.persist(ctx, j)
		m.notifier.Publish(notify.Event{Type: notify.EventUpdated, Job: j.Clone()})
		m.log.Info(ctx, "job admitted", map[string]any{"job_id": id, "policy": string(m.ctrl.Policy())})
	}
	m.syncGauges()
}

func (m *Manager) handleRelayMessage(ctx context.Context, msg relay.Message) {
	entry, ok := m.active[msg.JobID]
	if !ok {
		// Late message for a job that already left the active set.
		m.log.Debug(ctx, "discarding message for inactive job", map[string]any{"job_id": msg.JobID})
		return
	}
	j := entry.job

	if msg.Kind == relay.KindProgress {
		if entry.cancelRequested {
			// Cancellation wins; nothing may overwrite it.
			return
		}
		if msg.Percent > j.Progress {
			j.Progress = msg.Percent
		}
		if msg.Speed != "" {
			j.Speed = msg.Speed
		}
		if msg.ETASeconds >= 0 {
			j.ETASeconds = msg.ETASeconds
		}
		if msg.Title != "" && j.Title == "" {
			j.Title = msg.Title
		}
		m.persist(ctx, j)
		m.notifier.Publish(notify.Event{Type: notify.EventUpdated, Job: j.Clone()})
		return
	}

	// Terminal outcome: the worker process is confirmed dead.
	delete(m.active, msg.JobID)
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.Speed = ""
	j.ETASeconds = 0

	switch {
	case entry.cancelRequested || msg.Kind == relay.KindCanceled:
		j.Status = job.StatusCanceled
		m.metrics.JobCanceled()
		m.persist(ctx, j)
		m.notifier.Publish(notify.Event{Type: notify.EventCanceled, Job: j.Clone()})
		m.log.Info(ctx, "job canceled", map[string]any{"job_id": j.ID})

	case msg.Kind == relay.KindCompleted:
		j.Status = job.StatusCompleted
		j.Progress = 100
		j.OutputPath = msg.OutputPath
		j.Error = ""
		if msg.Title != "" && j.Title == "" {
			j.Title = msg.Title
		}
		m.metrics.JobCompleted()
		m.persist(ctx, j)
		m.notifier.Publish(notify.Event{Type: notify.EventCompleted, Job: j.Clone()})
		m.log.Info(ctx, "job completed", map[string]any{"job_id": j.ID, "output": j.OutputPath})
		if m.completionHook != nil {
			go m.completionHook(j.Clone())
		}

	default: // relay.KindFailed
		j.Status = job.StatusError
		j.Error = msg.Err
		j.OutputPath = ""
		m.metrics.JobFailed()
		m.persist(ctx, j)
		m.notifier.Publish(notify.Event{Type: notify.EventCompleted, Job: j.Clone()})
		failure := apperrors.DownloadFailed(msg.Err)
		if msg.Crashed {
			failure = apperrors.WorkerCrash(msg.Err)
		}
		m.log.Error(ctx, "job failed", failure, map[string]any{"job_id": j.ID})
	}

	m.doneJobs[j.ID] = j
	m.admit(ctx)
}

func (m *Manager) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Pending: make([]*job.Job, 0, len(m.pending)),
		Active:  make([]*job.Job, 0, len(m.active)),
		Done:    make([]*job.Job, 0, len(m.doneJobs)),
	}
	for _, id := range m.pendingOrder {
		snap.Pending = append(snap.Pending, m.pending[id].Clone())
	}
	for _, entry := range m.active {
		snap.Active = append(snap.Active, entry.job.Clone())
	}
	sort.Slice(snap.Active, func(i, k int) bool {
		return snap.Active[i].StartedAt.Before(*snap.Active[k].StartedAt)
	})
	for _, j := range m.doneJobs {
		snap.Done = append(snap.Done, j.Clone())
	}
	sort.Slice(snap.Done, func(i, k int) bool {
		ti, tk := snap.Done[i].FinishedAt, snap.Done[k].FinishedAt
		if ti == nil || tk == nil {
			return snap.Done[i].ID < snap.Done[k].ID
		}
		return ti.Before(*tk)
	})
	return snap
}

func (m *Manager) removePending(jobID string) {
	delete(m.pending, jobID)
	for i, id := range m.pendingOrder {
		if id == jobID {
			m.pendingOrder = append(m.pendingOrder[:i], m.pendingOrder[i+1:]...)
			break
		}
	}
}

// persist mirrors an in-memory mutation to the store. A write failure
// degrades durability but never fails the operation.
func (m *Manager) persist(ctx context.Context, j *job.Job) {
	if err := m.store.Put(ctx, j); err != nil {
		m.log.Error(ctx, "failed to persist job record", apperrors.StoreError(err.Error()), map[string]any{"job_id": j.ID})
	}
}

func (m *Manager) unpersist(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.log.Error(ctx, "failed to delete job record", apperrors.StoreError(err.Error()), map[string]any{"job_id": id})
	}
}

func (m *Manager) syncGauges() {
	m.metrics.SetQueueSizes(len(m.pending), len(m.active), len(m.doneJobs))
}

package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Runner drives one job's Iteration Engine to completion. Implemented by
// internal/engine.Engine; kept as an interface here so this package never
// imports the engine package, resolving the circular dependency spec §9
// flags between the Job Manager and the Iteration Engine by passing a
// minimal callback surface instead of a two-way reference.
type Runner interface {
	RunJob(ctx context.Context, j *Job, mailbox *Mailbox) error
}

// Store is the subset of the Persistence Layer (spec §4.7) the Job Manager
// depends on. Implemented by internal/store.FileStore.
type Store interface {
	SaveJob(j *Job) error
	LoadAll() ([]*Job, error)
	Delete(jobID string) error
}

// Notifier publishes job lifecycle events to an external bus. Optional:
// a nil notifier (the default) disables fan-out entirely (SPEC_FULL.md
// Part C's NATS wiring is additive, off unless configured).
type Notifier interface {
	Notify(event string, j *Job)
}

// Config configures the Job Manager (spec §6.3).
type Config struct {
	MaxConcurrentJobs int
	QueueCapacity     int
	JobTimeout        time.Duration
	RetentionDays     int
}

// DefaultConfig returns spec.md §6.3's defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentJobs: 4, QueueCapacity: 32, JobTimeout: 30 * time.Minute, RetentionDays: 7}
}

// Manager is the Job Manager of spec §4.6: admits jobs, assigns
// identifiers, tracks status, enforces concurrency, handles cancel/resume,
// and dispatches to Iteration Engine workers via a bounded pool.
type Manager struct {
	cfg    Config
	runner Runner
	store  Store
	logger logging.Logger

	mu       sync.RWMutex
	jobs     map[string]*Job
	mailbox  map[string]*Mailbox
	queue    chan string
	sem      chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	notifier Notifier
}

// SetNotifier wires an external event publisher. Call before Start.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// notify reports NeedsHelp suspensions and terminal outcomes to the
// configured Notifier, if any.
func (m *Manager) notify(j *Job) {
	if m.notifier == nil {
		return
	}
	switch j.State {
	case StateNeedsHelp:
		m.notifier.Notify("needs_help", j)
	case StateComplete, StateFailed, StateCancelled, StateTimedOut:
		m.notifier.Notify("completed", j)
	}
}

// NewManager builds a Manager. Call Start to begin dispatching queued jobs,
// and LoadFromStore first to resurrect persisted state (spec §4.7).
func NewManager(cfg Config, runner Runner, store Store, logger logging.Logger) *Manager {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		logger:  logger.WithComponent("orchestrator/job"),
		jobs:    make(map[string]*Job),
		mailbox: make(map[string]*Mailbox),
		queue:   make(chan string, cfg.QueueCapacity),
		sem:     make(chan struct{}, cfg.MaxConcurrentJobs),
		stopCh:  make(chan struct{}),
	}
}

// LoadFromStore implements spec §4.7's startup policy: scan persisted jobs,
// resurrect terminal jobs read-only, and mark any job caught mid-flight
// (not in a terminal state) as TimedOut with a resumable flag rather than
// auto-re-running it.
func (m *Manager) LoadFromStore() error {
	if m.store == nil {
		return nil
	}
	jobs, err := m.store.LoadAll()
	if err != nil {
		return orcherr.New("job.LoadFromStore", orcherr.KindStorage, "", "loading persisted jobs", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		if !j.State.IsTerminal() {
			j.State = StateTimedOut
			j.LastError = &TaskError{
				Type: string(orcherr.KindTimedOut), Phase: j.CurrentPhase,
				Message:  "process restarted mid-job; resubmit to resume",
				CanRetry: true,
			}
			j.AppendPhase(PhaseInfo{Name: "Recovery", Status: PhaseFailed,
				Details: "job was non-terminal at process start; marked TimedOut per restart policy"})
		}
		m.jobs[j.ID] = j
		m.mailbox[j.ID] = NewMailbox()
	}
	return nil
}

// Admit validates admission-level invariants (capacity; the request itself
// is validated by the facade per spec §4.8 before reaching here), mints a
// Job, persists it, and enqueues it for dispatch. When the queue is full it
// returns an *orcherr.Error of Kind ValidationError whose message starts
// with "Overloaded" (spec §5 backpressure).
func (m *Manager) Admit(req Request) (*Job, error) {
	m.mu.Lock()
	j := NewJob(uuid.NewString(), req)
	m.jobs[j.ID] = j
	mb := NewMailbox()
	m.mailbox[j.ID] = mb
	m.mu.Unlock()

	j.AppendPhase(PhaseInfo{Name: "Queued", Status: PhaseSucceeded, StartedAt: j.Timestamps.StartedAt, CompletedAt: j.Timestamps.StartedAt})
	m.persist(j)

	select {
	case m.queue <- j.ID:
		return j, nil
	default:
		m.mu.Lock()
		delete(m.jobs, j.ID)
		delete(m.mailbox, j.ID)
		m.mu.Unlock()
		return nil, orcherr.New("job.Admit", orcherr.KindValidation, j.ID, "Overloaded: queue at capacity", nil)
	}
}

// Start begins the dispatch loop: pulls queued job IDs and, once a pool
// slot frees, spawns a worker goroutine running the Iteration Engine. Start
// returns immediately; call Stop (or cancel ctx) to drain.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case id := <-m.queue:
				select {
				case m.sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				m.wg.Add(1)
				go m.runJob(ctx, id)
			}
		}
	}()
}

// Stop signals the dispatch loop to exit and waits for in-flight workers.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) runJob(ctx context.Context, id string) {
	defer m.wg.Done()
	defer func() { <-m.sem }()

	m.mu.RLock()
	j := m.jobs[id]
	mb := m.mailbox[id]
	m.mu.RUnlock()
	if j == nil {
		return
	}

	if err := j.Transition(StateRunning); err != nil {
		m.logger.Error("job failed to start", logging.Fields{"job_id": id, "error": err.Error()})
		return
	}
	m.persist(j)

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	if err := m.runner.RunJob(jobCtx, j, mb); err != nil {
		m.logger.Error("iteration engine returned error", logging.Fields{"job_id": id, "error": err.Error()})
	}
	m.persist(j)
	m.notify(j)
}

func (m *Manager) persist(j *Job) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveJob(j); err != nil {
		j.Unpersisted = true
		j.AppendPhase(PhaseInfo{Name: "Persist", Status: PhaseFailed, Details: err.Error()})
		m.logger.Error("storage error", logging.Fields{"job_id": j.ID, "error": err.Error()})
	}
}

// Status returns a snapshot of job jobID.
func (m *Manager) Status(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, orcherr.New("job.Status", orcherr.KindValidation, jobID, "job not found", nil)
	}
	return j, nil
}

// List returns every known job (spec §6.2 GET /orchestrate; pagination is
// applied by the facade over this slice).
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// Cancel requests cancellation of jobID (spec §4.6, §6.2 DELETE). Returns a
// ValidationError if the job is absent or already terminal (facade maps
// these to 404/409 respectively).
func (m *Manager) Cancel(jobID string) error {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	mb := m.mailbox[jobID]
	m.mu.RUnlock()
	if !ok {
		return orcherr.New("job.Cancel", orcherr.KindValidation, jobID, "not found", nil)
	}
	if j.State.IsTerminal() {
		return orcherr.New("job.Cancel", orcherr.KindValidation, jobID, "job is terminal", nil)
	}
	j.RequestCancel()
	if j.State == StateQueued {
		// Never dispatched: transition directly, no Iteration Engine to notify.
		return j.Transition(StateCancelled)
	}
	if mb != nil {
		mb.Send(Command{Type: CommandCancel})
	}
	return nil
}

// Help resumes a NeedsHelp job with hint (spec §4.5, §6.2 POST .../help).
// Returns a ValidationError (409-mapped by the facade) unless the job is
// currently NeedsHelp.
func (m *Manager) Help(jobID string, hint HelpRequest) error {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	mb := m.mailbox[jobID]
	m.mu.RUnlock()
	if !ok {
		return orcherr.New("job.Help", orcherr.KindValidation, jobID, "not found", nil)
	}
	if j.State != StateNeedsHelp {
		return orcherr.New("job.Help", orcherr.KindValidation, jobID, "job is not awaiting help", nil)
	}
	if err := j.Transition(StateRunning); err != nil {
		return err
	}
	m.persist(j)
	if mb == nil {
		return orcherr.New("job.Help", orcherr.KindStorage, jobID, "mailbox missing", nil)
	}
	mb.Send(Command{Type: CommandResume, Help: hint})

	m.mu.Lock()
	if m.sem != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.sem <- struct{}{} // waits for a free pool slot
			defer func() { <-m.sem }()
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
			defer cancel()
			if err := m.runner.RunJob(ctx, j, mb); err != nil {
				m.logger.Error("resumed job returned error", logging.Fields{"job_id": jobID, "error": err.Error()})
			}
			m.persist(j)
			m.notify(j)
		}()
	}
	m.mu.Unlock()
	return nil
}

// RetentionSweep deletes terminal jobs older than cfg.RetentionDays (spec
// §4.7). Intended to be invoked on a robfig/cron schedule by cmd/codeforged.
func (m *Manager) RetentionSweep(now time.Time) int {
	cutoff := now.AddDate(0, 0, -m.cfg.RetentionDays)
	m.mu.Lock()
	var toDelete []string
	for id, j := range m.jobs {
		if j.State.IsTerminal() && j.Timestamps.CompletedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(m.jobs, id)
		delete(m.mailbox, id)
	}
	m.mu.Unlock()

	if m.store != nil {
		for _, id := range toDelete {
			if err := m.store.Delete(id); err != nil {
				m.logger.Error("retention delete failed", logging.Fields{"job_id": id, "error": err.Error()})
			}
		}
	}
	return len(toDelete)
}

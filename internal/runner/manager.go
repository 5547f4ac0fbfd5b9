package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reelpipe/internal/config"
	"reelpipe/internal/logging"
	"reelpipe/internal/store"
)

// TerminalHook runs after a job reaches a terminal state. Hooks receive the
// re-fetched row and must tolerate both completed and failed jobs.
type TerminalHook func(ctx context.Context, job *store.Job)

// Manager owns the worker pool that claims queued jobs and drives them
// through the Runner. Creation paths persist a queued row and kick the
// manager instead of detaching a goroutine from the request handler, so
// execution survives the creating request and is observable from the store.
type Manager struct {
	store        *store.Store
	runner       *Runner
	logger       *slog.Logger
	pollInterval time.Duration
	errorRetry   time.Duration
	workers      int

	kick chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	hooks   []TerminalHook
}

// NewManager constructs a worker-pool manager.
func NewManager(cfg *config.Config, st *store.Store, runner *Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Workflow.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		store:        st,
		runner:       runner,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workers:      workers,
		kick:         make(chan struct{}, 1),
	}
}

// OnTerminal registers a hook invoked after any job reaches a terminal
// state. Must be called before Start.
func (m *Manager) OnTerminal(hook TerminalHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Start reclaims jobs stranded by an unclean stop and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	reclaimed, err := m.store.ReclaimProcessing(runCtx, store.DaemonStopReason)
	if err != nil {
		m.logger.Warn("reclaim stranded jobs failed; stuck rows may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check job database access"))
	}
	for _, id := range reclaimed {
		m.logger.Info("reclaimed stranded job",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_reclaimed"))
		if job, err := m.store.GetJob(runCtx, id); err == nil {
			m.runHooks(runCtx, job)
		}
	}

	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, i)
	}
	return nil
}

// Stop terminates the workers and waits for in-flight jobs to be abandoned.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Kick wakes the workers without waiting for the next poll tick.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	workerLogger := m.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimQueued(ctx)
		if err != nil {
			workerLogger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"))
			m.waitOrShutdown(ctx, m.errorRetry)
			continue
		}
		if job == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.runner.Execute(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Failure already persisted on the job row; isolation means the
			// worker simply moves on to the next job.
		}
		if final, err := m.store.GetJob(ctx, job.ID); err == nil {
			m.runHooks(ctx, final)
		}
		// Drain any pending kick so a burst of creations doesn't spin.
		select {
		case <-m.kick:
		default:
		}
	}
}

func (m *Manager) runHooks(ctx context.Context, job *store.Job) {
	if !job.Status.IsTerminal() {
		return
	}
	m.mu.Lock()
	hooks := make([]TerminalHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, job)
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	select {
	case <-ctx.Done():
	case <-m.kick:
	case <-time.After(wait):
	}
}

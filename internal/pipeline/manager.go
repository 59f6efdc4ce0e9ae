package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datanerd/internal/config"
	"datanerd/internal/logging"
	"datanerd/internal/types"
)

// RunPersister stores run snapshots. *store.LocalStore satisfies it.
type RunPersister interface {
	SaveRun(run *types.Run) error
	GetRun(runID string) (*types.Run, error)
}

// Manager is the public run API: it starts runs, serves snapshots, fans out
// status events, and cancels in-flight work. One goroutine per active run.
type Manager struct {
	orch    *Orchestrator
	store   RunPersister
	events  *Broadcaster
	timeout time.Duration

	mu   sync.Mutex
	runs map[string]*runHandle
	wg   sync.WaitGroup
}

type runHandle struct {
	snapshot *types.Run
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager wires the orchestrator, persistence, and event fan-out.
// persister may be nil for in-memory operation.
func NewManager(orch *Orchestrator, persister RunPersister, events *Broadcaster, cfg *config.Config) *Manager {
	timeout := 5 * time.Minute
	if cfg != nil {
		if d := cfg.RunTimeoutDuration(); d > 0 {
			timeout = d
		}
	}
	return &Manager{
		orch:    orch,
		store:   persister,
		events:  events,
		timeout: timeout,
		runs:    make(map[string]*runHandle),
	}
}

// StartRun validates the request, registers the run, and launches its
// goroutine. The returned snapshot is safe for the caller to keep.
func (m *Manager) StartRun(ctx context.Context, fileID, question string) (*types.Run, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, types.Validationf("fileID is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, types.Validationf("question is required")
	}

	now := time.Now()
	run := &types.Run{
		ID:           uuid.NewString(),
		FileID:       fileID,
		Question:     question,
		Status:       types.RunRunning,
		CurrentStage: types.StageIngest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	handle := &runHandle{
		snapshot: run.Clone(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[run.ID] = handle
	m.mu.Unlock()
	m.persist(run)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer close(handle.done)

		err := m.orch.Execute(runCtx, run, func(snapshot *types.Run) {
			clone := snapshot.Clone()
			m.mu.Lock()
			handle.snapshot = clone
			m.mu.Unlock()
			m.persist(clone)
		})
		if err != nil {
			logging.Pipeline("[Manager] run=%s finished with error: %v", run.ID, err)
		}
	}()

	logging.Pipeline("[Manager] run=%s started file=%s", run.ID, fileID)
	return run.Clone(), nil
}

// GetRun returns a deep-copied snapshot of the run, falling back to the
// persistent store for runs no longer held in memory.
func (m *Manager) GetRun(runID string) (*types.Run, error) {
	m.mu.Lock()
	handle, ok := m.runs[runID]
	var snap *types.Run
	if ok {
		snap = handle.snapshot.Clone()
	}
	m.mu.Unlock()

	if snap != nil {
		return snap, nil
	}
	if m.store != nil {
		return m.store.GetRun(runID)
	}
	return nil, nil
}

// Subscribe registers a status-event observer for one run; events from
// other runs are filtered out. An empty runID observes every run. The
// returned cancel func must be called when the observer is done.
func (m *Manager) Subscribe(runID string) (<-chan types.StatusEvent, func()) {
	if m.events == nil {
		ch := make(chan types.StatusEvent)
		close(ch)
		return ch, func() {}
	}
	src, cancel := m.events.Subscribe()
	if runID == "" {
		return src, cancel
	}

	out := make(chan types.StatusEvent, m.events.buffer)
	go func() {
		defer close(out)
		for ev := range src {
			if ev.RunID != runID {
				continue
			}
			select {
			case out <- ev:
			default:
				logging.EventsDebug("[Manager] dropped event run=%s stage=%s for slow subscriber", ev.RunID, ev.Stage)
			}
		}
	}()
	return out, cancel
}

// CancelRun requests cancellation of an in-flight run. Already-terminal
// runs are left untouched.
func (m *Manager) CancelRun(runID string) error {
	m.mu.Lock()
	handle, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	handle.cancel()
	return nil
}

// Wait blocks until the given run's goroutine has finished. Used by the
// CLI and tests; returns immediately for unknown runs.
func (m *Manager) Wait(runID string) {
	m.mu.Lock()
	handle, ok := m.runs[runID]
	m.mu.Unlock()
	if ok {
		<-handle.done
	}
}

// Close cancels every in-flight run and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, handle := range m.runs {
		handle.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) persist(run *types.Run) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRun(run); err != nil {
		logging.PipelineError("[Manager] persisting run %s: %v", run.ID, err)
	}
}

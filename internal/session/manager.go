package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/internal/logflags"
	"github.com/ctagard/dbg-mcp/internal/supervisor"
	"github.com/ctagard/dbg-mcp/internal/validate"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// RunRequest describes a new session
type RunRequest struct {
	// SessionID reuses the id of a finished session; empty allocates one
	SessionID  string
	BinaryPath string
	Backend    types.BackendKind
}

// Manager is the process-wide session registry
type Manager struct {
	registry  *adapters.Registry
	validator *validate.Validator
	pool      *supervisor.Pool
	timeouts  Timeouts
	log       *logrus.Entry

	sessionTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	latest   string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new session registry
func NewManager(cfg *config.Config, registry *adapters.Registry) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		registry:  registry,
		validator: validate.New(cfg.Validation.AllowedPaths, cfg.Validation.MaxExpressionLength),
		pool:      supervisor.NewPool(cfg.MaxSessions),
		timeouts: Timeouts{
			Command: cfg.CommandTimeout.D(),
			Startup: cfg.StartupTimeout.D(),
			Hard:    cfg.HardTimeout.D(),
		},
		log:            logflags.SessionLogger(),
		sessionTimeout: cfg.SessionTimeout.D(),
		sessions:       make(map[string]*Session),
		ctx:            ctx,
		cancel:         cancel,
	}

	if m.sessionTimeout > 0 {
		go m.cleanupLoop()
	}

	return m
}

// cleanupLoop periodically ends idle sessions
func (m *Manager) cleanupLoop() {
	interval := time.Minute
	if m.sessionTimeout < 2*interval {
		interval = m.sessionTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

// cleanupExpired terminates and forgets sessions idle for longer than the
// session timeout. Sessions with an operation in flight are left alone.
func (m *Manager) cleanupExpired(now time.Time) {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.op.waiting() > 0 {
			continue
		}
		if now.Sub(s.idleSince()) > m.sessionTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
			if m.latest == id {
				m.latest = ""
			}
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.log.Infof("session idle for more than %s, terminating", m.sessionTimeout)
		s.Terminate()
	}
}

// Run validates the request, spawns the debugger and registers a Loaded
// session. Nothing is registered when any step fails.
func (m *Manager) Run(ctx context.Context, req RunRequest) (*Session, error) {
	if req.SessionID != "" {
		if err := m.checkReusable(req.SessionID); err != nil {
			return nil, err
		}
	}

	binary, err := m.validator.BinaryPath(req.BinaryPath)
	if err != nil {
		return nil, err
	}

	adapter, err := m.registry.Get(req.Backend)
	if err != nil {
		var names []string
		for _, k := range m.registry.Kinds() {
			names = append(names, string(k))
		}
		return nil, errors.InvalidParameter("backend", req.Backend, "one of: "+strings.Join(names, ", "))
	}

	release, err := m.pool.Acquire()
	if err != nil {
		return nil, err
	}

	id := req.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	s := newSession(id, adapter, binary, m.validator, m.timeouts, release)
	if err := s.start(ctx); err != nil {
		s.shutdown()
		s.log.Warnf("failed to start session: %v", err)
		return nil, err
	}

	m.mu.Lock()
	if old, ok := m.sessions[id]; ok && !old.currentState().IsTerminal() {
		m.mu.Unlock()
		s.shutdown()
		return nil, errors.InvalidTransition(id, "debug_run", old.currentState(), "Use debug_terminate first, or omit session_id to start another session.")
	}
	m.sessions[id] = s
	m.latest = id
	m.mu.Unlock()

	s.touch()
	return s, nil
}

func (m *Manager) checkReusable(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		if state := s.currentState(); !state.IsTerminal() {
			return errors.InvalidTransition(id, "debug_run", state, "Use debug_terminate first, or omit session_id to start another session.")
		}
	}
	return nil
}

// Get returns a session by id; an empty id selects the most recent session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id == "" {
		id = m.latest
		if id == "" {
			return nil, errors.SessionNotFound("")
		}
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return s, nil
}

// List returns all sessions, oldest first
func (m *Manager) List() []types.SessionInfo {
	m.mu.RLock()
	infos := make([]types.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Terminate ends a session; it stays registered in the Terminated state
func (m *Manager) Terminate(id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.Terminate()
	return s, nil
}

// Live returns the number of debugger subprocesses in use
func (m *Manager) Live() int {
	return m.pool.InUse()
}

// Close stops the cleanup loop and terminates every session
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Terminate()
		}(s)
	}
	wg.Wait()
	m.log.Infof("terminated %d session(s)", len(sessions))
}

// File: internal/registry/registry.go
// Description: Owns the set of active browser sessions a poll flow spawns.
// Classifies new sessions by role, tracks parent/child and synchronization
// groups, enforces resource limits, and answers the orchestrator's "which
// session should I act on" queries. New-target driver callbacks never mutate
// state directly; they enqueue onto a bounded channel drained by a single
// owner goroutine.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
)

// Registry tracks every session of one poll flow. Exactly one session has
// role main per instance; it is created at initialization and never
// auto-closed.
type Registry struct {
	mu sync.Mutex

	cfg        config.RegistryConfig
	logger     *zap.Logger
	classifier *Classifier

	sessions map[string]*Session
	order    []string // registration order
	groups   map[string]*SessionGroup
	main     *Session
	current  *Session
	flow     schemas.FlowState
	seq      uint64

	events    chan schemas.NewTargetEvent
	stopOnce  sync.Once
	stopCh    chan struct{}
	drainedWG sync.WaitGroup

	now func() time.Time
}

// New creates a registry seeded with the main session wrapping the given
// driver.
func New(cfg config.RegistryConfig, logger *zap.Logger, mainDriver schemas.Driver) *Registry {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	r := &Registry{
		cfg:        cfg,
		logger:     logger.Named("registry"),
		classifier: NewClassifier(logger),
		sessions:   make(map[string]*Session),
		groups:     make(map[string]*SessionGroup),
		events:     make(chan schemas.NewTargetEvent, cfg.EventBuffer),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}

	main := &Session{
		ID:           uuid.New().String(),
		Role:         schemas.RoleMain,
		Status:       schemas.StatusActive,
		CreatedAt:    r.now(),
		LastActiveAt: r.now(),
		Driver:       mainDriver,
		Confidence:   1.0,
		seq:          r.seq,
	}
	r.seq++
	r.sessions[main.ID] = main
	r.order = append(r.order, main.ID)
	r.main = main
	r.current = main
	r.updateFlowStateLocked()

	return r
}

// Start launches the owner loop that drains asynchronous new-target events
// and the periodic idle-cleanup tick. Both stop when ctx is done or Stop is
// called.
func (r *Registry) Start(ctx context.Context) {
	r.drainedWG.Add(1)
	go func() {
		defer r.drainedWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case evt := <-r.events:
				r.Register(ctx, evt.Driver, evt.URL)
			}
		}
	}()

	if r.cfg.CleanupInterval > 0 {
		r.drainedWG.Add(1)
		go func() {
			defer r.drainedWG.Done()
			ticker := time.NewTicker(r.cfg.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.stopCh:
					return
				case <-ticker.C:
					r.Cleanup(ctx, r.cfg.IdleThreshold, r.cfg.MaxSessions)
				}
			}
		}()
	}
}

// Stop halts the owner loop and janitor.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.drainedWG.Wait()
}

// Notify enqueues a new-target event without blocking; when the buffer is
// full the event is dropped and the tab will be picked up by a later
// WaitForCount poll or left untracked.
func (r *Registry) Notify(evt schemas.NewTargetEvent) {
	select {
	case r.events <- evt:
	default:
		r.logger.Warn("New-target event buffer full, dropping event",
			zap.String("url", evt.URL))
	}
}

// Register tracks a new session. It never fails: classification errors
// downgrade to auxiliary/low-confidence. Content inspection happens outside
// the lock; only the final mutation takes it.
func (r *Registry) Register(ctx context.Context, drv schemas.Driver, originHint string) *Session {
	cls := r.classifier.Classify(ctx, drv, originHint)

	s := &Session{
		ID:           uuid.New().String(),
		Role:         cls.Role,
		Status:       schemas.StatusActive,
		CreatedAt:    r.now(),
		LastActiveAt: r.now(),
		IsPollPage:   cls.IsPollPage,
		IsBlocking:   cls.IsBlocking,
		Driver:       drv,
		Confidence:   cls.Confidence,
	}
	if cls.URL != "" {
		s.Metadata.History = append(s.Metadata.History, cls.URL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.seq = r.seq
	r.seq++
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.establishRelationshipLocked(s)
	r.updateFlowStateLocked()

	r.logger.Info("Session registered",
		zap.String("session_id", s.ID),
		zap.String("role", string(s.Role)),
		zap.Bool("poll_page", s.IsPollPage),
		zap.Float64("confidence", s.Confidence))
	return s
}

// establishRelationshipLocked assigns the parent (the most-recently-active
// other live session, earlier registration winning ties) and joins the sync
// group the role implies.
func (r *Registry) establishRelationshipLocked(s *Session) {
	var parent *Session
	for _, id := range r.order {
		candidate := r.sessions[id]
		if candidate == nil || candidate == s || !candidate.live() {
			continue
		}
		if parent == nil || candidate.LastActiveAt.After(parent.LastActiveAt) {
			parent = candidate
		}
	}
	if parent != nil {
		s.Parent = parent
		parent.Children = append(parent.Children, s.ID)
	}

	var groupName string
	switch s.Role {
	case schemas.RolePoll:
		groupName = schemas.GroupPollFlow
	case schemas.RoleVerification:
		groupName = schemas.GroupVerificationFlow
	}
	if groupName != "" {
		r.addToGroupLocked(groupName, s)
	}
}

// updateFlowStateLocked recomputes the derived FlowState. Called after every
// mutation.
func (r *Registry) updateFlowStateLocked() {
	var active, completed int
	for _, s := range r.sessions {
		switch bucket(s.Status) {
		case schemas.StatusActive:
			active++
		case schemas.StatusCompleted:
			completed++
		}
	}
	total := len(r.sessions)

	phase := schemas.PhaseInitial
	switch {
	case total == 1:
		phase = schemas.PhaseInitial
	case active > 1:
		phase = schemas.PhaseMultiSession
	case completed > 0 && active == 1:
		phase = schemas.PhaseConsolidation
	}

	r.flow = schemas.FlowState{
		Total:     total,
		Active:    active,
		Completed: completed,
		Phase:     phase,
	}
}

// FlowState returns the current derived aggregate.
func (r *Registry) FlowState() schemas.FlowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow
}

// Main returns the main session.
func (r *Registry) Main() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.main
}

// Current returns the session most recently switched to.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Count returns the number of tracked (including closed) sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// LiveCount returns the number of non-closed sessions.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveCountLocked()
}

func (r *Registry) liveCountLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.live() {
			n++
		}
	}
	return n
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns all tracked sessions in registration order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// WaitForCount polls until the registry tracks at least expected live
// sessions or the timeout elapses. Timing out returns false, never an error;
// the caller decides whether to proceed with fewer sessions.
func (r *Registry) WaitForCount(ctx context.Context, expected int, timeout time.Duration) bool {
	deadline := r.now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.LiveCount() >= expected {
			return true
		}
		if r.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return r.LiveCount() >= expected
		case <-ticker.C:
		}
	}
}

// SwitchTo makes the session current, marks it active, and asks its driver
// for focus.
func (r *Registry) SwitchTo(ctx context.Context, s *Session) error {
	r.mu.Lock()
	s.Status = schemas.StatusActive
	s.LastActiveAt = r.now()
	r.current = s
	r.updateFlowStateLocked()
	drv := s.Driver
	r.mu.Unlock()

	if drv != nil {
		if err := drv.Focus(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus transitions a session's status and recomputes the flow state.
func (r *Registry) SetStatus(s *Session, status schemas.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Status = status
	s.LastActiveAt = r.now()
	r.updateFlowStateLocked()
}

// Touch refreshes a session's activity timestamp.
func (r *Registry) Touch(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.LastActiveAt = r.now()
}

// RecordError appends to a session's error log.
func (r *Registry) RecordError(s *Session, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Metadata.Errors = append(s.Metadata.Errors, msg)
}

// RecordNavigation appends to a session's navigation history.
func (r *Registry) RecordNavigation(s *Session, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Metadata.History = append(s.Metadata.History, url)
	s.Metadata.Interactions++
	s.LastActiveAt = r.now()
}

// MostRelevantSession prefers the most-recently-active active poll page,
// falls back to the most-recently-active active session of any role, and
// finally to main.
func (r *Registry) MostRelevantSession() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	pick := func(filter func(*Session) bool) *Session {
		var best *Session
		for _, id := range r.order {
			s := r.sessions[id]
			if s == nil || !filter(s) {
				continue
			}
			if best == nil || s.LastActiveAt.After(best.LastActiveAt) {
				best = s
			}
		}
		return best
	}

	if s := pick(func(s *Session) bool {
		return s.IsPollPage && s.Status == schemas.StatusActive
	}); s != nil {
		return s
	}
	if s := pick(func(s *Session) bool {
		return s.Status == schemas.StatusActive
	}); s != nil {
		return s
	}
	return r.main
}

// Cleanup closes sessions idle longer than idleThreshold, excluding main and
// current. If the live count still exceeds maxSessions, it closes the
// oldest-idle excess sessions (again excluding main/current) until at or
// below the cap. Never raises; the limit being exceeded triggers eviction,
// not an error.
func (r *Registry) Cleanup(ctx context.Context, idleThreshold time.Duration, maxSessions int) {
	now := r.now()

	r.mu.Lock()
	var idle []*Session
	for _, id := range r.order {
		s := r.sessions[id]
		if s == nil || !s.live() || r.protectedLocked(s) {
			continue
		}
		if idleThreshold > 0 && now.Sub(s.LastActiveAt) > idleThreshold {
			idle = append(idle, s)
		}
	}
	closed := make([]*Session, 0, len(idle))
	for _, s := range idle {
		r.closeLocked(s)
		closed = append(closed, s)
	}

	if maxSessions > 0 {
		var evictable []*Session
		for _, id := range r.order {
			s := r.sessions[id]
			if s == nil || !s.live() || r.protectedLocked(s) {
				continue
			}
			evictable = append(evictable, s)
		}
		// Oldest idle first.
		sort.SliceStable(evictable, func(a, b int) bool {
			return evictable[a].LastActiveAt.Before(evictable[b].LastActiveAt)
		})
		for _, s := range evictable {
			if r.liveCountLocked() <= maxSessions {
				break
			}
			r.closeLocked(s)
			closed = append(closed, s)
		}
	}
	r.updateFlowStateLocked()
	r.mu.Unlock()

	// Driver teardown happens outside the lock.
	for _, s := range closed {
		r.closeDriver(ctx, s)
	}
}

// protectedLocked reports whether cleanup must never select this session.
func (r *Registry) protectedLocked(s *Session) bool {
	return s == r.main || s == r.current
}

// closeLocked transitions a session to closed and severs parent links on its
// children. The driver is shut down by the caller outside the lock.
func (r *Registry) closeLocked(s *Session) {
	if !s.live() {
		return
	}
	s.Status = schemas.StatusClosed
	for _, childID := range s.Children {
		if child := r.sessions[childID]; child != nil && child.Parent == s {
			child.Parent = nil
		}
	}
	r.logger.Debug("Session closed",
		zap.String("session_id", s.ID),
		zap.String("role", string(s.Role)))
}

func (r *Registry) closeDriver(ctx context.Context, s *Session) {
	if s.Driver == nil {
		return
	}
	if err := s.Driver.Close(ctx); err != nil {
		r.logger.Debug("Driver close failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// Close closes a single session (main is refused).
func (r *Registry) Close(ctx context.Context, s *Session) {
	r.mu.Lock()
	if s == r.main {
		r.mu.Unlock()
		return
	}
	r.closeLocked(s)
	if r.current == s {
		r.current = r.main
	}
	r.updateFlowStateLocked()
	r.mu.Unlock()

	r.closeDriver(ctx, s)
}

// CloseAllExceptMain is the hard reset: every non-main session closes, all
// groups clear, and the flow state returns to INITIAL.
func (r *Registry) CloseAllExceptMain(ctx context.Context) {
	r.mu.Lock()
	var closed []*Session
	for _, id := range r.order {
		s := r.sessions[id]
		if s == nil || s == r.main || !s.live() {
			continue
		}
		r.closeLocked(s)
		closed = append(closed, s)
	}
	r.groups = make(map[string]*SessionGroup)
	r.current = r.main
	r.updateFlowStateLocked()
	r.mu.Unlock()

	for _, s := range closed {
		r.closeDriver(ctx, s)
	}
}

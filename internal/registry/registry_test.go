package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
	"github.com/xkilldash9x/pollflow-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.RegistryConfig {
	return config.RegistryConfig{
		MaxSessions:   8,
		IdleThreshold: 5 * time.Minute,
		// No janitor ticker in tests; Cleanup is driven explicitly.
		CleanupInterval: 0,
		EventBuffer:     16,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(testConfig(), zaptest.NewLogger(t), newFakeDriver("https://example.com", "Home", "<html></html>"))
}

func TestNewSeedsMainSession(t *testing.T) {
	r := newTestRegistry(t)

	main := r.Main()
	require.NotNil(t, main)
	assert.Equal(t, schemas.RoleMain, main.Role)
	assert.Equal(t, schemas.StatusActive, main.Status)
	assert.Equal(t, 1.0, main.Confidence)
	assert.Same(t, main, r.Current())

	flow := r.FlowState()
	assert.Equal(t, 1, flow.Total)
	assert.Equal(t, 1, flow.Active)
	assert.Equal(t, schemas.PhaseInitial, flow.Phase)
}

func TestRegisterClassifiesAndLinksParent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	poll := r.Register(ctx, newFakeDriver("https://example.com/poll/123", "Quick Poll", ""), "")
	assert.Equal(t, schemas.RolePoll, poll.Role)
	assert.True(t, poll.IsPollPage)
	assert.True(t, poll.IsBlocking)
	assert.InDelta(t, 0.9, poll.Confidence, 0.001)
	require.NotNil(t, poll.Parent)
	assert.Same(t, r.Main(), poll.Parent)
	assert.Contains(t, r.Main().Children, poll.ID)

	flow := r.FlowState()
	assert.Equal(t, 2, flow.Total)
	assert.Equal(t, 2, flow.Active)
	assert.Equal(t, schemas.PhaseMultiSession, flow.Phase)
}

func TestRegisterDriverFailureDowngradesToAuxiliary(t *testing.T) {
	r := newTestRegistry(t)
	drv := newFakeDriver("", "", "")
	drv.pageErr = assert.AnError

	s := r.Register(context.Background(), drv, "https://example.com/opaque")
	assert.Equal(t, schemas.RoleAuxiliary, s.Role)
	assert.InDelta(t, 0.3, s.Confidence, 0.001)
	assert.False(t, s.IsBlocking)
}

func TestClassificationIsDeterministic(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))
	drv := newFakeDriver("https://example.com/page", "Untitled",
		`<html><body>
			<form><input type="radio" name="q1"><input type="radio" name="q1">
			<button type="submit">Go</button></form>
		</body></html>`)

	first := c.Classify(context.Background(), drv, "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(context.Background(), drv, ""))
	}
	assert.Equal(t, schemas.RolePoll, first.Role)
	assert.InDelta(t, 0.7, first.Confidence, 0.001)
}

func TestClassifyContentOverrides(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		source string
		role   schemas.SessionRole
	}{
		{
			name: "error markup beats poll score",
			source: `<html><body>
				<div class="alert-danger">Access denied</div>
				<form><input type="radio" name="q"><button type="submit">Go</button></form>
			</body></html>`,
			role: schemas.RoleError,
		},
		{
			name: "completion markup with keywords",
			source: `<html><body>
				<div class="thank">Thank you for participating!</div>
			</body></html>`,
			role: schemas.RoleCompletion,
		},
		{
			name:   "completion markup without keywords stays auxiliary",
			source: `<html><body><div class="success">42</div></body></html>`,
			role:   schemas.RoleAuxiliary,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := c.Classify(ctx, newFakeDriver("https://example.com/x", "x", tt.source), "")
			assert.Equal(t, tt.role, cls.Role)
		})
	}
}

func TestAccountingInvariantHolds(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	a := r.Register(ctx, newFakeDriver("https://example.com/poll/a", "", ""), "")
	b := r.Register(ctx, newFakeDriver("https://example.com/poll/b", "", ""), "")
	c := r.Register(ctx, newFakeDriver("https://example.com/aux", "", "<html></html>"), "")

	r.SetStatus(a, schemas.StatusCompleted)
	r.Close(ctx, b)
	r.SetStatus(c, schemas.StatusWaiting) // waiting buckets as active

	flow := r.FlowState()
	assert.Equal(t, 4, flow.Total)
	assert.Equal(t, 2, flow.Active)
	assert.Equal(t, 1, flow.Completed)
	assert.Equal(t, flow.Total, flow.Active+flow.Completed+1)
}

func TestFlowPhaseTransitions(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	assert.Equal(t, schemas.PhaseInitial, r.FlowState().Phase)

	s := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")
	assert.Equal(t, schemas.PhaseMultiSession, r.FlowState().Phase)

	r.SetStatus(s, schemas.StatusCompleted)
	assert.Equal(t, schemas.PhaseConsolidation, r.FlowState().Phase)
}

func TestCleanupIdleThreshold(t *testing.T) {
	tests := []struct {
		name        string
		idleFor     time.Duration
		wantsClosed bool
	}{
		{"idle past threshold", 6 * time.Minute, true},
		{"active within threshold", 1 * time.Minute, false},
		{"exactly at threshold", 5 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			base := time.Now()
			r.now = func() time.Time { return base }

			drv := newFakeDriver("https://example.com/poll/x", "", "")
			s := r.Register(context.Background(), drv, "")

			r.now = func() time.Time { return base.Add(tt.idleFor) }
			r.Cleanup(context.Background(), 5*time.Minute, 0)

			if tt.wantsClosed {
				assert.Equal(t, schemas.StatusClosed, s.Status)
				assert.True(t, drv.isClosed())
			} else {
				assert.Equal(t, schemas.StatusActive, s.Status)
				assert.False(t, drv.isClosed())
			}
		})
	}
}

func TestCleanupEnforcesSessionCap(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	base := time.Now()
	r.now = func() time.Time { return base }

	var drivers []*fakeDriver
	for i := 0; i < 3; i++ {
		base = base.Add(time.Second)
		drv := newFakeDriver("https://example.com/poll/n", "", "")
		drivers = append(drivers, drv)
		r.Register(ctx, drv, "")
	}
	require.Equal(t, 4, r.LiveCount()) // main + 3

	r.Cleanup(ctx, 0, 3)

	assert.Equal(t, 3, r.LiveCount())
	// Oldest-idle non-protected session is the one evicted.
	assert.True(t, drivers[0].isClosed())
	assert.False(t, drivers[1].isClosed())
	assert.False(t, drivers[2].isClosed())
	assert.Equal(t, schemas.StatusActive, r.Main().Status)
}

func TestCleanupNeverTouchesMainOrCurrent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	base := time.Now()
	r.now = func() time.Time { return base }

	s := r.Register(ctx, newFakeDriver("https://example.com/poll/s", "", ""), "")
	require.NoError(t, r.SwitchTo(ctx, s))

	r.now = func() time.Time { return base.Add(time.Hour) }
	r.Cleanup(ctx, time.Minute, 1)

	assert.Equal(t, schemas.StatusActive, r.Main().Status)
	assert.Equal(t, schemas.StatusActive, s.Status)
}

func TestMostRelevantSessionPreference(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	base := time.Now()
	r.now = func() time.Time { return base }

	aux := r.Register(ctx, newFakeDriver("https://example.com/other", "", "<html></html>"), "")
	base = base.Add(time.Second)
	poll := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")

	assert.Same(t, poll, r.MostRelevantSession())

	// Completed poll page no longer preferred; falls back to active any-role.
	r.SetStatus(poll, schemas.StatusCompleted)
	got := r.MostRelevantSession()
	assert.True(t, got == aux || got == r.Main())

	// Everything non-main closed: main is the floor.
	r.CloseAllExceptMain(ctx)
	assert.Same(t, r.Main(), r.MostRelevantSession())
}

func TestNotifyRegistersThroughOwnerLoop(t *testing.T) {
	r := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Notify(schemas.NewTargetEvent{
		URL:       "https://example.com/poll/popup",
		Driver:    newFakeDriver("https://example.com/poll/popup", "", ""),
		Timestamp: time.Now(),
	})

	assert.True(t, r.WaitForCount(ctx, 2, 2*time.Second))
	assert.Equal(t, 2, r.LiveCount())
}

func TestWaitForCountTimesOutFalse(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.WaitForCount(context.Background(), 5, 300*time.Millisecond))
}

func TestNotifyDropsWhenBufferFull(t *testing.T) {
	cfg := testConfig()
	cfg.EventBuffer = 1
	r := New(cfg, zaptest.NewLogger(t), newFakeDriver("https://example.com", "", ""))

	// Owner loop not started: the second event must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.Notify(schemas.NewTargetEvent{URL: "https://example.com/x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full event buffer")
	}
}

func TestCloseAllExceptMainResetsFlow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	s1 := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")
	s2 := r.Register(ctx, newFakeDriver("https://example.com/verify", "", ""), "")
	require.NoError(t, r.SwitchTo(ctx, s2))

	r.CloseAllExceptMain(ctx)

	assert.Equal(t, schemas.StatusClosed, s1.Status)
	assert.Equal(t, schemas.StatusClosed, s2.Status)
	assert.Same(t, r.Main(), r.Current())
	assert.Equal(t, schemas.PhaseInitial, r.FlowState().Phase)
	assert.Empty(t, r.Group(schemas.GroupPollFlow))
}

func TestCloseRefusesMain(t *testing.T) {
	r := newTestRegistry(t)
	r.Close(context.Background(), r.Main())
	assert.Equal(t, schemas.StatusActive, r.Main().Status)
}

func TestSynchronizeGroupReportsPerMember(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p1 := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")
	p2 := r.Register(ctx, newFakeDriver("https://example.com/poll/2", "", ""), "")

	results := r.SynchronizeGroup(ctx, schemas.GroupPollFlow, time.Second)
	require.Len(t, results, 2)
	assert.True(t, results[p1.ID])
	assert.True(t, results[p2.ID])
}

func TestDispatchParallelSequentialFallback(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	s1 := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")
	s2 := r.Register(ctx, newFakeDriver("https://example.com/poll/2", "", ""), "")

	var order []string
	results := r.DispatchParallel(ctx, []string{s1.ID, s2.ID}, func(ctx context.Context, s *Session) error {
		order = append(order, s.ID)
		return nil
	})

	require.Len(t, results, 2)
	assert.Equal(t, []string{s1.ID, s2.ID}, order)
	assert.Equal(t, schemas.StatusCompleted, s1.Status)
	assert.Equal(t, schemas.StatusCompleted, s2.Status)
}

func TestDispatchParallelIsolatesPanics(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelEnabled = true
	r := New(cfg, zaptest.NewLogger(t), newFakeDriver("https://example.com", "", ""))
	ctx := context.Background()

	s1 := r.Register(ctx, newFakeDriver("https://example.com/poll/1", "", ""), "")
	s2 := r.Register(ctx, newFakeDriver("https://example.com/poll/2", "", ""), "")

	results := r.DispatchParallel(ctx, []string{s1.ID, s2.ID}, func(ctx context.Context, s *Session) error {
		if s == s1 {
			panic("boom")
		}
		return nil
	})

	require.Len(t, results, 2)
	var failed, succeeded int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, schemas.StatusError, s1.Status)
	assert.Equal(t, schemas.StatusCompleted, s2.Status)
}

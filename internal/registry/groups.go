// File: internal/registry/groups.go
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

func (r *Registry) addToGroupLocked(name string, s *Session) {
	group := r.groups[name]
	if group == nil {
		group = &SessionGroup{Name: name}
		r.groups[name] = group
	}
	group.add(s.ID)
	s.SyncGroup = name
}

// Group returns the member ids of a sync group.
func (r *Registry) Group(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	group := r.groups[name]
	if group == nil {
		return nil
	}
	return append([]string(nil), group.Members...)
}

// ConsumeGroup marks a group consumed; later additions are ignored.
func (r *Registry) ConsumeGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if group := r.groups[name]; group != nil {
		group.consumed = true
	}
}

// SynchronizeGroup waits for every member of the named group to reach
// readiness, racing "network idle" against "content loaded" per member. Each
// member is individually bounded by perSessionTimeout, so one slow member
// never stalls the others. The returned map reports per-member readiness; a
// timed-out member is false, not an error.
func (r *Registry) SynchronizeGroup(ctx context.Context, name string, perSessionTimeout time.Duration) map[string]bool {
	memberIDs := r.Group(name)
	results := make(map[string]bool, len(memberIDs))
	if len(memberIDs) == 0 {
		return results
	}

	type outcome struct {
		id    string
		ready bool
	}
	outcomes := make(chan outcome, len(memberIDs))

	g, groupCtx := errgroup.WithContext(ctx)
	for _, id := range memberIDs {
		s, ok := r.Get(id)
		if !ok || !s.live() || s.Driver == nil {
			outcomes <- outcome{id: id, ready: false}
			continue
		}
		g.Go(func() error {
			memberCtx, cancel := context.WithTimeout(groupCtx, perSessionTimeout)
			defer cancel()

			ready := raceReadiness(memberCtx, s.Driver, perSessionTimeout)
			if !ready {
				r.logger.Debug("Sync group member timed out",
					zap.String("group", name),
					zap.String("session_id", s.ID))
			}
			outcomes <- outcome{id: s.ID, ready: ready}
			return nil
		})
	}
	g.Wait() // member errors never propagate; readiness is reported per member
	close(outcomes)

	for o := range outcomes {
		results[o.id] = o.ready
	}
	return results
}

// raceReadiness resolves as soon as either load signal fires.
func raceReadiness(ctx context.Context, drv schemas.Driver, timeout time.Duration) bool {
	done := make(chan bool, 2)
	for _, kind := range []schemas.LoadKind{schemas.LoadNetworkIdle, schemas.LoadContentLoaded} {
		go func() {
			err := drv.WaitForLoad(ctx, kind, timeout)
			done <- err == nil
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			if ok {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}

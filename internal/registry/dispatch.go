// File: internal/registry/dispatch.go
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/pollflow-cli/api/schemas"
)

// SessionWork is the per-session unit executed by DispatchParallel.
type SessionWork func(ctx context.Context, s *Session) error

// DispatchResult is one session's outcome from a dispatch batch.
type DispatchResult struct {
	SessionID string
	Err       error
}

// DispatchParallel runs work over the given sessions. With parallel
// processing enabled this is a bounded fan-out (at most MaxSessions in
// flight) with settle-all fan-in: one session's failure never aborts the
// batch. When disabled, sessions are processed sequentially in registration
// order. Results preserve the input order.
func (r *Registry) DispatchParallel(ctx context.Context, ids []string, work SessionWork) []DispatchResult {
	results := make([]DispatchResult, len(ids))

	if !r.cfg.ParallelEnabled {
		for i, id := range ids {
			results[i] = r.runOne(ctx, id, work)
		}
		return results
	}

	limit := int64(r.cfg.MaxSessions)
	if limit <= 0 {
		limit = int64(len(ids))
	}
	sem := semaphore.NewWeighted(limit)
	var wg sync.WaitGroup

	for i, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = DispatchResult{SessionID: id, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.runOne(ctx, id, work)
		}()
	}
	wg.Wait()
	return results
}

// runOne executes the work for one session, converting panics and unknown
// ids into per-session failures.
func (r *Registry) runOne(ctx context.Context, id string, work SessionWork) (res DispatchResult) {
	res = DispatchResult{SessionID: id}

	s, ok := r.Get(id)
	if !ok {
		res.Err = fmt.Errorf("unknown session '%s'", id)
		return res
	}
	if !s.live() {
		res.Err = fmt.Errorf("session '%s' is closed", id)
		return res
	}

	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("session work panicked: %v", rec)
			r.RecordError(s, res.Err.Error())
		}
	}()

	r.SetStatus(s, schemas.StatusProcessing)
	if err := work(ctx, s); err != nil {
		res.Err = err
		r.RecordError(s, err.Error())
		r.SetStatus(s, schemas.StatusError)
		return res
	}
	r.SetStatus(s, schemas.StatusCompleted)
	return res
}

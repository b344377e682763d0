/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package poll

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/logging"
	"github.com/suparena/plmconnector/session"
)

// ErrStillPending is returned by Await when the poll budget runs out before the
// operation leaves the pending state.
var ErrStillPending = stderrors.New("operation still pending")

// Entry describes a tracked operation.
type Entry struct {
	Handle  connectormodels.PollHandle
	Key     session.Key
	Op      string
	Started time.Time
	Status  connectormodels.OperationStatus
}

// ResolveFunc receives the final status of every tracked mutating operation, for
// example session.Guard.Resolve.
type ResolveFunc func(ctx context.Context, key session.Key, handle connectormodels.PollHandle, status connectormodels.OperationStatus) error

// Policy bounds status polling.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxAttempts caps the number of PollStatus calls; 0 polls until ctx ends.
	MaxAttempts int
}

// DefaultPolicy polls after 200ms, backing off to 5s, at most 30 times.
var DefaultPolicy = Policy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxAttempts:     30,
}

type tracked struct {
	Entry
	done chan struct{}
	// deliver serializes resolver calls for the entry
	deliver sync.Mutex
}

// Tracker records operations a datasource completes out of band and delivers their
// final status exactly once, whether it is pushed through Resolve or pulled by Await.
// An operation stays tracked until the resolver accepts its final status, so a
// rejected status can be delivered again.
type Tracker struct {
	mu       sync.Mutex
	entries  map[connectormodels.PollHandle]*tracked
	policy   Policy
	newTimer func() backoff.Timer
	resolver ResolveFunc
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPolicy sets the polling policy.
func WithPolicy(p Policy) Option {
	return func(t *Tracker) { t.policy = p }
}

// WithTimer replaces the timer used between polls.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(t *Tracker) { t.newTimer = newTimer }
}

// WithResolver registers fn to receive the final status of save and saveAndDone
// operations. Reads end tracking without calling fn.
func WithResolver(fn ResolveFunc) Option {
	return func(t *Tracker) { t.resolver = fn }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logging.Component(logger, "poll-tracker") }
}

// WithClock sets the time source for Entry.Started.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[connectormodels.PollHandle]*tracked),
		policy:  DefaultPolicy,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track starts tracking handle for the operation op on key.
func (t *Tracker) Track(key session.Key, op string, handle connectormodels.PollHandle) error {
	if handle == "" {
		return errors.NewValidationError("handle", "poll handle is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[handle]; exists {
		return errors.NewAlreadyExistsError("Operation", string(handle))
	}
	t.entries[handle] = &tracked{
		Entry: Entry{
			Handle:  handle,
			Key:     key,
			Op:      op,
			Started: t.now(),
			Status:  connectormodels.OperationStatus{State: connectormodels.OperationPending},
		},
		done: make(chan struct{}),
	}
	t.logger.Debug("tracking operation",
		zap.String("handle", string(handle)),
		zap.String("session", key.String()),
		zap.String("op", op),
	)
	return nil
}

// Resolve delivers a status update for handle. Pending updates are ignored. The first
// final status the resolver accepts ends tracking; later ones are dropped.
func (t *Tracker) Resolve(ctx context.Context, handle connectormodels.PollHandle, status connectormodels.OperationStatus) error {
	if !status.Done() {
		return nil
	}

	t.mu.Lock()
	entry, exists := t.entries[handle]
	t.mu.Unlock()
	if !exists {
		return errors.NewNotFoundError("Operation", string(handle))
	}
	return t.finish(ctx, entry, status)
}

func (t *Tracker) finish(ctx context.Context, entry *tracked, status connectormodels.OperationStatus) error {
	handle := entry.Handle

	entry.deliver.Lock()
	defer entry.deliver.Unlock()

	t.mu.Lock()
	finished := entry.Status.Done()
	t.mu.Unlock()
	if finished {
		return nil
	}

	if t.resolver != nil && connector.IsMutating(entry.Op) {
		if err := t.resolver(ctx, entry.Key, handle, status); err != nil {
			t.logger.Warn("operation status rejected",
				zap.String("handle", string(handle)),
				zap.String("session", entry.Key.String()),
				zap.String("state", string(status.State)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to apply status of %s: %w", handle, err)
		}
	}

	t.mu.Lock()
	entry.Status = status
	delete(t.entries, handle)
	close(entry.done)
	t.mu.Unlock()

	t.logger.Info("operation resolved",
		zap.String("handle", string(handle)),
		zap.String("session", entry.Key.String()),
		zap.String("state", string(status.State)),
		zap.Duration("elapsed", t.now().Sub(entry.Started)),
	)
	return nil
}

// Await blocks until handle reaches a final status. When poller is not nil it is asked
// for the status with exponential backoff; otherwise Await waits for Resolve.
func (t *Tracker) Await(ctx context.Context, rc *connectormodels.RequestContext, handle connectormodels.PollHandle, poller connector.StatusPoller) (connectormodels.OperationStatus, error) {
	t.mu.Lock()
	entry, exists := t.entries[handle]
	t.mu.Unlock()
	if !exists {
		return connectormodels.OperationStatus{}, errors.NewNotFoundError("Operation", string(handle))
	}

	if poller == nil {
		select {
		case <-entry.done:
			return entry.Status, nil
		case <-ctx.Done():
			return connectormodels.OperationStatus{State: connectormodels.OperationPending}, ctx.Err()
		}
	}

	attempts := 0
	var final connectormodels.OperationStatus
	operation := func() error {
		select {
		case <-entry.done:
			return nil
		default:
		}

		attempts++
		status, err := poller.PollStatus(ctx, rc, handle)
		if err != nil {
			if errors.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if !status.Done() {
			return ErrStillPending
		}
		final = status
		if err := t.finish(ctx, entry, status); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Debug("operation not finished",
			zap.String("handle", string(handle)),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	var timer backoff.Timer
	if t.newTimer != nil {
		timer = t.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(operation, t.backOff(ctx), notify, timer); err != nil {
		if final.Done() {
			// the resolver rejected the final status; the entry stays tracked
			return final, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return connectormodels.OperationStatus{State: connectormodels.OperationPending}, ctxErr
		}
		if stderrors.Is(err, ErrStillPending) {
			return connectormodels.OperationStatus{State: connectormodels.OperationPending}, fmt.Errorf("%w after %d polls", ErrStillPending, attempts)
		}
		return connectormodels.OperationStatus{}, err
	}
	return entry.Status, nil
}

func (t *Tracker) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if t.policy.InitialInterval > 0 {
		exp.InitialInterval = t.policy.InitialInterval
	}
	if t.policy.MaxInterval > 0 {
		exp.MaxInterval = t.policy.MaxInterval
	}
	// the attempt budget and ctx bound polling, not wall time
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if t.policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(t.policy.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Get returns the entry tracked under handle.
func (t *Tracker) Get(handle connectormodels.PollHandle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[handle]
	if !ok {
		return Entry{}, false
	}
	return entry.Entry, true
}

// Pending lists the outstanding operations, oldest first.
func (t *Tracker) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// Len returns the number of outstanding operations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/logging"
)

var (
	_ connector.V2           = (*Guard)(nil)
	_ connector.StatusPoller = (*Guard)(nil)
)

// Guard wraps a V2 connector and enforces the open/save/discard protocol on the host
// side. Sessions are tracked per workspace and object revision, and at most one
// mutating call may be in flight for a session at any time.
type Guard struct {
	next     connector.V2
	store    Store
	inflight cmap.ConcurrentMap[string, Operation]
	logger   *zap.Logger
	now      func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the guard's logger.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) { g.logger = logging.Component(logger, "session-guard") }
}

// WithClock sets the time source for session timestamps.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard wraps next. Sessions are persisted in store.
func NewGuard(next connector.V2, store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		next:     next,
		store:    store,
		inflight: cmap.New[Operation](),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Unwrap returns the wrapped connector.
func (g *Guard) Unwrap() connector.V2 {
	return g.next
}

// Session returns the current record for key, or nil.
func (g *Guard) Session(ctx context.Context, key Key) (*Record, error) {
	return g.store.Get(ctx, key)
}

// InFlight reports how many mutating calls are currently executing.
func (g *Guard) InFlight() int {
	return g.inflight.Count()
}

func (g *Guard) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	return g.next.List(ctx, rc, query)
}

func (g *Guard) Open(ctx context.Context, rc *connectormodels.RequestContext, req connectormodels.OpenRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	key := KeyFor(rc, req.Key())
	release, err := g.acquire(key, OpOpen)
	if err != nil {
		return err
	}
	defer release()

	rec, expected, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if rec.Locked() {
		if rec.Holder != rc.Principal() {
			return errors.NewLockConflictError(key.ObjectID, key.Revision, rec.Holder)
		}
		if rec.State == StateOpen {
			return nil
		}
	}
	if err := rec.Apply(OpOpen); err != nil {
		return err
	}

	if err := g.next.Open(ctx, rc, req); err != nil {
		return err
	}

	rec.Holder = rc.Principal()
	rec.UserID = 0
	if rc.User != nil {
		rec.UserID = rc.User.ID
	}
	rec.Handle, rec.Final = "", false
	return g.commit(ctx, rec, expected, OpOpen)
}

func (g *Guard) RequestRead(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (connectormodels.Result, error) {
	return g.next.RequestRead(ctx, rc, obj)
}

func (g *Guard) ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (io.ReadCloser, *connectormodels.ObjectMetaData, error) {
	return g.next.ReadWithMeta(ctx, rc, obj)
}

func (g *Guard) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return g.save(ctx, rc, OpSave, obj, req)
}

func (g *Guard) SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return g.save(ctx, rc, OpSaveAndDone, obj, req)
}

func (g *Guard) save(ctx context.Context, rc *connectormodels.RequestContext, op Operation, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	if err := obj.Validate(); err != nil {
		return connectormodels.SaveResult{}, err
	}
	key := KeyFor(rc, obj.Key())
	release, err := g.acquire(key, op)
	if err != nil {
		return connectormodels.SaveResult{}, err
	}
	defer release()

	rec, expected, err := g.load(ctx, key)
	if err != nil {
		return connectormodels.SaveResult{}, err
	}
	if err := g.checkHolder(rc, rec); err != nil {
		return connectormodels.SaveResult{}, err
	}
	if err := rec.Apply(op); err != nil {
		return connectormodels.SaveResult{}, err
	}

	var res connectormodels.SaveResult
	if op == OpSaveAndDone {
		res, err = g.next.SaveAndDone(ctx, rc, obj, req)
	} else {
		res, err = g.next.Save(ctx, rc, obj, req)
	}
	if err != nil {
		return res, err
	}

	rec.Final = op == OpSaveAndDone
	if res.IsPending() {
		rec.Handle = res.Handle
	} else if err := rec.Apply(OpComplete); err != nil {
		return res, err
	}
	if err := g.commit(ctx, rec, expected, op); err != nil {
		return res, err
	}
	return res, nil
}

func (g *Guard) Discard(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) error {
	key := KeyFor(rc, obj.Key())
	release, err := g.acquire(key, OpDiscard)
	if err != nil {
		return err
	}
	defer release()

	rec, expected, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if err := g.checkHolder(rc, rec); err != nil {
		return err
	}
	if err := rec.Apply(OpDiscard); err != nil {
		return err
	}
	if err := g.next.Discard(ctx, rc, obj); err != nil {
		return err
	}
	rec.Handle, rec.Final = "", false
	return g.commit(ctx, rec, expected, OpDiscard)
}

func (g *Guard) SendMessage(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, msg connectormodels.Message) error {
	return g.next.SendMessage(ctx, rc, obj, msg)
}

func (g *Guard) UpdateFileLifecycle(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, status connectormodels.FileStatus) error {
	return g.next.UpdateFileLifecycle(ctx, rc, obj, status)
}

// PollStatus forwards to the wrapped connector when it can report status.
func (g *Guard) PollStatus(ctx context.Context, rc *connectormodels.RequestContext, handle connectormodels.PollHandle) (connectormodels.OperationStatus, error) {
	poller, ok := g.next.(connector.StatusPoller)
	if !ok {
		return connectormodels.OperationStatus{}, fmt.Errorf("connector %T cannot report operation status", g.next)
	}
	return poller.PollStatus(ctx, rc, handle)
}

// Resolve applies an out-of-band status update to a session waiting on a pending save.
// Pending statuses are ignored, as are statuses whose handle is not the session's
// pending save. A completed saveAndDone closes the session, any other completion or
// failure returns it to OPEN.
func (g *Guard) Resolve(ctx context.Context, key Key, handle connectormodels.PollHandle, status connectormodels.OperationStatus) error {
	if !status.Done() {
		return nil
	}

	op := OpComplete
	if status.State == connectormodels.OperationFailed {
		op = OpFail
	}
	release, err := g.acquire(key, op)
	if err != nil {
		return err
	}
	defer release()

	rec, expected, err := g.load(ctx, key)
	if err != nil {
		return err
	}
	if handle == "" || rec.State != StatePendingSave || rec.Handle != handle {
		g.logger.Debug("ignoring status of untracked operation",
			zap.String("session", key.String()),
			zap.String("handle", string(handle)),
			zap.String("state", string(rec.State)),
		)
		return nil
	}
	if err := rec.Apply(op); err != nil {
		return err
	}
	if op == OpFail {
		g.logger.Warn("pending save failed",
			zap.String("session", key.String()),
			zap.String("reason", status.Reason),
		)
	}
	rec.Handle, rec.Final = "", false
	return g.commit(ctx, rec, expected, op)
}

// ReleaseStale discards sessions in the caller's workspace that have stayed OPEN for
// longer than ttl. Each discard runs on behalf of the session holder. It returns the
// number of sessions released; failures are logged and skipped.
func (g *Guard) ReleaseStale(ctx context.Context, rc *connectormodels.RequestContext, ttl time.Duration) (int, error) {
	records, err := g.store.ListUpdatedBefore(ctx, rc.Workspace(), g.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	released := 0
	for _, rec := range records {
		if rec.State != StateOpen {
			continue
		}
		obj := connectormodels.ObjectDefinition{ID: rec.ObjectID, Revision: rec.Revision}
		if err := g.Discard(ctx, holderContext(rc, rec), obj); err != nil {
			g.logger.Warn("failed to release stale session",
				zap.String("session", rec.Key().String()),
				zap.Error(err),
			)
			continue
		}
		released++
	}
	return released, nil
}

func holderContext(rc *connectormodels.RequestContext, rec Record) *connectormodels.RequestContext {
	cp := *rc
	cp.User = nil
	if strings.HasPrefix(rec.Holder, "user:") {
		cp.User = &connectormodels.UserEntity{ID: rec.UserID}
	}
	return &cp
}

func (g *Guard) acquire(key Key, op Operation) (func(), error) {
	id := key.inFlightID()
	if !g.inflight.SetIfAbsent(id, op) {
		current, _ := g.inflight.Get(id)
		return nil, errors.NewLockConflictError(key.ObjectID, key.Revision, "in-flight "+string(current))
	}
	return func() { g.inflight.Remove(id) }, nil
}

// load returns the stored record, or a fresh CLOSED record, plus the version to
// expect when writing it back.
func (g *Guard) load(ctx context.Context, key Key) (*Record, int64, error) {
	rec, err := g.store.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load session %s: %w", key, err)
	}
	if rec == nil {
		return &Record{
			WorkspaceID: key.WorkspaceID,
			ObjectID:    key.ObjectID,
			Revision:    key.Revision,
			State:       StateClosed,
		}, 0, nil
	}
	return rec, rec.Version, nil
}

func (g *Guard) checkHolder(rc *connectormodels.RequestContext, rec *Record) error {
	if rec.Locked() && rec.Holder != rc.Principal() {
		return errors.NewLockConflictError(rec.ObjectID, rec.Revision, rec.Holder)
	}
	return nil
}

func (g *Guard) commit(ctx context.Context, rec *Record, expected int64, op Operation) error {
	rec.UpdatedAt = g.now().UTC()
	if err := g.store.Put(ctx, rec, expected); err != nil {
		return fmt.Errorf("failed to record %s for session %s: %w", op, rec.Key(), err)
	}
	g.logger.Debug("session transition",
		zap.String("session", rec.Key().String()),
		zap.String("operation", string(op)),
		zap.String("state", string(rec.State)),
		zap.Int64("version", rec.Version),
	)
	return nil
}

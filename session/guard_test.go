/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package session_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/suparena/plmconnector/connector/mock"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/session"
)

func userContext(id int64) *connectormodels.RequestContext {
	ws := int64(3)
	return &connectormodels.RequestContext{
		Type:        connectormodels.ContextTypeUser,
		User:        &connectormodels.UserEntity{ID: id},
		WorkspaceID: &ws,
	}
}

var (
	bracket = connectormodels.ObjectDefinition{ID: "B-1", Name: "Bracket", Revision: "A"}
	housing = connectormodels.ObjectDefinition{ID: "H-2", Name: "Housing", Revision: "A"}
)

func newGuard(t *testing.T, opts ...session.GuardOption) (*session.Guard, *mock.Datasource, session.Store) {
	t.Helper()
	ds := mock.New()
	ds.Seed(bracket, []byte("bracket"))
	ds.Seed(housing, []byte("housing"))
	store := session.NewMemoryStore()
	return session.NewGuard(ds, store, opts...), ds, store
}

func openReq(obj connectormodels.ObjectDefinition) connectormodels.OpenRequest {
	return connectormodels.OpenRequest{ID: obj.ID, Revision: obj.Revision}
}

func TestGuardOpenDiscard(t *testing.T) {
	g, ds, _ := newGuard(t)
	ctx := context.Background()
	rc := userContext(1)
	key := session.KeyFor(rc, bracket.Key())

	require.NoError(t, g.Open(ctx, rc, openReq(bracket)))
	rec, err := g.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StateOpen, rec.State)
	assert.Equal(t, "user:1", rec.Holder)
	assert.True(t, ds.LockHeld(bracket.Key()))

	// reopening by the holder does not reach the datasource
	require.NoError(t, g.Open(ctx, rc, openReq(bracket)))
	assert.Equal(t, 1, ds.Calls("open"))

	err = g.Open(ctx, userContext(2), openReq(bracket))
	assert.True(t, errors.IsLockConflict(err))

	require.NoError(t, g.Discard(ctx, rc, bracket))
	rec, err = g.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StateDiscarded, rec.State)
	assert.False(t, ds.LockHeld(bracket.Key()))

	// discarding twice is a protocol violation
	assert.True(t, errors.IsInvalidState(g.Discard(ctx, rc, bracket)))
}

func TestGuardRejectsSaveWithoutOpen(t *testing.T) {
	g, ds, _ := newGuard(t)
	ctx := context.Background()
	rc := userContext(1)

	_, err := g.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("x")})
	assert.True(t, errors.IsInvalidState(err))
	_, err = g.SaveAndDone(ctx, rc, bracket, connectormodels.SaveRequest{})
	assert.True(t, errors.IsInvalidState(err))

	// rejected before the datasource is called
	assert.Equal(t, 0, ds.Calls("save"))
	assert.Equal(t, 0, ds.Calls("saveAndDone"))
}

func TestGuardSaveLifecycle(t *testing.T) {
	g, ds, _ := newGuard(t)
	ctx := context.Background()
	rc := userContext(1)
	key := session.KeyFor(rc, bracket.Key())

	require.NoError(t, g.Open(ctx, rc, openReq(bracket)))

	_, err := g.Save(ctx, userContext(2), bracket, connectormodels.SaveRequest{})
	assert.True(t, errors.IsLockConflict(err))

	res, err := g.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("v1")})
	require.NoError(t, err)
	assert.False(t, res.IsPending())
	rec, _ := g.Session(ctx, key)
	assert.Equal(t, session.StateOpen, rec.State)

	res, err = g.SaveAndDone(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("v2")})
	require.NoError(t, err)
	assert.False(t, res.IsPending())
	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StateClosed, rec.State)
	assert.True(t, ds.Committed(bracket.Key()))

	_, err = g.Save(ctx, rc, bracket, connectormodels.SaveRequest{})
	assert.True(t, errors.IsInvalidState(err))
}

func TestGuardAsyncResolve(t *testing.T) {
	g, ds, _ := newGuard(t)
	ds.SetAsync(true)
	ctx := context.Background()
	rc := userContext(1)
	key := session.KeyFor(rc, housing.Key())

	require.NoError(t, g.Open(ctx, rc, openReq(housing)))
	res, err := g.SaveAndDone(ctx, rc, housing, connectormodels.SaveRequest{Content: strings.NewReader("v2")})
	require.NoError(t, err)
	require.True(t, res.IsPending())

	rec, _ := g.Session(ctx, key)
	assert.Equal(t, session.StatePendingSave, rec.State)
	assert.Equal(t, res.Handle, rec.Handle)

	// no further writes while pending
	_, err = g.Save(ctx, rc, housing, connectormodels.SaveRequest{})
	assert.True(t, errors.IsInvalidState(err))
	assert.True(t, errors.IsInvalidState(g.Discard(ctx, rc, housing)))

	status, err := g.PollStatus(ctx, rc, res.Handle)
	require.NoError(t, err)
	require.NoError(t, g.Resolve(ctx, key, res.Handle, status))
	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StatePendingSave, rec.State)

	require.NoError(t, ds.Complete(res.Handle))
	status, err = g.PollStatus(ctx, rc, res.Handle)
	require.NoError(t, err)
	require.NoError(t, g.Resolve(ctx, key, res.Handle, status))

	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StateClosed, rec.State)
	assert.Empty(t, rec.Handle)
	assert.False(t, ds.LockHeld(housing.Key()))

	// a repeated status no longer matches a pending save
	require.NoError(t, g.Resolve(ctx, key, res.Handle, status))
	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StateClosed, rec.State)
}

func TestGuardResolveIgnoresOtherOperations(t *testing.T) {
	g, ds, _ := newGuard(t)
	ds.SetAsync(true)
	ctx := context.Background()
	rc := userContext(1)
	key := session.KeyFor(rc, housing.Key())
	done := connectormodels.OperationStatus{State: connectormodels.OperationCompleted}

	// a read on a document nobody opened
	read, err := g.RequestRead(ctx, rc, housing)
	require.NoError(t, err)
	require.True(t, read.IsPending())
	require.NoError(t, ds.Complete(read.Handle))
	require.NoError(t, g.Resolve(ctx, key, read.Handle, done))
	rec, _ := g.Session(ctx, key)
	assert.Equal(t, session.StateClosed, rec.State)

	// a read finishing while a save is pending leaves the save pending
	require.NoError(t, g.Open(ctx, rc, openReq(housing)))
	save, err := g.Save(ctx, rc, housing, connectormodels.SaveRequest{Content: strings.NewReader("v2")})
	require.NoError(t, err)
	require.True(t, save.IsPending())
	read, err = g.RequestRead(ctx, rc, housing)
	require.NoError(t, err)
	require.NoError(t, ds.Complete(read.Handle))
	require.NoError(t, g.Resolve(ctx, key, read.Handle, done))

	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StatePendingSave, rec.State)
	assert.Equal(t, save.Handle, rec.Handle)

	require.NoError(t, ds.Complete(save.Handle))
	require.NoError(t, g.Resolve(ctx, key, save.Handle, done))
	rec, _ = g.Session(ctx, key)
	assert.Equal(t, session.StateOpen, rec.State)
	assert.Empty(t, rec.Handle)
}

func TestGuardAsyncFailureReturnsToOpen(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g, ds, _ := newGuard(t, session.WithLogger(zap.New(core)))
	ds.SetAsync(true)
	ctx := context.Background()
	rc := userContext(1)
	key := session.KeyFor(rc, housing.Key())

	require.NoError(t, g.Open(ctx, rc, openReq(housing)))
	res, err := g.Save(ctx, rc, housing, connectormodels.SaveRequest{Content: strings.NewReader("v2")})
	require.NoError(t, err)

	require.NoError(t, ds.Fail(res.Handle, "quota exceeded"))
	require.NoError(t, g.Resolve(ctx, key, res.Handle, connectormodels.OperationStatus{State: connectormodels.OperationFailed, Reason: "quota exceeded"}))

	rec, _ := g.Session(ctx, key)
	assert.Equal(t, session.StateOpen, rec.State)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "quota exceeded", logs.All()[0].ContextMap()["reason"])

	// the session is usable again
	require.NoError(t, g.Discard(ctx, rc, housing))
}

type blockingSaver struct {
	*mock.Datasource
	entered chan struct{}
	proceed chan struct{}
}

func (b *blockingSaver) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	close(b.entered)
	<-b.proceed
	return b.Datasource.Save(ctx, rc, obj, req)
}

func TestGuardSerializesMutations(t *testing.T) {
	ds := mock.New()
	ds.Seed(bracket, []byte("bracket"))
	slow := &blockingSaver{Datasource: ds, entered: make(chan struct{}), proceed: make(chan struct{})}
	g := session.NewGuard(slow, session.NewMemoryStore())
	ctx := context.Background()
	rc := userContext(1)

	require.NoError(t, g.Open(ctx, rc, openReq(bracket)))

	var wg sync.WaitGroup
	var saveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, saveErr = g.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("v1")})
	}()

	<-slow.entered
	assert.Equal(t, 1, g.InFlight())

	_, err := g.SaveAndDone(ctx, rc, bracket, connectormodels.SaveRequest{})
	assert.True(t, errors.IsLockConflict(err))
	assert.True(t, errors.IsLockConflict(g.Discard(ctx, rc, bracket)))

	// other revisions are not blocked
	other := connectormodels.ObjectDefinition{ID: "B-1", Revision: "B"}
	assert.True(t, errors.IsNotFound(g.Open(ctx, rc, openReq(other))))

	close(slow.proceed)
	wg.Wait()
	require.NoError(t, saveErr)
	assert.Equal(t, 0, g.InFlight())
}

func TestGuardInFlightKeysDoNotCollide(t *testing.T) {
	ds := mock.New()
	first := connectormodels.ObjectDefinition{ID: "a@b", Revision: "c"}
	second := connectormodels.ObjectDefinition{ID: "a", Revision: "b@c"}
	ds.Seed(first, []byte("first"))
	ds.Seed(second, []byte("second"))
	slow := &blockingSaver{Datasource: ds, entered: make(chan struct{}), proceed: make(chan struct{})}
	g := session.NewGuard(slow, session.NewMemoryStore())
	ctx := context.Background()
	rc := userContext(1)

	require.NoError(t, g.Open(ctx, rc, openReq(first)))

	var wg sync.WaitGroup
	var saveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, saveErr = g.Save(ctx, rc, first, connectormodels.SaveRequest{Content: strings.NewReader("v1")})
	}()

	<-slow.entered
	require.Equal(t, session.KeyFor(rc, first.Key()).String(), session.KeyFor(rc, second.Key()).String())
	require.NoError(t, g.Open(ctx, rc, openReq(second)))
	assert.Equal(t, 1, g.InFlight())

	close(slow.proceed)
	wg.Wait()
	require.NoError(t, saveErr)
	require.NoError(t, g.Discard(ctx, rc, second))
}

func TestGuardReleaseStale(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	g, ds, store := newGuard(t, session.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, g.Open(ctx, userContext(1), openReq(bracket)))
	now = now.Add(6 * time.Hour)
	require.NoError(t, g.Open(ctx, userContext(2), openReq(housing)))
	now = now.Add(3 * time.Hour)

	admin := userContext(99)
	released, err := g.ReleaseStale(ctx, admin, 8*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.False(t, ds.LockHeld(bracket.Key()))
	assert.True(t, ds.LockHeld(housing.Key()))

	open, err := store.ListByWorkspace(ctx, admin.Workspace(), session.StateOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "H-2", open[0].ObjectID)
}

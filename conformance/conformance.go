/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package conformance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/poll"
	"github.com/suparena/plmconnector/session"
)

// Fixture controls the datasource behind a connector under test.
type Fixture interface {
	// Seed stores an editable revision.
	Seed(def connectormodels.ObjectDefinition, content []byte)
	// LockHeld reports whether any caller holds the lock on key.
	LockHeld(key connectormodels.ObjectKey) bool
	// SetAsync switches RequestRead and saves to pending results.
	SetAsync(async bool)
	// Complete finishes a pending operation out of band.
	Complete(handle connectormodels.PollHandle) error
}

// Subject is one connector instance under test.
type Subject struct {
	Connector connector.V2
	Fixture   Fixture
	// Resolver receives final statuses of saves, for example session.Guard.Resolve. Optional.
	Resolver poll.ResolveFunc
}

// Harness builds a fresh Subject for every check.
type Harness struct {
	New func(t *testing.T) Subject
	// Context returns the caller of every check; a workspace user by default.
	Context func() *connectormodels.RequestContext
}

// Run checks the connector protocol rules every V2 implementation must follow.
func Run(t *testing.T, h Harness) {
	t.Helper()
	require.NotNil(t, h.New, "harness needs a constructor")
	if h.Context == nil {
		h.Context = defaultContext
	}

	t.Run("open then discard releases the lock", func(t *testing.T) { openDiscard(t, h) })
	t.Run("save requires open", func(t *testing.T) { saveRequiresOpen(t, h) })
	t.Run("pages cover the catalog once", func(t *testing.T) { paging(t, h) })
	t.Run("save round trips through readWithMeta", func(t *testing.T) { roundTrip(t, h) })
	t.Run("pending save completes out of band", func(t *testing.T) { pendingSave(t, h) })
	t.Run("pending read completes out of band", func(t *testing.T) { pendingRead(t, h) })
}

func defaultContext() *connectormodels.RequestContext {
	ws := int64(1)
	return &connectormodels.RequestContext{
		Type:        connectormodels.ContextTypeUser,
		User:        &connectormodels.UserEntity{ID: 100},
		WorkspaceID: &ws,
	}
}

func definition(id, revision string) connectormodels.ObjectDefinition {
	return connectormodels.ObjectDefinition{ID: id, Name: "Part " + id, Revision: revision}
}

func openDiscard(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	rc := h.Context()

	pairs := []connectormodels.ObjectDefinition{
		definition("P-1", "A"),
		definition("P-1", "B"),
		definition("P-2", "01"),
	}
	for _, def := range pairs {
		s.Fixture.Seed(def, []byte("content of "+def.Key().String()))
	}

	for _, def := range pairs {
		require.NoError(t, s.Connector.Open(ctx, rc, connectormodels.OpenRequest{ID: def.ID, Revision: def.Revision}))
		assert.True(t, s.Fixture.LockHeld(def.Key()), "open locks %s", def.Key())
		require.NoError(t, s.Connector.Discard(ctx, rc, def))
		assert.False(t, s.Fixture.LockHeld(def.Key()), "discard releases %s", def.Key())
	}

	// a document created on the host side behaves the same
	created := connectormodels.OpenRequest{ID: "NEW-1", Revision: "A", Name: "New part", IsNew: true}
	require.NoError(t, s.Connector.Open(ctx, rc, created))
	require.NoError(t, s.Connector.Discard(ctx, rc, definition(created.ID, created.Revision)))
	assert.False(t, s.Fixture.LockHeld(created.Key()))
}

func saveRequiresOpen(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	rc := h.Context()
	def := definition("P-1", "A")
	s.Fixture.Seed(def, []byte("original"))

	_, err := s.Connector.Save(ctx, rc, def, connectormodels.SaveRequest{Content: bytes.NewReader([]byte("edited"))})
	assert.Error(t, err, "save without open")
	_, err = s.Connector.SaveAndDone(ctx, rc, def, connectormodels.SaveRequest{Content: bytes.NewReader([]byte("edited"))})
	assert.Error(t, err, "saveAndDone without open")

	// after a discard the session is closed again
	require.NoError(t, s.Connector.Open(ctx, rc, connectormodels.OpenRequest{ID: def.ID, Revision: def.Revision}))
	require.NoError(t, s.Connector.Discard(ctx, rc, def))
	_, err = s.Connector.Save(ctx, rc, def, connectormodels.SaveRequest{Content: bytes.NewReader([]byte("edited"))})
	assert.Error(t, err, "save after discard")

	assert.Equal(t, "original", read(t, s, rc, def))
}

func paging(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	rc := h.Context()

	seeded := map[connectormodels.ObjectKey]bool{}
	for i := 0; i < 12; i++ {
		for _, rev := range []string{"A", "B"} {
			def := definition(fmt.Sprintf("P-%02d", i), rev)
			s.Fixture.Seed(def, nil)
			seeded[def.Key()] = true
		}
	}

	const pageSize = 5
	pages := connectormodels.PageCount(len(seeded), pageSize)
	seen := map[connectormodels.ObjectKey]bool{}
	for page := 1; page <= pages; page++ {
		defs, err := s.Connector.List(ctx, rc, connectormodels.Query{Page: page, PageSize: pageSize})
		require.NoError(t, err)
		if page < pages {
			assert.Len(t, defs, pageSize, "page %d is full", page)
		}
		for _, def := range defs {
			assert.False(t, seen[def.Key()], "%s listed twice", def.Key())
			seen[def.Key()] = true
		}
	}
	assert.Equal(t, seeded, seen)

	beyond, err := s.Connector.List(ctx, rc, connectormodels.Query{Page: pages + 1, PageSize: pageSize})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func roundTrip(t *testing.T, h Harness) {
	ctx := context.Background()
	rc := h.Context()

	for _, op := range []string{connector.OpSave, connector.OpSaveAndDone} {
		t.Run(op, func(t *testing.T) {
			s := h.New(t)
			def := definition("P-1", "C")
			s.Fixture.Seed(def, []byte("before"))
			require.NoError(t, s.Connector.Open(ctx, rc, connectormodels.OpenRequest{ID: def.ID, Revision: def.Revision}))

			payload := []byte("binary\x00payload\xff")
			req := connectormodels.SaveRequest{Content: bytes.NewReader(payload)}
			var (
				res connectormodels.SaveResult
				err error
			)
			if op == connector.OpSave {
				res, err = s.Connector.Save(ctx, rc, def, req)
			} else {
				res, err = s.Connector.SaveAndDone(ctx, rc, def, req)
			}
			require.NoError(t, err)
			require.False(t, res.IsPending())

			body, meta, err := s.Connector.ReadWithMeta(ctx, rc, def)
			require.NoError(t, err)
			defer body.Close()
			got, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			require.NotNil(t, meta)
			assert.Equal(t, def.Revision, meta.Revision)
		})
	}
}

func pendingSave(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	rc := h.Context()
	poller, ok := s.Connector.(connector.StatusPoller)
	if !ok {
		t.Skip("connector does not report operation status")
	}

	def := definition("P-1", "D")
	s.Fixture.Seed(def, []byte("before"))
	s.Fixture.SetAsync(true)
	require.NoError(t, s.Connector.Open(ctx, rc, connectormodels.OpenRequest{ID: def.ID, Revision: def.Revision}))

	res, err := s.Connector.Save(ctx, rc, def, connectormodels.SaveRequest{Content: bytes.NewReader([]byte("after"))})
	require.NoError(t, err)
	require.True(t, res.IsPending(), "async save returns a handle")
	require.NotEmpty(t, res.Handle)

	tracker := newTracker(s)
	require.NoError(t, tracker.Track(session.KeyFor(rc, def.Key()), connector.OpSave, res.Handle))

	// without the out-of-band update the operation stays pending
	status, err := tracker.Await(ctx, rc, res.Handle, poller)
	assert.ErrorIs(t, err, poll.ErrStillPending)
	assert.Equal(t, connectormodels.OperationPending, status.State)
	assert.Equal(t, 1, tracker.Len())

	require.NoError(t, s.Fixture.Complete(res.Handle))
	status, err = tracker.Await(ctx, rc, res.Handle, poller)
	require.NoError(t, err)
	assert.Equal(t, connectormodels.OperationCompleted, status.State)
	assert.Zero(t, tracker.Len())
	assert.Equal(t, "after", read(t, s, rc, def))

	// the document is still open for the holder
	require.NoError(t, s.Connector.Discard(ctx, rc, def))
	assert.False(t, s.Fixture.LockHeld(def.Key()))
}

func pendingRead(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	rc := h.Context()
	poller, ok := s.Connector.(connector.StatusPoller)
	if !ok {
		t.Skip("connector does not report operation status")
	}

	// reads need no open session
	def := definition("P-2", "A")
	s.Fixture.Seed(def, []byte("prepared"))
	s.Fixture.SetAsync(true)

	res, err := s.Connector.RequestRead(ctx, rc, def)
	require.NoError(t, err)
	require.True(t, res.IsPending(), "async requestRead returns a handle")
	require.NotEmpty(t, res.Handle)

	tracker := newTracker(s)
	require.NoError(t, tracker.Track(session.KeyFor(rc, def.Key()), connector.OpRequestRead, res.Handle))

	status, err := tracker.Await(ctx, rc, res.Handle, poller)
	assert.ErrorIs(t, err, poll.ErrStillPending)
	assert.Equal(t, connectormodels.OperationPending, status.State)
	assert.Equal(t, 1, tracker.Len())

	require.NoError(t, s.Fixture.Complete(res.Handle))
	status, err = tracker.Await(ctx, rc, res.Handle, poller)
	require.NoError(t, err)
	assert.Equal(t, connectormodels.OperationCompleted, status.State)
	assert.Zero(t, tracker.Len())
	assert.False(t, s.Fixture.LockHeld(def.Key()))
	assert.Equal(t, "prepared", read(t, s, rc, def))
}

func newTracker(s Subject) *poll.Tracker {
	timer := &instantTimer{c: make(chan time.Time, 1)}
	return poll.NewTracker(
		poll.WithTimer(func() backoff.Timer { return timer }),
		poll.WithPolicy(poll.Policy{InitialInterval: time.Second, MaxInterval: time.Minute, MaxAttempts: 3}),
		poll.WithResolver(s.Resolver),
	)
}

func read(t *testing.T, s Subject, rc *connectormodels.RequestContext, def connectormodels.ObjectDefinition) string {
	t.Helper()
	body, _, err := s.Connector.ReadWithMeta(context.Background(), rc, def)
	require.NoError(t, err)
	defer body.Close()
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(content)
}

// instantTimer fires as soon as it is started so polling runs on virtual time.
type instantTimer struct {
	c chan time.Time
}

func (f *instantTimer) Start(time.Duration) { f.c <- time.Time{} }

func (f *instantTimer) Stop() {}

func (f *instantTimer) C() <-chan time.Time { return f.c }

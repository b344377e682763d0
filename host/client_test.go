/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package host

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/plmconnector/config"
	"github.com/suparena/plmconnector/connector/mock"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/poll"
	"github.com/suparena/plmconnector/session"
)

type instantTimer struct {
	mu    sync.Mutex
	c     chan time.Time
	waits int
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (f *instantTimer) Start(time.Duration) {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	f.c <- time.Time{}
}

func (f *instantTimer) Stop() {}

func (f *instantTimer) C() <-chan time.Time { return f.c }

// tokenChecked rejects every call whose token is not "fresh" after consuming the content.
type tokenChecked struct {
	*mock.Datasource
	seen []string
}

func (c *tokenChecked) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	body, err := io.ReadAll(req.Content)
	if err != nil {
		return connectormodels.SaveResult{}, err
	}
	c.seen = append(c.seen, rc.Token)
	if rc.Token != "fresh" {
		return connectormodels.SaveResult{}, errors.NewUnprocessableEntityError()
	}
	req.Content = bytes.NewReader(body)
	return c.Datasource.Save(ctx, rc, obj, req)
}

// flakyList fails List with a transient error a fixed number of times.
type flakyList struct {
	*mock.Datasource
	failures int
	err      error
}

func (f *flakyList) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.Datasource.List(ctx, rc, query)
}

func userContext(id int64) *connectormodels.RequestContext {
	ws := int64(3)
	return &connectormodels.RequestContext{
		Type:        connectormodels.ContextTypeUser,
		User:        &connectormodels.UserEntity{ID: id},
		WorkspaceID: &ws,
		Token:       "stale",
	}
}

var bracket = connectormodels.ObjectDefinition{ID: "B-1", Name: "Bracket", Revision: "A"}

func seeded() *mock.Datasource {
	d := mock.New()
	d.Seed(bracket, []byte("v1"))
	d.Seed(connectormodels.ObjectDefinition{ID: "H-2", Name: "Housing", Revision: "A"}, []byte("housing"))
	return d
}

func TestBadRequestPassesThrough(t *testing.T) {
	injected := errors.NewBadRequestError("Workspace is archived, ask an administrator to restore it")
	d := seeded().WithOpenError(injected)
	refreshed := false
	c := NewClient(d, WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, rc *connectormodels.RequestContext) (string, error) {
		refreshed = true
		return "fresh", nil
	})))

	err := c.Open(context.Background(), userContext(1), connectormodels.OpenRequest{ID: "B-1", Revision: "A"})
	require.Error(t, err)
	assert.Same(t, injected, err)
	assert.Equal(t, "Workspace is archived, ask an administrator to restore it", err.Error())
	assert.Equal(t, 400, errors.StatusCode(err))
	assert.False(t, refreshed, "a bad request never refreshes the token")
	assert.Equal(t, 1, d.Calls("open"))
}

func TestUnprocessableRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	conn := &tokenChecked{Datasource: seeded()}
	refreshes := 0
	c := NewClient(conn,
		WithName("plm"),
		WithMetrics(metrics),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, rc *connectormodels.RequestContext) (string, error) {
			refreshes++
			assert.Equal(t, "stale", rc.Token)
			return "fresh", nil
		})),
	)

	rc := userContext(1)
	require.NoError(t, c.Open(ctx, rc, connectormodels.OpenRequest{ID: "B-1", Revision: "A"}))

	// a plain reader cannot seek; the client buffers it so the retry sees the whole body
	content := io.MultiReader(strings.NewReader("edited "), strings.NewReader("content"))
	res, err := c.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: content})
	require.NoError(t, err)
	assert.False(t, res.IsPending())
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, []string{"stale", "fresh"}, conn.seen)
	assert.Equal(t, "stale", rc.Token, "the caller's context is not modified")

	body, _, err := c.ReadWithMeta(ctx, rc, bracket)
	require.NoError(t, err)
	stored, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "edited content", string(stored))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("plm", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calls.WithLabelValues("plm", "save", "ok")))
}

func TestUnprocessableWhenRefreshFails(t *testing.T) {
	metrics := NewMetrics(nil)
	d := seeded().WithOpenError(errors.NewUnprocessableEntityError())
	c := NewClient(d,
		WithName("plm"),
		WithMetrics(metrics),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, rc *connectormodels.RequestContext) (string, error) {
			return "", stderrors.New("refresh token revoked")
		})),
	)

	err := c.Open(context.Background(), userContext(1), connectormodels.OpenRequest{ID: "B-1", Revision: "A"})
	assert.True(t, errors.IsUnprocessableEntity(err))
	assert.Equal(t, 422, errors.StatusCode(err))
	assert.Equal(t, 1, d.Calls("open"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenRefreshes.WithLabelValues("plm", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calls.WithLabelValues("plm", "open", "422")))
}

func TestUnprocessableWithoutRefresher(t *testing.T) {
	d := seeded().WithDiscardError(errors.NewUnprocessableEntityError())
	c := NewClient(d)

	err := c.Discard(context.Background(), userContext(1), bracket)
	assert.True(t, errors.IsUnprocessableEntity(err))
	assert.Equal(t, 1, d.Calls("discard"))
}

func TestMutationsAreNotRetried(t *testing.T) {
	timer := newInstantTimer()
	d := seeded().WithSaveError(stderrors.New("connection reset"))
	c := NewClient(d, WithTimer(func() backoff.Timer { return timer }))

	_, err := c.SaveAndDone(context.Background(), userContext(1), bracket, connectormodels.SaveRequest{Content: strings.NewReader("x")})
	require.Error(t, err)
	assert.Equal(t, 500, errors.StatusCode(err))
	assert.Equal(t, 1, d.Calls("saveAndDone"))
	assert.Zero(t, timer.waits)
}

func TestReadsRetryTransientErrors(t *testing.T) {
	timer := newInstantTimer()
	conn := &flakyList{Datasource: seeded(), failures: 2, err: stderrors.New("i/o timeout")}
	c := NewClient(conn,
		WithRetry(config.RetryConfig{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond}),
		WithTimer(func() backoff.Timer { return timer }),
	)

	defs, err := c.List(context.Background(), userContext(1), connectormodels.Query{})
	require.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Equal(t, 2, timer.waits)

	t.Run("gives up after max attempts", func(t *testing.T) {
		conn.failures = 5
		_, err := c.List(context.Background(), userContext(1), connectormodels.Query{})
		assert.EqualError(t, err, "i/o timeout")
		assert.Equal(t, 2, conn.failures, "three attempts consumed three failures")
	})

	t.Run("contract errors are final", func(t *testing.T) {
		conn.failures = 2
		conn.err = errors.NewBadRequestError("Search is not supported")
		_, err := c.List(context.Background(), userContext(1), connectormodels.Query{})
		assert.True(t, errors.IsBadRequest(err))
		assert.Equal(t, 1, conn.failures)
	})
}

func TestRequestContextIsValidated(t *testing.T) {
	d := seeded()
	c := NewClient(d)

	_, err := c.List(context.Background(), nil, connectormodels.Query{})
	assert.True(t, errors.IsValidationError(err))

	_, err = c.RequestRead(context.Background(), &connectormodels.RequestContext{Type: "service"}, bracket)
	assert.True(t, errors.IsValidationError(err))
	assert.Zero(t, d.Calls("list"))
}

func TestRateLimit(t *testing.T) {
	d := seeded()
	c := NewClient(d, WithRateLimit(0.001, 1))

	_, err := c.List(context.Background(), userContext(1), connectormodels.Query{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.List(ctx, userContext(1), connectormodels.Query{})
	require.Error(t, err)
	assert.Equal(t, 1, d.Calls("list"), "the limited call never reached the datasource")
}

func TestPendingSaveThroughGuard(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	d.SetAsync(true)

	store := session.NewMemoryStore()
	guard := session.NewGuard(d, store)
	timer := newInstantTimer()
	tracker := poll.NewTracker(
		poll.WithResolver(guard.Resolve),
		poll.WithTimer(func() backoff.Timer { return timer }),
	)
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewClient(guard, WithName("plm"), WithTracker(tracker), WithMetrics(metrics))
	assert.Same(t, tracker, c.Tracker())
	assert.Same(t, guard, c.Connector())

	rc := userContext(1)
	key := session.KeyFor(rc, bracket.Key())
	require.NoError(t, c.Open(ctx, rc, connectormodels.OpenRequest{ID: "B-1", Revision: "A"}))

	res, err := c.SaveAndDone(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("final")})
	require.NoError(t, err)
	require.True(t, res.IsPending())
	assert.Equal(t, 1, tracker.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Pending.WithLabelValues("plm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Calls.WithLabelValues("plm", "saveAndDone", "pending")))

	rec, err := guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StatePendingSave, rec.State)

	require.NoError(t, d.Complete(res.Handle))
	status, err := c.Await(ctx, rc, res.Handle)
	require.NoError(t, err)
	assert.Equal(t, connectormodels.OperationCompleted, status.State)
	assert.Equal(t, 0, tracker.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Pending.WithLabelValues("plm")))

	rec, err = guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, rec.State)
	assert.True(t, d.Committed(bracket.Key()))
}

func TestPushedStatus(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	d.SetAsync(true)
	guard := session.NewGuard(d, session.NewMemoryStore())
	c := NewClient(guard, WithTracker(poll.NewTracker(poll.WithResolver(guard.Resolve))))

	rc := userContext(1)
	require.NoError(t, c.Open(ctx, rc, connectormodels.OpenRequest{ID: "B-1", Revision: "A"}))
	res, err := c.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("draft")})
	require.NoError(t, err)
	require.True(t, res.IsPending())

	failed := connectormodels.OperationStatus{State: connectormodels.OperationFailed, Reason: "checksum mismatch"}
	require.NoError(t, c.Resolve(ctx, res.Handle, failed))
	assert.True(t, errors.IsNotFound(c.Resolve(ctx, res.Handle, failed)))

	rec, err := guard.Session(ctx, session.KeyFor(rc, bracket.Key()))
	require.NoError(t, err)
	assert.Equal(t, session.StateOpen, rec.State, "a failed save leaves the document open")
}

func TestPendingReadThroughGuard(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	d.SetAsync(true)
	guard := session.NewGuard(d, session.NewMemoryStore())
	timer := newInstantTimer()
	tracker := poll.NewTracker(
		poll.WithResolver(guard.Resolve),
		poll.WithTimer(func() backoff.Timer { return timer }),
	)
	c := NewClient(guard, WithTracker(tracker))
	rc := userContext(1)

	// reads need no open session
	res, err := c.RequestRead(ctx, rc, bracket)
	require.NoError(t, err)
	require.True(t, res.IsPending())
	require.NoError(t, d.Complete(res.Handle))

	status, err := c.Await(ctx, rc, res.Handle)
	require.NoError(t, err)
	assert.Equal(t, connectormodels.OperationCompleted, status.State)
	assert.Zero(t, tracker.Len())

	rec, err := guard.Session(ctx, session.KeyFor(rc, bracket.Key()))
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, rec.State)
}

func TestReadDoesNotResolvePendingSave(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	d.SetAsync(true)
	guard := session.NewGuard(d, session.NewMemoryStore())
	timer := newInstantTimer()
	tracker := poll.NewTracker(
		poll.WithResolver(guard.Resolve),
		poll.WithTimer(func() backoff.Timer { return timer }),
	)
	c := NewClient(guard, WithTracker(tracker))
	rc := userContext(1)
	key := session.KeyFor(rc, bracket.Key())

	require.NoError(t, c.Open(ctx, rc, connectormodels.OpenRequest{ID: "B-1", Revision: "A"}))
	save, err := c.Save(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("draft")})
	require.NoError(t, err)
	require.True(t, save.IsPending())
	read, err := c.RequestRead(ctx, rc, bracket)
	require.NoError(t, err)
	require.True(t, read.IsPending())
	assert.Equal(t, 2, tracker.Len())

	require.NoError(t, d.Complete(read.Handle))
	_, err = c.Await(ctx, rc, read.Handle)
	require.NoError(t, err)

	rec, err := guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StatePendingSave, rec.State, "the save is still running at the datasource")
	assert.Equal(t, save.Handle, rec.Handle)
	assert.Equal(t, 1, tracker.Len())

	require.NoError(t, d.Complete(save.Handle))
	status, err := c.Await(ctx, rc, save.Handle)
	require.NoError(t, err)
	assert.Equal(t, connectormodels.OperationCompleted, status.State)

	rec, err = guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StateOpen, rec.State)
	assert.Zero(t, tracker.Len())
}

func TestRejectedStatusIsRedelivered(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	d.SetAsync(true)
	guard := session.NewGuard(d, session.NewMemoryStore())
	rejected := false
	resolver := func(ctx context.Context, key session.Key, handle connectormodels.PollHandle, status connectormodels.OperationStatus) error {
		if !rejected {
			rejected = true
			return errors.NewConditionFailedError("session", "version changed")
		}
		return guard.Resolve(ctx, key, handle, status)
	}
	c := NewClient(guard, WithTracker(poll.NewTracker(poll.WithResolver(resolver))))

	rc := userContext(1)
	key := session.KeyFor(rc, bracket.Key())
	require.NoError(t, c.Open(ctx, rc, connectormodels.OpenRequest{ID: "B-1", Revision: "A"}))
	res, err := c.SaveAndDone(ctx, rc, bracket, connectormodels.SaveRequest{Content: strings.NewReader("final")})
	require.NoError(t, err)
	require.True(t, res.IsPending())
	require.NoError(t, d.Complete(res.Handle))

	done := connectormodels.OperationStatus{State: connectormodels.OperationCompleted}
	assert.True(t, errors.IsConditionFailed(c.Resolve(ctx, res.Handle, done)))
	assert.Equal(t, 1, c.Tracker().Len())
	rec, err := guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StatePendingSave, rec.State)

	require.NoError(t, c.Resolve(ctx, res.Handle, done))
	assert.Zero(t, c.Tracker().Len())
	rec, err = guard.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, rec.State)
}

func TestMessagesAndLifecycle(t *testing.T) {
	ctx := context.Background()
	d := seeded()
	c := NewClient(d)
	rc := userContext(1)

	require.NoError(t, c.SendMessage(ctx, rc, bracket, connectormodels.Message{Type: "comment", Payload: map[string]any{"text": "looks good"}}))
	require.NoError(t, c.UpdateFileLifecycle(ctx, rc, bracket, connectormodels.FileStatusReleased))
	assert.Len(t, d.Messages(bracket.Key()), 1)
	assert.Equal(t, connectormodels.FileStatusReleased, d.Lifecycle(bracket.Key()))

	err := c.UpdateFileLifecycle(ctx, rc, bracket, "shredded")
	assert.True(t, errors.IsBadRequest(err))
}

func TestReplayableRequest(t *testing.T) {
	seeker := strings.NewReader("abcdef")
	_, err := seeker.Seek(2, io.SeekStart)
	require.NoError(t, err)

	req := connectormodels.SaveRequest{
		Content: seeker,
		Assets: []connectormodels.Asset{
			{ID: "thumb", Content: io.MultiReader(strings.NewReader("png"))},
			{ID: "empty"},
		},
	}
	out, rewind, err := replayableRequest(req)
	require.NoError(t, err)

	first, _ := io.ReadAll(out.Content)
	thumb, _ := io.ReadAll(out.Assets[0].Content)
	assert.Equal(t, "cdef", string(first))
	assert.Equal(t, "png", string(thumb))
	assert.Nil(t, out.Assets[1].Content)

	require.NoError(t, rewind())
	again, _ := io.ReadAll(out.Content)
	thumb, _ = io.ReadAll(out.Assets[0].Content)
	assert.Equal(t, "cdef", string(again), "rewinds to the original offset")
	assert.Equal(t, "png", string(thumb))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(false, nil))
	assert.Equal(t, "pending", Outcome(true, nil))
	assert.Equal(t, "409", Outcome(true, errors.NewLockConflictError("B-1", "A", "user:2")))
	assert.Equal(t, "500", Outcome(false, stderrors.New("boom")))
}

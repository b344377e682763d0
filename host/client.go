/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suparena/plmconnector/config"
	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
	"github.com/suparena/plmconnector/logging"
	"github.com/suparena/plmconnector/poll"
	"github.com/suparena/plmconnector/session"
)

const tracerName = "github.com/suparena/plmconnector/host"

// TokenRefresher obtains a fresh datasource token for the caller.
type TokenRefresher interface {
	Refresh(ctx context.Context, rc *connectormodels.RequestContext) (string, error)
}

// TokenRefresherFunc adapts a function to TokenRefresher.
type TokenRefresherFunc func(ctx context.Context, rc *connectormodels.RequestContext) (string, error)

func (f TokenRefresherFunc) Refresh(ctx context.Context, rc *connectormodels.RequestContext) (string, error) {
	return f(ctx, rc)
}

var _ connector.V2 = (*Client)(nil)

// Client invokes a V2 connector on behalf of the host.
//
// Every call is rate limited, traced, logged and counted. An UnprocessableEntityError
// triggers one token refresh and a single retry with the new token. BadRequestError
// and every other contract error are returned unchanged. Read-only operations retry
// untyped errors with exponential backoff; mutating operations never retry on their
// own. Pending results are registered with the poll tracker.
type Client struct {
	conn      connector.V2
	name      string
	refresher TokenRefresher
	limiter   *rate.Limiter
	retry     config.RetryConfig
	newTimer  func() backoff.Timer
	tracker   *poll.Tracker
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the connector name used in logs, metrics and spans.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTokenRefresher enables the refresh-and-retry path for unprocessable responses.
func WithTokenRefresher(r TokenRefresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithRateLimit limits calls to perSecond with the given burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry sets the retry policy of read-only calls.
func WithRetry(cfg config.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTimer replaces the timer used between retries.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// WithTracker sets the tracker pending results are registered with.
func WithTracker(t *poll.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithMetrics sets the metric collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer; the global provider is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient wraps conn.
func NewClient(conn connector.V2, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		name:    fmt.Sprintf("%T", conn),
		retry:   config.Default().Retry,
		tracker: poll.NewTracker(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.logger = logging.Component(c.logger, "host-client").With(zap.String("connector", c.name))
	return c
}

// Connector returns the wrapped connector.
func (c *Client) Connector() connector.V2 {
	return c.conn
}

// Tracker returns the tracker holding the client's pending operations.
func (c *Client) Tracker() *poll.Tracker {
	return c.tracker
}

type callSpec struct {
	op         string
	object     *connectormodels.ObjectKey
	idempotent bool
	// rewind prepares request streams for a second attempt
	rewind func() error
}

func invoke[T any](ctx context.Context, c *Client, rc *connectormodels.RequestContext, spec callSpec, pending func(T) connectormodels.Result, fn func(context.Context, *connectormodels.RequestContext) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	attrs := []attribute.KeyValue{
		attribute.String("connector.name", c.name),
		attribute.String("connector.op", spec.op),
	}
	if spec.object != nil {
		attrs = append(attrs, attribute.String("connector.object", spec.object.String()))
	}
	ctx, span := c.tracer.Start(ctx, "connector."+spec.op, trace.WithAttributes(attrs...))
	defer span.End()

	logger := logging.FromRequest(rc, c.logger).With(zap.String("op", spec.op))
	if spec.object != nil {
		logger = logger.With(logging.Object(*spec.object))
	}

	finish := func(res T, err error) (T, error) {
		isPending := false
		if err == nil && pending != nil {
			if r := pending(res); r.IsPending() {
				isPending = true
				if trackErr := c.track(rc, spec, r.Handle); trackErr != nil {
					err = trackErr
				}
			}
		}

		outcome := Outcome(isPending, err)
		c.metrics.observe(c.name, spec.op, outcome, time.Since(start))
		span.SetAttributes(attribute.String("connector.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("connector call failed", zap.Int("status", errors.StatusCode(err)), zap.Error(err))
			return res, err
		}
		logger.Debug("connector call", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(start)))
		return res, nil
	}

	if err := rc.Validate(); err != nil {
		return finish(zero, err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return finish(zero, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	res, err := attempt(ctx, c, rc, spec, fn)
	if !errors.IsUnprocessableEntity(err) || c.refresher == nil {
		return finish(res, err)
	}

	token, refreshErr := c.refresher.Refresh(ctx, rc)
	if refreshErr != nil {
		c.metrics.TokenRefreshes.WithLabelValues(c.name, "failed").Inc()
		logger.Warn("token refresh failed", zap.Error(refreshErr))
		return finish(res, err)
	}
	c.metrics.TokenRefreshes.WithLabelValues(c.name, "ok").Inc()
	span.AddEvent("token refreshed")

	if spec.rewind != nil {
		if rewindErr := spec.rewind(); rewindErr != nil {
			logger.Warn("cannot replay request after token refresh", zap.Error(rewindErr))
			return finish(res, err)
		}
	}
	return finish(attempt(ctx, c, rc.WithToken(token), spec, fn))
}

// attempt runs fn once, or with backoff for idempotent operations. Only untyped
// errors are retried; contract errors are returned at once.
func attempt[T any](ctx context.Context, c *Client, rc *connectormodels.RequestContext, spec callSpec, fn func(context.Context, *connectormodels.RequestContext) (T, error)) (T, error) {
	if !spec.idempotent || c.retry.MaxAttempts <= 1 {
		return fn(ctx, rc)
	}

	var res T
	operation := func() error {
		var err error
		res, err = fn(ctx, rc)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying connector call",
			zap.String("op", spec.op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, c.backOff(ctx), notify, timer)
	return res, err
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		exp.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		exp.MaxInterval = c.retry.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxAttempts-1)), ctx)
}

func (c *Client) track(rc *connectormodels.RequestContext, spec callSpec, handle connectormodels.PollHandle) error {
	if spec.object == nil {
		return nil
	}
	if err := c.tracker.Track(session.KeyFor(rc, *spec.object), spec.op, handle); err != nil {
		return fmt.Errorf("failed to track %s: %w", handle, err)
	}
	c.metrics.Pending.WithLabelValues(c.name).Set(float64(c.tracker.Len()))
	return nil
}

// Await waits for a pending operation, polling the connector when it implements
// connector.StatusPoller and otherwise waiting for Resolve.
func (c *Client) Await(ctx context.Context, rc *connectormodels.RequestContext, handle connectormodels.PollHandle) (connectormodels.OperationStatus, error) {
	var poller connector.StatusPoller
	if p, ok := c.conn.(connector.StatusPoller); ok {
		poller = p
	}
	status, err := c.tracker.Await(ctx, rc, handle, poller)
	c.metrics.Pending.WithLabelValues(c.name).Set(float64(c.tracker.Len()))
	return status, err
}

// Resolve delivers a status pushed by the datasource.
func (c *Client) Resolve(ctx context.Context, handle connectormodels.PollHandle, status connectormodels.OperationStatus) error {
	err := c.tracker.Resolve(ctx, handle, status)
	c.metrics.Pending.WithLabelValues(c.name).Set(float64(c.tracker.Len()))
	return err
}

type readResult struct {
	body io.ReadCloser
	meta *connectormodels.ObjectMetaData
}

func (c *Client) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	spec := callSpec{op: connector.OpList, idempotent: true}
	return invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) ([]connectormodels.ObjectDefinition, error) {
		return c.conn.List(ctx, rc, query)
	})
}

func (c *Client) Open(ctx context.Context, rc *connectormodels.RequestContext, req connectormodels.OpenRequest) error {
	key := req.Key()
	spec := callSpec{op: connector.OpOpen, object: &key}
	_, err := invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) (struct{}, error) {
		return struct{}{}, c.conn.Open(ctx, rc, req)
	})
	return err
}

func (c *Client) RequestRead(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (connectormodels.Result, error) {
	key := obj.Key()
	spec := callSpec{op: connector.OpRequestRead, object: &key, idempotent: true}
	return invoke(ctx, c, rc, spec, func(r connectormodels.Result) connectormodels.Result { return r }, func(ctx context.Context, rc *connectormodels.RequestContext) (connectormodels.Result, error) {
		return c.conn.RequestRead(ctx, rc, obj)
	})
}

func (c *Client) ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (io.ReadCloser, *connectormodels.ObjectMetaData, error) {
	key := obj.Key()
	spec := callSpec{op: connector.OpReadWithMeta, object: &key, idempotent: true}
	res, err := invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) (readResult, error) {
		body, meta, err := c.conn.ReadWithMeta(ctx, rc, obj)
		return readResult{body: body, meta: meta}, err
	})
	return res.body, res.meta, err
}

func (c *Client) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return c.save(ctx, rc, connector.OpSave, obj, req, c.conn.Save)
}

func (c *Client) SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return c.save(ctx, rc, connector.OpSaveAndDone, obj, req, c.conn.SaveAndDone)
}

type saveFunc func(context.Context, *connectormodels.RequestContext, connectormodels.ObjectDefinition, connectormodels.SaveRequest) (connectormodels.SaveResult, error)

func (c *Client) save(ctx context.Context, rc *connectormodels.RequestContext, op string, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest, fn saveFunc) (connectormodels.SaveResult, error) {
	key := obj.Key()
	spec := callSpec{op: op, object: &key}
	if c.refresher != nil {
		replayable, rewind, err := replayableRequest(req)
		if err != nil {
			return connectormodels.SaveResult{}, err
		}
		req, spec.rewind = replayable, rewind
	}
	return invoke(ctx, c, rc, spec, func(r connectormodels.SaveResult) connectormodels.Result { return r.Result }, func(ctx context.Context, rc *connectormodels.RequestContext) (connectormodels.SaveResult, error) {
		return fn(ctx, rc, obj, req)
	})
}

func (c *Client) Discard(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) error {
	key := obj.Key()
	spec := callSpec{op: connector.OpDiscard, object: &key}
	_, err := invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) (struct{}, error) {
		return struct{}{}, c.conn.Discard(ctx, rc, obj)
	})
	return err
}

func (c *Client) SendMessage(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, msg connectormodels.Message) error {
	key := obj.Key()
	spec := callSpec{op: connector.OpSendMessage, object: &key}
	_, err := invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) (struct{}, error) {
		return struct{}{}, c.conn.SendMessage(ctx, rc, obj, msg)
	})
	return err
}

func (c *Client) UpdateFileLifecycle(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, status connectormodels.FileStatus) error {
	key := obj.Key()
	spec := callSpec{op: connector.OpUpdateFileLifecycle, object: &key}
	_, err := invoke(ctx, c, rc, spec, nil, func(ctx context.Context, rc *connectormodels.RequestContext) (struct{}, error) {
		return struct{}{}, c.conn.UpdateFileLifecycle(ctx, rc, obj, status)
	})
	return err
}

// replayableRequest makes every stream of req seekable, buffering the ones that are
// not, and returns a function rewinding them to their current offsets.
func replayableRequest(req connectormodels.SaveRequest) (connectormodels.SaveRequest, func() error, error) {
	type mark struct {
		s      io.Seeker
		offset int64
	}
	var marks []mark

	replayable := func(r io.Reader) (io.Reader, error) {
		if r == nil {
			return nil, nil
		}
		s, ok := r.(io.ReadSeeker)
		if !ok {
			buf, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("failed to buffer content: %w", err)
			}
			s = bytes.NewReader(buf)
		}
		offset, err := s.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("failed to mark content offset: %w", err)
		}
		marks = append(marks, mark{s: s, offset: offset})
		return s, nil
	}

	out := connectormodels.SaveRequest{}
	var err error
	if out.Content, err = replayable(req.Content); err != nil {
		return req, nil, err
	}
	for _, a := range req.Assets {
		if a.Content, err = replayable(a.Content); err != nil {
			return req, nil, err
		}
		out.Assets = append(out.Assets, a)
	}

	rewind := func() error {
		for _, m := range marks {
			if _, err := m.s.Seek(m.offset, io.SeekStart); err != nil {
				return err
			}
		}
		return nil
	}
	return out, rewind, nil
}

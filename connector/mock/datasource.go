/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package mock provides an in-memory fake datasource implementing connector.V2 for testing
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
)

var (
	_ connector.V2             = (*Datasource)(nil)
	_ connector.StatusPoller   = (*Datasource)(nil)
	_ connector.SchemaProvider = (*Datasource)(nil)
)

// StoredAsset is an asset as the fake datasource keeps it.
type StoredAsset struct {
	ID       string
	ItemType string
	Name     string
	Content  []byte
}

type revision struct {
	def       connectormodels.ObjectDefinition
	content   []byte
	assets    map[string]StoredAsset
	committed bool
	seq       int64
	created   time.Time
	lifecycle connectormodels.FileStatus
	messages  []connectormodels.Message
}

type pendingOp struct {
	op         string
	key        connectormodels.ObjectKey
	content    []byte
	hasContent bool
	assets     []StoredAsset
	status     connectormodels.OperationStatus
}

// Datasource is a fake PLM datasource. Locks are owned by the caller principal,
// Save and SaveAndDone require the caller to hold the lock, and SaveAndDone commits
// the revision so it can no longer be written.
type Datasource struct {
	mu          sync.RWMutex
	objects     map[connectormodels.ObjectKey]*revision
	locks       map[connectormodels.ObjectKey]string
	pending     map[connectormodels.PollHandle]*pendingOp
	pendingSave map[connectormodels.ObjectKey]connectormodels.PollHandle
	calls       map[string]int
	async       bool
	seq         int64
	now         func() time.Time

	listError    error
	openError    error
	readError    error
	saveError    error
	discardError error
}

// New creates an empty fake datasource
func New() *Datasource {
	return &Datasource{
		objects:     make(map[connectormodels.ObjectKey]*revision),
		locks:       make(map[connectormodels.ObjectKey]string),
		pending:     make(map[connectormodels.PollHandle]*pendingOp),
		pendingSave: make(map[connectormodels.ObjectKey]connectormodels.PollHandle),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// WithClock sets the time source used for created and updated timestamps
func (d *Datasource) WithClock(now func() time.Time) *Datasource {
	d.now = now
	return d
}

// WithListError makes List return an error
func (d *Datasource) WithListError(err error) *Datasource {
	d.listError = err
	return d
}

// WithOpenError makes Open return an error
func (d *Datasource) WithOpenError(err error) *Datasource {
	d.openError = err
	return d
}

// WithReadError makes RequestRead and ReadWithMeta return an error
func (d *Datasource) WithReadError(err error) *Datasource {
	d.readError = err
	return d
}

// WithSaveError makes Save and SaveAndDone return an error
func (d *Datasource) WithSaveError(err error) *Datasource {
	d.saveError = err
	return d
}

// WithDiscardError makes Discard return an error
func (d *Datasource) WithDiscardError(err error) *Datasource {
	d.discardError = err
	return d
}

// SetAsync switches the datasource between synchronous and out-of-band completion
func (d *Datasource) SetAsync(async bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.async = async
}

// ConfigSchema accepts any configuration object
func (d *Datasource) ConfigSchema() string {
	return `{"type": "object"}`
}

// List returns one page of objects matching the query
func (d *Datasource) List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error) {
	d.record(connector.OpList)
	if d.listError != nil {
		return nil, d.listError
	}

	query = query.Normalize()
	if err := query.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make(map[string]bool, len(query.IDs))
	for _, id := range query.IDs {
		ids[id] = true
	}

	latest := make(map[string]*revision)
	matched := make([]*revision, 0, len(d.objects))
	for _, rev := range d.objects {
		if !d.matches(rev, query, ids) {
			continue
		}
		matched = append(matched, rev)
		if cur, ok := latest[rev.def.ID]; !ok || rev.seq > cur.seq {
			latest[rev.def.ID] = rev
		}
	}

	defs := make([]connectormodels.ObjectDefinition, 0, len(matched))
	for _, rev := range matched {
		if query.Search != nil && query.Search.LatestRevision && latest[rev.def.ID] != rev {
			continue
		}
		defs = append(defs, rev.def)
	}

	connectormodels.SortDefinitions(defs, query.Sort)
	return connectormodels.Paginate(defs, query.Page, query.PageSize), nil
}

func (d *Datasource) matches(rev *revision, query connectormodels.Query, ids map[string]bool) bool {
	if len(ids) > 0 && !ids[rev.def.ID] {
		return false
	}
	if query.Type != nil && (rev.def.Type == nil || *rev.def.Type != *query.Type) {
		return false
	}
	if s := query.Search; s != nil {
		if s.ID != "" && s.ID != rev.def.ID {
			return false
		}
		if s.Revision != "" && s.Revision != rev.def.Revision {
			return false
		}
		if s.Name != "" && !strings.Contains(strings.ToLower(rev.def.Name), strings.ToLower(s.Name)) {
			return false
		}
	}
	return true
}

// Open locks the revision for the caller. New documents get an empty placeholder.
func (d *Datasource) Open(ctx context.Context, rc *connectormodels.RequestContext, req connectormodels.OpenRequest) error {
	d.record(connector.OpOpen)
	if d.openError != nil {
		return d.openError
	}
	if err := req.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := req.Key()
	holder := rc.Principal()
	if current, locked := d.locks[key]; locked {
		if current == holder {
			return nil
		}
		return errors.NewLockConflictError(key.ID, key.Revision, current)
	}

	if _, exists := d.objects[key]; !exists {
		if !req.IsNew {
			return errors.NewNotFoundError("Object", key.String())
		}
		d.insert(connectormodels.ObjectDefinition{ID: req.ID, Name: req.Name, Revision: req.Revision}, nil)
	}

	d.locks[key] = holder
	return nil
}

// RequestRead prepares content. In async mode the preparation completes out of band.
func (d *Datasource) RequestRead(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (connectormodels.Result, error) {
	d.record(connector.OpRequestRead)
	if d.readError != nil {
		return connectormodels.Result{}, d.readError
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := obj.Key()
	if _, exists := d.objects[key]; !exists {
		return connectormodels.Result{}, errors.NewNotFoundError("Object", key.String())
	}
	if !d.async {
		return connectormodels.Completed(), nil
	}
	handle := d.stage(&pendingOp{op: connector.OpRequestRead, key: key})
	return connectormodels.Pending(handle), nil
}

// ReadWithMeta returns a copy of the stored content and its metadata
func (d *Datasource) ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (io.ReadCloser, *connectormodels.ObjectMetaData, error) {
	d.record(connector.OpReadWithMeta)
	if d.readError != nil {
		return nil, nil, d.readError
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	key := obj.Key()
	rev, exists := d.objects[key]
	if !exists {
		return nil, nil, errors.NewNotFoundError("Object", key.String())
	}

	content := append([]byte(nil), rev.content...)
	return io.NopCloser(bytes.NewReader(content)), rev.meta(), nil
}

// Save stores content and assets and keeps the lock
func (d *Datasource) Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return d.save(rc, connector.OpSave, obj, req)
}

// SaveAndDone stores content and assets, commits the revision and releases the lock
func (d *Datasource) SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	return d.save(rc, connector.OpSaveAndDone, obj, req)
}

func (d *Datasource) save(rc *connectormodels.RequestContext, op string, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error) {
	d.record(op)
	if d.saveError != nil {
		return connectormodels.SaveResult{}, d.saveError
	}
	if err := obj.Validate(); err != nil {
		return connectormodels.SaveResult{}, err
	}

	// streams are consumed inside the call, even when the write completes later
	staged := &pendingOp{op: op, key: obj.Key()}
	if req.Content != nil {
		content, err := io.ReadAll(req.Content)
		if err != nil {
			return connectormodels.SaveResult{}, fmt.Errorf("failed to read content: %w", err)
		}
		staged.content, staged.hasContent = content, true
	}
	for _, a := range req.Assets {
		stored := StoredAsset{ID: a.ID, ItemType: a.ItemType, Name: a.Name}
		if a.Content != nil {
			content, err := io.ReadAll(a.Content)
			if err != nil {
				return connectormodels.SaveResult{}, fmt.Errorf("failed to read asset %s: %w", a.ID, err)
			}
			stored.Content = content
		}
		staged.assets = append(staged.assets, stored)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := obj.Key()
	rev, exists := d.objects[key]
	if !exists {
		return connectormodels.SaveResult{}, errors.NewNotFoundError("Object", key.String())
	}
	holder, locked := d.locks[key]
	if !locked {
		return connectormodels.SaveResult{}, errors.NewInvalidStateError(key.ID, key.Revision, "CLOSED", op)
	}
	if holder != rc.Principal() {
		return connectormodels.SaveResult{}, errors.NewLockConflictError(key.ID, key.Revision, holder)
	}
	if rev.committed {
		return connectormodels.SaveResult{}, errors.NewInvalidStateError(key.ID, key.Revision, "COMMITTED", op)
	}
	if _, busy := d.pendingSave[key]; busy {
		return connectormodels.SaveResult{}, errors.NewInvalidStateError(key.ID, key.Revision, "PENDING_SAVE", op)
	}

	if d.async {
		handle := d.stage(staged)
		d.pendingSave[key] = handle
		return connectormodels.SaveResult{Result: connectormodels.Pending(handle)}, nil
	}

	d.apply(staged)
	def := rev.def
	return connectormodels.SaveResult{Result: connectormodels.Completed(), Object: &def}, nil
}

// Discard releases the caller's lock without persisting anything
func (d *Datasource) Discard(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) error {
	d.record(connector.OpDiscard)
	if d.discardError != nil {
		return d.discardError
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := obj.Key()
	holder, locked := d.locks[key]
	if !locked {
		return nil
	}
	if holder != rc.Principal() {
		return errors.NewLockConflictError(key.ID, key.Revision, holder)
	}
	if _, busy := d.pendingSave[key]; busy {
		return errors.NewInvalidStateError(key.ID, key.Revision, "PENDING_SAVE", connector.OpDiscard)
	}
	delete(d.locks, key)
	return nil
}

// SendMessage records the message against the object
func (d *Datasource) SendMessage(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, msg connectormodels.Message) error {
	d.record(connector.OpSendMessage)
	if msg.Type == "" {
		return errors.NewBadRequestError("message type is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rev, exists := d.objects[obj.Key()]
	if !exists {
		return errors.NewNotFoundError("Object", obj.Key().String())
	}
	rev.messages = append(rev.messages, msg)
	return nil
}

// UpdateFileLifecycle records the new lifecycle status
func (d *Datasource) UpdateFileLifecycle(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, status connectormodels.FileStatus) error {
	d.record(connector.OpUpdateFileLifecycle)
	if !status.Valid() {
		return errors.NewBadRequestError(fmt.Sprintf("unknown file status %q", status))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rev, exists := d.objects[obj.Key()]
	if !exists {
		return errors.NewNotFoundError("Object", obj.Key().String())
	}
	rev.lifecycle = status
	return nil
}

// PollStatus reports the status of a pending operation
func (d *Datasource) PollStatus(ctx context.Context, rc *connectormodels.RequestContext, handle connectormodels.PollHandle) (connectormodels.OperationStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	op, exists := d.pending[handle]
	if !exists {
		return connectormodels.OperationStatus{}, errors.NewNotFoundError("Operation", string(handle))
	}
	return op.status, nil
}

// Complete finishes a pending operation, applying staged writes
func (d *Datasource) Complete(handle connectormodels.PollHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, err := d.takePending(handle)
	if err != nil {
		return err
	}
	if op.op != connector.OpRequestRead {
		d.apply(op)
	}
	op.status = connectormodels.OperationStatus{
		State: connectormodels.OperationCompleted,
		Meta:  d.objects[op.key].meta(),
	}
	return nil
}

// Fail finishes a pending operation without applying it. A failed save keeps the lock.
func (d *Datasource) Fail(handle connectormodels.PollHandle, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, err := d.takePending(handle)
	if err != nil {
		return err
	}
	op.status = connectormodels.OperationStatus{State: connectormodels.OperationFailed, Reason: reason}
	return nil
}

func (d *Datasource) takePending(handle connectormodels.PollHandle) (*pendingOp, error) {
	op, exists := d.pending[handle]
	if !exists {
		return nil, errors.NewNotFoundError("Operation", string(handle))
	}
	if op.status.Done() {
		return nil, errors.NewInvalidStateError(op.key.ID, op.key.Revision, string(op.status.State), "complete")
	}
	if d.pendingSave[op.key] == handle {
		delete(d.pendingSave, op.key)
	}
	return op, nil
}

// stage and apply must be called with the write lock held

func (d *Datasource) stage(op *pendingOp) connectormodels.PollHandle {
	handle := connectormodels.PollHandle(uuid.NewString())
	op.status = connectormodels.OperationStatus{State: connectormodels.OperationPending}
	d.pending[handle] = op
	return handle
}

func (d *Datasource) apply(op *pendingOp) {
	rev := d.objects[op.key]
	if rev == nil {
		return
	}
	if op.hasContent {
		rev.content = op.content
		size := int64(len(op.content))
		rev.def.Size = &size
	}
	if len(op.assets) > 0 && rev.assets == nil {
		rev.assets = make(map[string]StoredAsset, len(op.assets))
	}
	for _, a := range op.assets {
		rev.assets[a.ID] = a
	}
	updated := strfmt.DateTime(d.now().UTC())
	rev.def.Updated = &updated

	if op.op == connector.OpSaveAndDone {
		rev.committed = true
		delete(d.locks, op.key)
	}
}

func (d *Datasource) insert(def connectormodels.ObjectDefinition, content []byte) *revision {
	d.seq++
	now := d.now().UTC()
	if def.Updated == nil {
		updated := strfmt.DateTime(now)
		def.Updated = &updated
	}
	size := int64(len(content))
	def.Size = &size

	rev := &revision{def: def, content: content, seq: d.seq, created: now}
	d.objects[def.Key()] = rev
	return rev
}

func (d *Datasource) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
}

func (r *revision) meta() *connectormodels.ObjectMetaData {
	if r == nil {
		return nil
	}
	created := strfmt.DateTime(r.created)
	return &connectormodels.ObjectMetaData{
		StorageMetaData: connectormodels.StorageMetaData{
			Created: &created,
			ID:      r.def.ID,
			Name:    r.def.Name,
			Path:    "/" + r.def.ID + "/" + r.def.Revision,
			Size:    r.def.Size,
			Updated: r.def.Updated,
		},
		Revision:   r.def.Revision,
		ExternalID: r.def.ExternalID,
	}
}

// Helper methods for testing

// Seed inserts an editable revision with the given content
func (d *Datasource) Seed(def connectormodels.ObjectDefinition, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insert(def, append([]byte(nil), content...))
}

// LockHolder returns who holds the lock on key, if anyone
func (d *Datasource) LockHolder(key connectormodels.ObjectKey) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	holder, ok := d.locks[key]
	return holder, ok
}

// LockHeld reports whether anyone holds the lock on key
func (d *Datasource) LockHeld(key connectormodels.ObjectKey) bool {
	_, ok := d.LockHolder(key)
	return ok
}

// Committed reports whether the revision was committed by SaveAndDone
func (d *Datasource) Committed(key connectormodels.ObjectKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rev, ok := d.objects[key]
	return ok && rev.committed
}

// Assets returns the assets stored with a revision, sorted by id
func (d *Datasource) Assets(key connectormodels.ObjectKey) []StoredAsset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rev, ok := d.objects[key]
	if !ok {
		return nil
	}
	out := make([]StoredAsset, 0, len(rev.assets))
	for _, a := range rev.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Messages returns the messages sent about a revision
func (d *Datasource) Messages(key connectormodels.ObjectKey) []connectormodels.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rev, ok := d.objects[key]; ok {
		return append([]connectormodels.Message(nil), rev.messages...)
	}
	return nil
}

// Lifecycle returns the lifecycle status of a revision
func (d *Datasource) Lifecycle(key connectormodels.ObjectKey) connectormodels.FileStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rev, ok := d.objects[key]; ok {
		return rev.lifecycle
	}
	return ""
}

// PendingHandles returns the handles still waiting for completion
func (d *Datasource) PendingHandles() []connectormodels.PollHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []connectormodels.PollHandle
	for h, op := range d.pending {
		if !op.status.Done() {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Calls returns how many times an operation was invoked
func (d *Datasource) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// Count returns the number of stored revisions
func (d *Datasource) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// Clear removes all data, locks and pending operations
func (d *Datasource) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = make(map[connectormodels.ObjectKey]*revision)
	d.locks = make(map[connectormodels.ObjectKey]string)
	d.pending = make(map[connectormodels.PollHandle]*pendingOp)
	d.pendingSave = make(map[connectormodels.ObjectKey]connectormodels.PollHandle)
}

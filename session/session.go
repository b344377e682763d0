/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
)

// State is the lifecycle state of one (workspace, id, revision) editing session.
type State string

const (
	StateClosed      State = "CLOSED"
	StateOpen        State = "OPEN"
	StatePendingSave State = "PENDING_SAVE"
	StateDiscarded   State = "DISCARDED"
)

// Operation drives a state transition.
type Operation string

const (
	OpOpen        Operation = "open"
	OpSave        Operation = "save"
	OpSaveAndDone Operation = "saveAndDone"
	OpDiscard     Operation = "discard"
	OpComplete    Operation = "complete"
	OpFail        Operation = "fail"
)

// Next returns the state reached by applying op to current. final is only consulted
// for OpComplete and says whether the pending write was a saveAndDone.
// A missing session is CLOSED.
func Next(current State, op Operation, final bool) (State, bool) {
	if current == "" {
		current = StateClosed
	}

	switch op {
	case OpOpen:
		switch current {
		case StateClosed, StateDiscarded, StateOpen:
			return StateOpen, true
		}
	case OpSave, OpSaveAndDone:
		if current == StateOpen {
			return StatePendingSave, true
		}
	case OpDiscard:
		if current == StateOpen {
			return StateDiscarded, true
		}
	case OpComplete:
		if current == StatePendingSave {
			if final {
				return StateClosed, true
			}
			return StateOpen, true
		}
	case OpFail:
		if current == StatePendingSave {
			return StateOpen, true
		}
	}
	return current, false
}

// Key identifies a session.
type Key struct {
	WorkspaceID int64
	ObjectID    string
	Revision    string
}

// KeyFor scopes an object handle to the caller's workspace.
func KeyFor(rc *connectormodels.RequestContext, obj connectormodels.ObjectKey) Key {
	return Key{WorkspaceID: rc.Workspace(), ObjectID: obj.ID, Revision: obj.Revision}
}

// Object returns the datasource handle of the session.
func (k Key) Object() connectormodels.ObjectKey {
	return connectormodels.ObjectKey{ID: k.ObjectID, Revision: k.Revision}
}

func (k Key) String() string {
	return strconv.FormatInt(k.WorkspaceID, 10) + "/" + k.ObjectID + "@" + k.Revision
}

// inFlightID identifies the session in the guard's in-flight map. Unlike String it
// stays unique when an id or revision contains the separators.
func (k Key) inFlightID() string {
	return strconv.FormatInt(k.WorkspaceID, 10) + "/" + strconv.Quote(k.ObjectID) + strconv.Quote(k.Revision)
}

// Record is the persisted state of a session. Version increases by one on every
// successful Put and is used for optimistic concurrency.
type Record struct {
	WorkspaceID int64                      `json:"workspaceId"`
	ObjectID    string                     `json:"objectId"`
	Revision    string                     `json:"revision"`
	State       State                      `json:"state"`
	Version     int64                      `json:"version"`
	Holder      string                     `json:"holder,omitempty"`
	UserID      int64                      `json:"userId,omitempty"`
	Handle      connectormodels.PollHandle `json:"handle,omitempty"`
	Final       bool                       `json:"final,omitempty"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
}

// Key returns the record's session key.
func (r Record) Key() Key {
	return Key{WorkspaceID: r.WorkspaceID, ObjectID: r.ObjectID, Revision: r.Revision}
}

// Apply moves the record to the state reached by op.
func (r *Record) Apply(op Operation) error {
	next, ok := Next(r.State, op, r.Final)
	if !ok {
		state := r.State
		if state == "" {
			state = StateClosed
		}
		return errors.NewInvalidStateError(r.ObjectID, r.Revision, string(state), string(op))
	}
	r.State = next
	return nil
}

// Locked reports whether the session currently holds the datasource lock.
func (r *Record) Locked() bool {
	return r != nil && (r.State == StateOpen || r.State == StatePendingSave)
}

func (r Record) String() string {
	return fmt.Sprintf("%s[%s v%d]", r.Key(), r.State, r.Version)
}

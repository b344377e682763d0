/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package connectormodels

// PollHandle identifies an operation the datasource finishes out of band.
type PollHandle string

// Completion says whether an operation finished inside the call.
type Completion string

const (
	CompletionDone    Completion = "completed"
	CompletionPending Completion = "pending"
)

// Result is returned by operations that may complete asynchronously.
// A pending result carries the handle the host polls or waits on.
type Result struct {
	Completion Completion `json:"completion"`
	Handle     PollHandle `json:"handle,omitempty"`
}

// Completed is the result of an operation that finished synchronously.
func Completed() Result {
	return Result{Completion: CompletionDone}
}

// Pending is the result of an operation the datasource finishes later.
func Pending(handle PollHandle) Result {
	return Result{Completion: CompletionPending, Handle: handle}
}

// IsPending reports whether the host must wait for an out-of-band status update.
func (r Result) IsPending() bool {
	return r.Completion == CompletionPending
}

// SaveResult is returned by Save and SaveAndDone. Object is the datasource's view of
// the object after the write, when it has one.
type SaveResult struct {
	Result
	Object *ObjectDefinition `json:"object,omitempty"`
}

// OperationState is the state reported for a pending operation.
type OperationState string

const (
	OperationPending   OperationState = "pending"
	OperationCompleted OperationState = "completed"
	OperationFailed    OperationState = "failed"
)

// OperationStatus is an out-of-band status update for a pending operation.
type OperationStatus struct {
	State  OperationState  `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Meta   *ObjectMetaData `json:"meta,omitempty"`
}

// Done reports whether the operation left the pending state.
func (s OperationStatus) Done() bool {
	return s.State == OperationCompleted || s.State == OperationFailed
}

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package connector

import (
	"context"
	"io"

	"github.com/suparena/plmconnector/connectormodels"
)

// Generation names a contract generation.
type Generation string

const (
	GenerationV1 Generation = "v1"
	GenerationV2 Generation = "v2"
)

// V1 is the older PLM connector contract. Mutating calls take the raw
// (id, revision) pair and carry no payload: the PLM system pulls content itself.
type V1 interface {
	// List returns the objects matching the query, one page at a time.
	List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error)

	// Open tells the PLM system the document was opened for editing.
	// It typically locks the document on the PLM side.
	Open(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error

	// ReadWithMeta returns the object content and its metadata. The caller closes the reader.
	ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) (io.ReadCloser, *connectormodels.ObjectMetaData, error)

	// Save tells the PLM system the document is ready to be saved. The host keeps the
	// document in PENDING_SAVE until the PLM side finishes.
	Save(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error

	// SaveAndDone is Save followed by a commit of the editing session.
	SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error

	// Discard drops the host-side changes and typically releases the PLM lock.
	Discard(ctx context.Context, rc *connectormodels.RequestContext, id, revision string) error
}

// V2 is the EV connector contract. Mutating calls take a full object definition,
// saves carry content and attached assets, and operations the datasource finishes
// later return a pending Result instead of a boolean.
type V2 interface {
	// List returns the objects matching the query, one page at a time. Read-only and retryable.
	List(ctx context.Context, rc *connectormodels.RequestContext, query connectormodels.Query) ([]connectormodels.ObjectDefinition, error)

	// Open notifies the datasource that the document is checked out, usually taking a lock.
	// When req.IsNew is set the datasource should create an empty placeholder.
	Open(ctx context.Context, rc *connectormodels.RequestContext, req connectormodels.OpenRequest) error

	// RequestRead asks the datasource to prepare the binary content for transfer.
	RequestRead(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (connectormodels.Result, error)

	// ReadWithMeta returns the object content and its metadata. The caller must
	// consume or close the reader.
	ReadWithMeta(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) (io.ReadCloser, *connectormodels.ObjectMetaData, error)

	// Save pushes edited content and assets without finalizing the editing session.
	Save(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error)

	// SaveAndDone pushes content and assets and commits the editing session.
	SaveAndDone(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, req connectormodels.SaveRequest) (connectormodels.SaveResult, error)

	// Discard releases any lock taken by Open without persisting changes.
	Discard(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition) error

	// SendMessage forwards a host notification about obj to the datasource.
	SendMessage(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, msg connectormodels.Message) error

	// UpdateFileLifecycle moves obj to a new lifecycle status in the PDM system.
	UpdateFileLifecycle(ctx context.Context, rc *connectormodels.RequestContext, obj connectormodels.ObjectDefinition, status connectormodels.FileStatus) error
}

// StatusPoller is implemented by connectors that can report the status of a
// pending operation on request.
type StatusPoller interface {
	PollStatus(ctx context.Context, rc *connectormodels.RequestContext, handle connectormodels.PollHandle) (connectormodels.OperationStatus, error)
}

// SchemaProvider is implemented by connectors that declare the JSON Schema of their
// connector configuration.
type SchemaProvider interface {
	ConfigSchema() string
}

// IsMutating reports whether an operation name changes datasource state.
func IsMutating(op string) bool {
	switch op {
	case OpOpen, OpSave, OpSaveAndDone, OpDiscard:
		return true
	}
	return false
}

// Operation names, used for logging, metrics and session bookkeeping.
const (
	OpList                = "list"
	OpOpen                = "open"
	OpRequestRead         = "requestRead"
	OpReadWithMeta        = "readWithMeta"
	OpSave                = "save"
	OpSaveAndDone         = "saveAndDone"
	OpDiscard             = "discard"
	OpSendMessage         = "sendMessage"
	OpUpdateFileLifecycle = "updateFileLifecycle"
)

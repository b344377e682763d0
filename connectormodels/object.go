/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package connectormodels

import (
	"io"

	"github.com/go-openapi/strfmt"

	"github.com/suparena/plmconnector/errors"
)

// ObjectID is an opaque datasource identifier.
type ObjectID = string

// ObjectType is the kind of datasource object.
type ObjectType string

const (
	ObjectTypeAsset3D ObjectType = "ASSET_3D"
	ObjectTypeImage   ObjectType = "IMAGE"
	ObjectTypeTable   ObjectType = "TABLE"
	ObjectTypeEVDoc   ObjectType = "EVDOC"
)

// Valid reports whether t is a known object type.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectTypeAsset3D, ObjectTypeImage, ObjectTypeTable, ObjectTypeEVDoc:
		return true
	}
	return false
}

// ObjectKey is the (id, revision) pair every read, write and discard is scoped to.
type ObjectKey struct {
	ID       ObjectID
	Revision string
}

func (k ObjectKey) String() string {
	return k.ID + "@" + k.Revision
}

// ObjectDefinition describes one revision of a datasource object.
type ObjectDefinition struct {
	ID       ObjectID `json:"id"`
	Name     string   `json:"name"`
	Revision string   `json:"revision"`

	// Size in bytes
	Size *int64 `json:"size,omitempty"`

	// Updated date in UTC
	Updated *strfmt.DateTime `json:"updated,omitempty"`

	Type          *ObjectType `json:"type,omitempty"`
	FailureReason string      `json:"reason,omitempty"`
	ExternalID    string      `json:"external_id,omitempty"`
}

// Key returns the concurrency handle of the definition.
func (o ObjectDefinition) Key() ObjectKey {
	return ObjectKey{ID: o.ID, Revision: o.Revision}
}

// Validate requires the (id, revision) handle.
func (o ObjectDefinition) Validate() error {
	if o.ID == "" {
		return errors.NewValidationError("id", "object id is required")
	}
	if o.Revision == "" {
		return errors.NewValidationError("revision", "object revision is required")
	}
	if o.Type != nil && !o.Type.Valid() {
		return errors.NewValidationError("type", "unknown object type "+string(*o.Type))
	}
	return nil
}

// StorageMetaData is the generic storage record of an object.
type StorageMetaData struct {
	// Created date in UTC
	Created *strfmt.DateTime `json:"created,omitempty"`
	Folder  bool             `json:"folder"`
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Path    string           `json:"path"`
	Size    *int64           `json:"size,omitempty"`
	Updated *strfmt.DateTime `json:"updated,omitempty"`
}

// ObjectMetaData extends StorageMetaData with the connector revision.
type ObjectMetaData struct {
	StorageMetaData
	Revision   string `json:"revision"`
	ExternalID string `json:"external_id,omitempty"`
}

// Asset is a secondary item, such as an image, saved together with a primary object.
type Asset struct {
	ID       string    `json:"id"`
	ItemType string    `json:"item_type"`
	Name     string    `json:"name,omitempty"`
	Content  io.Reader `json:"-"`
}

// OpenRequest carries the arguments of a V2 open call.
type OpenRequest struct {
	ID       ObjectID
	Revision string

	// Name matters when the document is first created on the host side.
	Name string

	// IsNew asks the datasource to create an empty placeholder so later saves
	// have something to write to.
	IsNew bool
}

// Key returns the (id, revision) handle of the request.
func (r OpenRequest) Key() ObjectKey {
	return ObjectKey{ID: r.ID, Revision: r.Revision}
}

// Validate requires the (id, revision) handle and a name for new documents.
func (r OpenRequest) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("id", "object id is required")
	}
	if r.Revision == "" {
		return errors.NewValidationError("revision", "object revision is required")
	}
	if r.IsNew && r.Name == "" {
		return errors.NewValidationError("name", "a new document needs a name")
	}
	return nil
}

// SaveRequest carries the payload of a V2 save call. Both fields are optional.
type SaveRequest struct {
	Content io.Reader
	Assets  []Asset
}

// Message is a free-form notification sent to the datasource about an object.
type Message struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// FileStatus is the lifecycle status of a file in the PDM system.
type FileStatus string

const (
	FileStatusInWork   FileStatus = "IN_WORK"
	FileStatusInReview FileStatus = "IN_REVIEW"
	FileStatusReleased FileStatus = "RELEASED"
	FileStatusObsolete FileStatus = "OBSOLETE"
)

// Valid reports whether s is a known status.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusInWork, FileStatusInReview, FileStatusReleased, FileStatusObsolete:
		return true
	}
	return false
}

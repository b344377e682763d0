/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package connectormodels

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/suparena/plmconnector/errors"
)

// ContextType tags who is making a call. Only user calls exist today.
type ContextType string

const (
	ContextTypeUser ContextType = "user"
)

// UserEntity is the partial user record the host attaches to a call.
type UserEntity struct {
	ID int64 `json:"id"`
}

// RequestContext is built by the host before every connector call and never
// modified afterwards.
type RequestContext struct {
	CenterID    *int64 `json:"center_id,omitempty"`
	WorkspaceID *int64 `json:"workspace_id,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`

	// ConnectorConfig holds everything needed to reach the datasource, for example a
	// database name or a base URL. It is authored by a workspace administrator and
	// validated against the connector's schema when the connector is registered.
	ConnectorConfig map[string]any `json:"connector_config"`

	// Token is the OAuth token used to reach the datasource.
	Token string `json:"token,omitempty"`

	Type ContextType `json:"type"`
	User *UserEntity `json:"user,omitempty"`

	Logger *zap.Logger `json:"-"`
}

// Validate checks the fields every connector relies on.
func (rc *RequestContext) Validate() error {
	if rc == nil {
		return errors.NewValidationError("context", "request context is required")
	}
	if rc.Type != ContextTypeUser {
		return errors.NewValidationError("type", fmt.Sprintf("unsupported context type %q", rc.Type))
	}
	return nil
}

// WithToken returns a copy of the context carrying a new token.
func (rc *RequestContext) WithToken(token string) *RequestContext {
	cp := *rc
	cp.Token = token
	return &cp
}

// Workspace returns the workspace id or 0 when the call is not workspace scoped.
func (rc *RequestContext) Workspace() int64 {
	if rc == nil || rc.WorkspaceID == nil {
		return 0
	}
	return *rc.WorkspaceID
}

// Principal identifies the caller for lock ownership.
func (rc *RequestContext) Principal() string {
	if rc == nil || rc.User == nil {
		return "anonymous"
	}
	return "user:" + strconv.FormatInt(rc.User.ID, 10)
}

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package plmconnector

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/suparena/plmconnector/config"
	"github.com/suparena/plmconnector/connector"
	"github.com/suparena/plmconnector/connectormodels"
	"github.com/suparena/plmconnector/errors"
)

// Registration is a connector registered under a name together with the settings
// a workspace administrator configured for it.
type Registration[C any] struct {
	Name       string
	Generation connector.Generation
	Connector  C
	Settings   map[string]any
}

// NewRequestContext builds the context of a call made by userID in workspaceID.
// The settings are copied into ConnectorConfig.
func (r Registration[C]) NewRequestContext(userID, workspaceID int64, token string) *connectormodels.RequestContext {
	ws := workspaceID
	return &connectormodels.RequestContext{
		WorkspaceID:     &ws,
		ConnectorConfig: maps.Clone(r.Settings),
		Token:           token,
		Type:            connectormodels.ContextTypeUser,
		User:            &connectormodels.UserEntity{ID: userID},
	}
}

// Registry holds the connectors of one contract generation.
type Registry[C any] struct {
	mu         sync.RWMutex
	generation connector.Generation
	entries    map[string]Registration[C]
}

// NewRegistry creates an empty registry for connectors of generation gen.
func NewRegistry[C any](gen connector.Generation) *Registry[C] {
	return &Registry[C]{
		generation: gen,
		entries:    make(map[string]Registration[C]),
	}
}

// Generation returns the contract generation of the registry.
func (r *Registry[C]) Generation() connector.Generation {
	return r.generation
}

// Register adds conn under name. When conn declares a configuration schema the
// settings must satisfy it.
func (r *Registry[C]) Register(name string, conn C, settings map[string]any) error {
	if name == "" {
		return errors.NewValidationError("name", "connector name is required")
	}
	if provider, ok := any(conn).(connector.SchemaProvider); ok {
		schema, err := config.NewSchema(provider.ConfigSchema())
		if err != nil {
			return fmt.Errorf("connector %q: %w", name, err)
		}
		if err := schema.Validate(settings); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.NewAlreadyExistsError("Connector", name)
	}
	r.entries[name] = Registration[C]{
		Name:       name,
		Generation: r.generation,
		Connector:  conn,
		Settings:   maps.Clone(settings),
	}
	return nil
}

// Get returns the registration stored under name.
func (r *Registry[C]) Get(name string) (Registration[C], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.entries[name]
	if !exists {
		return Registration[C]{}, errors.NewNotFoundError("Connector", name)
	}
	return reg, nil
}

// Remove deletes the registration stored under name.
func (r *Registry[C]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		return errors.NewNotFoundError("Connector", name)
	}
	delete(r.entries, name)
	return nil
}

// List returns the registered names in order.
func (r *Registry[C]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[C]) summaries() []Summary {
	names := r.List()
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		out = append(out, Summary{Name: name, Generation: r.generation})
	}
	return out
}

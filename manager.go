/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package plmconnector

import (
	"reflect"
	"sort"
	"sync"

	"github.com/suparena/plmconnector/connector"
)

// Summary names one registration regardless of its connector type.
type Summary struct {
	Name       string               `json:"name"`
	Generation connector.Generation `json:"generation"`
}

type summarizer interface {
	summaries() []Summary
}

// Manager keeps one Registry per connector interface, so V1 and V2 connectors
// are registered and looked up side by side.
type Manager struct {
	mu         sync.RWMutex
	registries map[reflect.Type]any
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{registries: make(map[reflect.Type]any)}
}

// RegistryFor returns the registry for connectors of type C, creating it on first use.
func RegistryFor[C any](m *Manager) *Registry[C] {
	typ := reflect.TypeOf((*C)(nil)).Elem()

	m.mu.RLock()
	existing, ok := m.registries[typ]
	m.mu.RUnlock()
	if ok {
		return existing.(*Registry[C])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.registries[typ]; ok {
		return existing.(*Registry[C])
	}
	r := NewRegistry[C](generationOf(typ))
	m.registries[typ] = r
	return r
}

func generationOf(typ reflect.Type) connector.Generation {
	switch typ {
	case reflect.TypeOf((*connector.V1)(nil)).Elem():
		return connector.GenerationV1
	case reflect.TypeOf((*connector.V2)(nil)).Elem():
		return connector.GenerationV2
	}
	return ""
}

// Register adds conn to the registry of C.
func Register[C any](m *Manager, name string, conn C, settings map[string]any) error {
	return RegistryFor[C](m).Register(name, conn, settings)
}

// Lookup returns the connector of type C registered under name.
func Lookup[C any](m *Manager, name string) (Registration[C], error) {
	return RegistryFor[C](m).Get(name)
}

// Unregister removes name from the registry of C.
func Unregister[C any](m *Manager, name string) error {
	return RegistryFor[C](m).Remove(name)
}

// Names lists the names registered for C.
func Names[C any](m *Manager) []string {
	return RegistryFor[C](m).List()
}

// Registrations lists every registration of every generation, ordered by name and then generation.
func (m *Manager) Registrations() []Summary {
	m.mu.RLock()
	var out []Summary
	for _, r := range m.registries {
		out = append(out, r.(summarizer).summaries()...)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Generation < out[j].Generation
	})
	return out
}

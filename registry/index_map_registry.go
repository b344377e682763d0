/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/suparena/plmconnector/errors"
)

var (
	indexMaps   = make(map[reflect.Type]map[string]string)
	indexMapsMu sync.RWMutex
)

// RegisterIndexMap associates the item type T with its key templates (PK, SK, GSI1PK, ...).
// Registering the same type again replaces the templates.
func RegisterIndexMap[T any](idxMap map[string]string) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	cp := make(map[string]string, len(idxMap))
	for k, v := range idxMap {
		cp[k] = v
	}

	indexMapsMu.Lock()
	defer indexMapsMu.Unlock()
	indexMaps[t] = cp
}

// GetIndexMap returns the key templates registered for T.
func GetIndexMap[T any]() (map[string]string, bool) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	indexMapsMu.RLock()
	defer indexMapsMu.RUnlock()
	m, ok := indexMaps[t]
	return m, ok
}

// IndexMapFor is GetIndexMap with an ErrNoIndexMap error for unregistered types.
func IndexMapFor[T any]() (map[string]string, error) {
	m, ok := GetIndexMap[T]()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoIndexMap, reflect.TypeOf((*T)(nil)).Elem())
	}
	return m, nil
}

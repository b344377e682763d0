/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EntityTypeAttribute is the item attribute naming the registered type of an item.
const EntityTypeAttribute = "EntityType"

// UnmarshalFunc decodes a raw DynamoDB item.
type UnmarshalFunc func(item map[string]types.AttributeValue) (any, error)

var (
	decoders   = make(map[string]UnmarshalFunc)
	decodersMu sync.RWMutex
)

// RegisterType registers the decoder for items whose EntityType is entityType.
// It panics when entityType is already registered.
func RegisterType(entityType string, fn UnmarshalFunc) {
	decodersMu.Lock()
	defer decodersMu.Unlock()

	if _, exists := decoders[entityType]; exists {
		panic(fmt.Sprintf("type registry: %q already registered", entityType))
	}
	decoders[entityType] = fn
}

// GetUnmarshalFunc returns the decoder registered for entityType.
func GetUnmarshalFunc(entityType string) (UnmarshalFunc, error) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()

	fn, ok := decoders[entityType]
	if !ok {
		return nil, fmt.Errorf("type registry: no type registered for %q", entityType)
	}
	return fn, nil
}

// Unmarshal decodes item with the decoder selected by its EntityType attribute.
func Unmarshal(item map[string]types.AttributeValue) (any, error) {
	attr, ok := item[EntityTypeAttribute]
	if !ok {
		return nil, fmt.Errorf("item has no %s attribute", EntityTypeAttribute)
	}
	var entityType string
	if err := attributevalue.Unmarshal(attr, &entityType); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", EntityTypeAttribute, err)
	}

	fn, err := GetUnmarshalFunc(entityType)
	if err != nil {
		return nil, err
	}
	return fn(item)
}

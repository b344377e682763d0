/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

/*
Package registry holds the key templates and decoders used by DynamoDB-backed stores.

Index maps associate a Go item type with the key templates used to build its
single-table keys. Templates reference item fields with {Field} macros:

	registry.RegisterIndexMap[sessionItem](map[string]string{
	    "PK":     "SESSION#{ObjectID}",
	    "SK":     "REV#{Revision}#WS#{WorkspaceID}",
	    "GSI1PK": "WS#{WorkspaceID}",
	    "GSI1SK": "{UpdatedAt}",
	})

Decoders are selected by the EntityType attribute written with every item:

	registry.RegisterType("Session", decodeSession)
	v, err := registry.Unmarshal(item)

Both registries are safe for concurrent use and are normally populated from init.
*/
package registry

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

/*
Package session tracks the host side of the open/save/discard protocol.

Every (workspace, object id, revision) has at most one session. Sessions move
through these states:

	CLOSED --open--> OPEN --save/saveAndDone--> PENDING_SAVE
	PENDING_SAVE --complete--> OPEN      (save)
	PENDING_SAVE --complete--> CLOSED    (saveAndDone)
	PENDING_SAVE --fail--> OPEN
	OPEN --discard--> DISCARDED

A synchronous save passes through PENDING_SAVE within a single call.

Guard decorates any connector.V2 with these rules:

	store := session.NewMemoryStore()
	guarded := session.NewGuard(conn, store, session.WithLogger(logger))

	if err := guarded.Open(ctx, rc, req); err != nil { ... }
	res, err := guarded.SaveAndDone(ctx, rc, obj, saveReq)
	if res.IsPending() {
	    // later, when the datasource reports completion
	    guarded.Resolve(ctx, session.KeyFor(rc, obj.Key()), res.Handle, status)
	}

Records are written with optimistic concurrency, so several hosts may share a Store.
The ddb subpackage provides a DynamoDB-backed Store.
*/
package session

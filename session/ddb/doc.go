/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

/*
Package ddb stores editing sessions in a single DynamoDB table.

Keys are built from the templates in IndexMap:

	PK      SESSION#{ObjectID}
	SK      REV#{Revision}#WS#{WorkspaceID}
	GSI1PK  WS#{WorkspaceID}
	GSI1SK  {UpdatedAt}

Writes are conditional. A new session is only created when no item exists
(attribute_not_exists(PK)) and an update only succeeds when the stored Version
matches the caller's. A failed condition is reported as errors.ConditionFailedError.

Workspace listings page through GSI1 in update order:

	store, err := ddb.NewFromConfig(ctx, cfg.Sessions, logger)
	stale, err := store.ListUpdatedBefore(ctx, workspaceID, time.Now().Add(-8*time.Hour))
*/
package ddb

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package poll tracks connector operations that finish out of band. A pending Result
// is registered with Track; its final status arrives either pushed through Resolve or
// pulled by Await polling the connector's StatusPoller with exponential backoff.
package poll

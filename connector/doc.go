/*
Package connector defines the contract a datasource integration implements and the
host platform calls.

Two generations exist and are kept as separate interfaces so callers target one
explicitly:

	type V1 interface { List, Open, ReadWithMeta, Save, SaveAndDone, Discard }
	type V2 interface { List, Open, RequestRead, ReadWithMeta, Save, SaveAndDone,
	                    Discard, SendMessage, UpdateFileLifecycle }

The host depends only on these capability sets. Implementations are plugged in by
registering them with the root package registry.

Implementations:
  - example: logging stubs for integrators to start from
  - mock: in-memory fake datasource used by tests and the conformance suite

Optional capabilities are discovered by type assertion:

	if p, ok := conn.(connector.StatusPoller); ok {
	    status, err := p.PollStatus(ctx, rc, handle)
	}
*/
package connector

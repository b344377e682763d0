/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

/*
Package host is the calling side of the connector contract.

A Client wraps any connector.V2, usually a session.Guard around the datasource
connector, and applies the host's error policy to every call:

  - BadRequestError reaches the caller unchanged so its message can be shown to the user.
  - UnprocessableEntityError triggers one token refresh and one retry with the new token.
  - Untyped errors of read-only calls are retried with exponential backoff.

Pending results are registered with a poll.Tracker and finished by Await or by a
pushed Resolve. Final statuses of saves are forwarded to the guard, which applies
only the one matching the session's pending save handle:

	guard := session.NewGuard(conn, session.NewMemoryStore())
	tracker := poll.NewTracker(poll.WithResolver(guard.Resolve))
	client := host.NewClient(guard,
		host.WithTracker(tracker),
		host.WithTokenRefresher(refresher),
		host.WithMetrics(host.NewMetrics(prometheus.DefaultRegisterer)),
	)

	res, err := client.Save(ctx, rc, obj, req)
	if err == nil && res.IsPending() {
		status, err = client.Await(ctx, rc, res.Handle)
	}
*/
package host

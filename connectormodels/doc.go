/*
Package connectormodels holds the data shapes passed across the connector boundary.

Every call carries a RequestContext. Objects are addressed by their (id, revision)
pair, exposed as ObjectKey; the revision doubles as an optimistic-concurrency token.

Operations that a datasource may finish later return a Result:

	res, err := conn.RequestRead(ctx, rc, obj)
	if err != nil {
	    return err
	}
	if res.IsPending() {
	    status, err := tracker.Await(ctx, rc, res.Handle, poller)
	    ...
	}

Listing uses 1-based pages; Paginate and PageCount implement the page math shared by
connectors and the conformance suite.
*/
package connectormodels

/*
Package errors provides the error kinds used at the connector contract boundary.

Two kinds are part of the contract itself:

	BadRequestError          // 400, message shown verbatim in the host UI
	UnprocessableEntityError // 422, no message; the host refreshes the token and retries once

The remaining kinds are used by the fake datasource, the session guard and the
session stores:

	var (
	    ErrNotFound        = errors.New("entity not found")
	    ErrAlreadyExists   = errors.New("entity already exists")
	    ErrInvalidInput    = errors.New("invalid input")
	    ErrConditionFailed = errors.New("condition check failed")
	    ErrLockConflict    = errors.New("lock conflict")
	    ErrInvalidState    = errors.New("invalid lifecycle state")
	    ErrNoIndexMap      = errors.New("no index map found for type")
	)

Usage:

	rc, meta, err := conn.ReadWithMeta(ctx, reqCtx, obj)
	if err != nil {
	    switch {
	    case errors.IsBadRequest(err):
	        return ui.Show(err.Error())
	    case errors.IsUnprocessableEntity(err):
	        return refreshAndRetry()
	    }
	    return err
	}

Every typed error implements StatusCoder, and StatusCode(err) walks the chain so
wrapped errors keep their status.
*/
package errors

/*
Package plmconnector defines the contract between the EV host and the PLM and PDM
systems it integrates with, and the host-side plumbing around it.

The contract comes in two generations:
  - connector.V1, the PLM contract keyed by raw (id, revision) pairs
  - connector.V2, the EV contract with full object definitions, content-carrying
    saves and pending results

Integrators implement one of them (see connector/example for skeletons) and the host
registers the implementation with a Manager. Registration validates the workspace
settings against the schema the connector declares:

	m := plmconnector.NewManager()
	err := plmconnector.Register[connector.V2](m, "acme-pdm", acme.New(logger), map[string]any{
		"url": "https://pdm.acme.example",
	})

	reg, _ := plmconnector.Lookup[connector.V2](m, "acme-pdm")
	rc := reg.NewRequestContext(userID, workspaceID, token)

Calls are then made through host.Client, usually wrapped around a session.Guard that
enforces the open, save and discard lifecycle per (id, revision). The conformance
package checks any V2 implementation against the protocol rules.
*/
package plmconnector

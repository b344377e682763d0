/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package conformance is a reusable test suite for connector.V2 implementations.
//
// An implementation exposes a Fixture over the datasource it talks to and calls Run
// from its own tests:
//
//	func TestConformance(t *testing.T) {
//		conformance.Run(t, conformance.Harness{
//			New: func(t *testing.T) conformance.Subject {
//				d := mock.New()
//				return conformance.Subject{Connector: d, Fixture: d}
//			},
//		})
//	}
package conformance

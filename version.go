/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package plmconnector

import (
	"runtime"

	"github.com/suparena/plmconnector/connector"
)

// Set with -ldflags "-X github.com/suparena/plmconnector.GitCommit=..."
var (
	// Version of the connector contract module
	Version = "2.1.0"

	GitCommit = "unknown"
	BuildDate = "unknown"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version     string                 `json:"version"`
	GitCommit   string                 `json:"gitCommit"`
	BuildDate   string                 `json:"buildDate"`
	GoVersion   string                 `json:"goVersion"`
	Generations []connector.Generation `json:"generations"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:     Version,
		GitCommit:   GitCommit,
		BuildDate:   BuildDate,
		GoVersion:   runtime.Version(),
		Generations: []connector.Generation{connector.GenerationV1, connector.GenerationV2},
	}
}

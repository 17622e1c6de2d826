// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the PM simulator. The variables are
// set at link time with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   version,
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

// String formats the version information for --version
func (v VersionInfo) String() string {
	ver := v.Version
	if ver == "" {
		ver = "devel"
	}
	return fmt.Sprintf("pmsim %s (branch: %s, commit: %s, built: %s) %s %s/%s",
		ver, v.GitBranch, v.GitCommit, v.BuildTime, v.GoVersion, v.GoOS, v.GoArch)
}

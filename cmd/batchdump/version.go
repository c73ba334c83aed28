// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package main

const unknownVersion = "version unknown"

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = unknownVersion

func isVersionKnown() bool {
	return Version != unknownVersion
}

func versionString() string {
	return "batchdump " + Version
}

func init() {
	cmdMain.Version = Version
	cmdMain.SetVersionTemplate(versionString() + "\n")
}

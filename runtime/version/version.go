// Package version executes and returns the version string
// of the running binary.
package version

import (
	"fmt"
	"runtime"
)

// The value of these vars are set through linker options.
var gitCommit = "Local build"
var buildDate = "Moments ago"

// Version returns the version string of this build.
func Version() string {
	return fmt.Sprintf("Pinner/%s. Built at: %s. Go version: %s", gitCommit, buildDate, runtime.Version())
}

package common

import (
	"fmt"
	"runtime"
)

// Build identity, overridden at release time via
// -ldflags "-X .../cmd/common.Version=... -X .../cmd/common.Commit=...".
var (
	Version = "0.0.0-dev"
	Commit  = "dev"
)

// FullVersion returns the version with build and toolchain details, for
// banners and the version subcommand.
func FullVersion(appName string) string {
	return fmt.Sprintf("%s %s (%s, %s %s/%s)",
		appName, Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Package version carries the build identification stamped into the
// sentinel binaries at link time (-ldflags "-X ...") and reported by the
// --version flag and the /api/version endpoint.
package version

var (
	// Version is the release version, "dev" for unstamped builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

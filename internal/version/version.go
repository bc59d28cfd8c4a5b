package version

// Version is the current version of the argo-stream library.
// This value is set at build time using ldflags:
// -ldflags "-X github.com/rxtech-lab/argo-stream/internal/version.Version=1.2.3"
// The value "main" indicates a development build.
var Version = "v0.4.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// UserAgent returns the User-Agent header value sent on every feed connection.
func UserAgent() string {
	canonical, err := Canonical(Version)
	if err != nil {
		return "argo-stream/dev"
	}

	return "argo-stream/" + canonical
}

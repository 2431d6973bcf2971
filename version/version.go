// Package version holds build identity for the resident image, logged once
// at boot so a unit pulled for debugging can be matched back to the build
// that produced it.
package version

// Build information, injected via ldflags at link time — must not have
// default values, so a binary built without -ldflags is visibly unstamped
// rather than silently looking like a real release.
var (
	Version   string
	GitSHA    string
	BuildDate string
)

// BuildMarker changes on every firmware revision that alters the marker
// page layout, so iapboot's boot log can catch a mismatched flash/markers
// pairing during bring-up.
const BuildMarker = "iap-core-001"

// Package version provides the identification string dfd servers and
// clients log at startup. It is not sent on the wire.
package version

var (
	// ClientVersion identifies this build. Update it when wire-visible
	// behaviour changes in a way other nodes could care about.
	ClientVersion string
	// UserAgent is logged on server and client startup, mirroring
	// ClientVersion.
	UserAgent string
)

func init() {
	ClientVersion = "dfd/0.1.0"
	UserAgent = "dfd/0.1.0"
}

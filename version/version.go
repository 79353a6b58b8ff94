package version

// Set at build time with -ldflags "-X github.com/AI-driven-ST-Foundation/agent/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func String() string {
	return Version + " (commit " + Commit + ", built " + BuildDate + ")"
}

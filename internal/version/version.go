// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release version.
	Version = ""
	// Commit is the git commit hash.
	Commit = ""
)

// String renders the stamped version, falling back to "dev" for local
// builds.
func String() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	if Commit == "" {
		return v
	}
	return v + " (" + shortCommit(Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

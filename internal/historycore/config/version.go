package config

var (
	// Version is the historycore version number, injected at build time.
	Version = "0.0.0"

	// CommitHash is the git commit historycore was built from, injected
	// at build time.
	CommitHash = ""

	// Branch is the git branch historycore was built from, injected at
	// build time.
	Branch = ""
)

package version

import (
	"fmt"
	"strings"
)

const versionDev = "dev"

// Injected at build time with -ldflags "-X github.com/replicate/rget/pkg/version.<Name>=<value>".
var (
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// GetVersion describes the running build, e.g. "v1.2.0(abc123)-rc1[feature]/linux-amd64". Builds
// without an injected version report "dev".
func GetVersion() string {
	if Version == "" || Version == versionDev {
		return versionDev
	}
	return describe(build{
		version:    Version,
		commit:     CommitHash,
		prerelease: Prerelease,
		snapshot:   Snapshot == "true",
		os:         OS,
		arch:       Arch,
		branch:     Branch,
	})
}

type build struct {
	version    string
	commit     string
	prerelease string
	snapshot   bool
	os         string
	arch       string
	branch     string
}

func describe(b build) string {
	var sb strings.Builder
	sb.WriteString(b.version)
	if b.commit != "" {
		fmt.Fprintf(&sb, "(%s)", b.commit)
	}
	switch {
	case b.prerelease != "":
		sb.WriteString("-" + b.prerelease)
	case b.snapshot:
		sb.WriteString("-snapshot")
	}
	// release branches are not worth mentioning
	if b.branch != "" && b.branch != "main" && b.branch != "HEAD" {
		fmt.Fprintf(&sb, "[%s]", b.branch)
	}
	if b.os != "" {
		sb.WriteString("/" + b.os)
		if b.arch != "" {
			sb.WriteString("-" + b.arch)
		}
	}
	return sb.String()
}

// UserAgent is sent with every request rget makes.
func UserAgent() string {
	return fmt.Sprintf("rget/%s", GetVersion())
}

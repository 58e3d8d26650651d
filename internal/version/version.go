package version

import "fmt"

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the one-line form printed by --version.
func (info VersionInfo) String() string {
	if info.Version == "" || info.Version == "dev" {
		return "watchreload dev"
	}
	out := fmt.Sprintf("watchreload version %s", info.Version)
	if info.GitCommit != "" {
		out += fmt.Sprintf(" (%s)", info.GitCommit)
	}
	return out
}

// Package version хранит сведения о сборке checkout-service.
// Значения задаются через -ldflags "-X .../internal/version.version=...",
// иначе берутся из debug.BuildInfo.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build сведения о текущем бинаре.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		b := fromBuildInfo(Build{Version: version, Commit: commit, Date: date}, info)
		version, commit, date = b.Version, b.Commit, b.Date
	}
}

// fromBuildInfo дополняет незаданные через ldflags поля данными VCS.
func fromBuildInfo(b Build, info *debug.BuildInfo) Build {
	if b.Commit == "unknown" {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				b.Commit = setting.Value
			case "vcs.time":
				b.Date = setting.Value
			}
		}
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	return b
}

// Current возвращает сведения о сборке.
func Current() Build { return Build{Version: version, Commit: commit, Date: date} }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("checkout-service %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
